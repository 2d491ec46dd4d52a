package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"tg-channel-sync/internal/adapters/mtproto"
	"tg-channel-sync/internal/domain"
	"tg-channel-sync/internal/infra/metrics"
)

const (
	penaltyKey    = "tgsync:penalty_until"
	stopKeyPrefix = "tgsync:stop:"
	peerKeyPrefix = "tgsync:peers:"

	stopTTL = 24 * time.Hour
)

// extendPenaltyScript продлевает штраф только вперёд.
var extendPenaltyScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local candidate = tonumber(ARGV[1])
if candidate > current then
    redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
    return 1
end
return 0
`)

// RedisCache хранит общее состояние процессов: штраф платформы, сигналы остановки и access hash.
type RedisCache struct {
	client *redis.Client
	now    func() time.Time
}

var (
	_ domain.PenaltyStore = (*RedisCache)(nil)
	_ domain.StopSignals  = (*RedisCache)(nil)
	_ mtproto.PeerCache   = (*RedisCache)(nil)
)

// NewRedis создаёт кэш.
func NewRedis(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, now: time.Now}
}

// PenaltyUntil возвращает момент окончания штрафа; нулевое время, если штрафа нет.
func (c *RedisCache) PenaltyUntil(ctx context.Context) (time.Time, error) {
	start := time.Now()
	raw, err := c.client.Get(ctx, penaltyKey).Result()
	metrics.ObserveNetworkRequest("redis", "get", "penalty", start, err)
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("разбор штрафа: %w", err)
	}
	return time.UnixMilli(ms), nil
}

// ExtendPenalty продлевает штраф до until. Ключ живёт до окончания штрафа.
func (c *RedisCache) ExtendPenalty(ctx context.Context, until time.Time) error {
	ttl := until.Sub(c.now())
	if ttl <= 0 {
		return nil
	}
	start := time.Now()
	err := extendPenaltyScript.Run(ctx, c.client, []string{penaltyKey}, until.UnixMilli(), ttl.Milliseconds()+1000).Err()
	metrics.ObserveNetworkRequest("redis", "eval", "penalty", start, err)
	return err
}

// RequestStop выставляет сигнал остановки.
func (c *RedisCache) RequestStop(ctx context.Context, key string) error {
	return c.client.Set(ctx, stopKeyPrefix+key, "1", stopTTL).Err()
}

// StopRequested проверяет сигнал остановки.
func (c *RedisCache) StopRequested(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, stopKeyPrefix+key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ClearStop снимает сигнал остановки.
func (c *RedisCache) ClearStop(ctx context.Context, key string) error {
	return c.client.Del(ctx, stopKeyPrefix+key).Err()
}

// AccessHash возвращает сохранённый access hash пира.
func (c *RedisCache) AccessHash(ctx context.Context, kind mtproto.PeerKind, id int64) (int64, bool, error) {
	start := time.Now()
	hash, err := c.client.HGet(ctx, peerKeyPrefix+string(kind), strconv.FormatInt(id, 10)).Int64()
	metrics.ObserveNetworkRequest("redis", "hget", "peers", start, err)
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return hash, true, nil
}

// StoreAccessHashes сохраняет access hash пиров одной командой.
func (c *RedisCache) StoreAccessHashes(ctx context.Context, kind mtproto.PeerKind, hashes map[int64]int64) error {
	if len(hashes) == 0 {
		return nil
	}
	values := make(map[string]any, len(hashes))
	for id, hash := range hashes {
		values[strconv.FormatInt(id, 10)] = hash
	}
	start := time.Now()
	err := c.client.HSet(ctx, peerKeyPrefix+string(kind), values).Err()
	metrics.ObserveNetworkRequest("redis", "hset", "peers", start, err)
	return err
}
