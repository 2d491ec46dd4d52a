package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"tg-channel-sync/internal/domain"
	"tg-channel-sync/internal/infra/metrics"
)

// RedisJobQueue реализует очередь задач на списках Redis.
// Полученная задача лежит в processing-списке до подтверждения.
type RedisJobQueue struct {
	client     *redis.Client
	key        string
	processing string
	block      time.Duration
}

var _ domain.JobQueue = (*RedisJobQueue)(nil)

// NewRedisJobQueue создаёт очередь по указанному ключу.
func NewRedisJobQueue(client *redis.Client, key string) *RedisJobQueue {
	return &RedisJobQueue{client: client, key: key, processing: key + ":processing", block: time.Second}
}

// Enqueue публикует задачу; пустой идентификатор заполняется UUID.
func (q *RedisJobQueue) Enqueue(ctx context.Context, job domain.Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	start := time.Now()
	err = q.client.LPush(ctx, q.key, payload).Err()
	metrics.ObserveNetworkRequest("redis", "lpush", q.key, start, err)
	if err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

// Receive блокирующе читает задачу. ack(true) удаляет её, ack(false) возвращает в очередь.
func (q *RedisJobQueue) Receive(ctx context.Context) (domain.Job, domain.AckFunc, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.Job{}, nil, err
		}
		raw, err := q.client.BRPopLPush(ctx, q.key, q.processing, q.block).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return domain.Job{}, nil, ctx.Err()
			}
			return domain.Job{}, nil, err
		}

		var job domain.Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			_ = q.client.LRem(context.WithoutCancel(ctx), q.processing, 1, raw).Err()
			return domain.Job{}, nil, fmt.Errorf("decode job: %w", err)
		}
		return job, q.ackFunc(ctx, raw), nil
	}
}

func (q *RedisJobQueue) ackFunc(ctx context.Context, raw string) domain.AckFunc {
	ctx = context.WithoutCancel(ctx)
	return func(success bool) error {
		pipe := q.client.TxPipeline()
		pipe.LRem(ctx, q.processing, 1, raw)
		if !success {
			pipe.RPush(ctx, q.key, raw)
		}
		start := time.Now()
		_, err := pipe.Exec(ctx)
		metrics.ObserveNetworkRequest("redis", "ack", q.key, start, err)
		return err
	}
}

// Recover возвращает в очередь задачи, зависшие в processing после падения воркера.
func (q *RedisJobQueue) Recover(ctx context.Context) (int, error) {
	moved := 0
	for {
		_, err := q.client.RPopLPush(ctx, q.processing, q.key).Result()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, err
		}
		moved++
	}
}
