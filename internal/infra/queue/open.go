package queue

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"tg-channel-sync/internal/domain"
)

const (
	BackendRedis    = "redis"
	BackendRabbitMQ = "rabbitmq"
)

// Open выбирает реализацию очереди задач по имени бэкенда.
// Возвращаемая функция освобождает соединение брокера.
func Open(backend string, client *redis.Client, rabbitURL, key string) (domain.JobQueue, func() error, error) {
	switch backend {
	case "", BackendRedis:
		if client == nil {
			return nil, nil, fmt.Errorf("очередь %q требует Redis", key)
		}
		return NewRedisJobQueue(client, key), func() error { return nil }, nil
	case BackendRabbitMQ:
		q, err := NewRabbitJobQueue(rabbitURL, key)
		if err != nil {
			return nil, nil, err
		}
		return q, q.Close, nil
	default:
		return nil, nil, fmt.Errorf("неизвестный бэкенд очереди %q", backend)
	}
}
