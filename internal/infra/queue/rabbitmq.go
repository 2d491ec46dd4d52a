package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"tg-channel-sync/internal/domain"
	"tg-channel-sync/internal/infra/metrics"
)

// RabbitJobQueue реализует очередь задач через AMQP.
type RabbitJobQueue struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string

	once       sync.Once
	deliveries <-chan amqp.Delivery
	consumeErr error
}

var _ domain.JobQueue = (*RabbitJobQueue)(nil)

// NewRabbitJobQueue подключается к брокеру и объявляет долговечную очередь.
func NewRabbitJobQueue(url, queue string) (*RabbitJobQueue, error) {
	if url == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	// Одна задача за раз: синхронизация и рассылка делят один MTProto-аккаунт.
	if err := ch.Qos(1, 0, false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	return &RabbitJobQueue{conn: conn, ch: ch, queue: queue}, nil
}

// Close закрывает соединение.
func (q *RabbitJobQueue) Close() error {
	return q.conn.Close()
}

// Enqueue публикует задачу.
func (q *RabbitJobQueue) Enqueue(ctx context.Context, job domain.Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	start := time.Now()
	err = q.ch.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID,
		Timestamp:    time.Now().UTC(),
		Body:         payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", q.queue, start, err)
	if err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

// Receive блокирующе читает задачу. ack(false) возвращает её брокеру.
func (q *RabbitJobQueue) Receive(ctx context.Context) (domain.Job, domain.AckFunc, error) {
	q.once.Do(func() {
		q.deliveries, q.consumeErr = q.ch.Consume(q.queue, "", false, false, false, false, nil)
	})
	if q.consumeErr != nil {
		return domain.Job{}, nil, fmt.Errorf("consume: %w", q.consumeErr)
	}
	for {
		select {
		case <-ctx.Done():
			return domain.Job{}, nil, ctx.Err()
		case d, ok := <-q.deliveries:
			if !ok {
				return domain.Job{}, nil, errors.New("amqp channel closed")
			}
			var job domain.Job
			if err := json.Unmarshal(d.Body, &job); err != nil {
				_ = d.Nack(false, false)
				return domain.Job{}, nil, fmt.Errorf("decode job: %w", err)
			}
			delivery := d
			return job, func(success bool) error {
				if success {
					return delivery.Ack(false)
				}
				return delivery.Nack(false, true)
			}, nil
		}
	}
}
