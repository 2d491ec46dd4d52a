package domain

import (
	"context"
	"time"
)

// BusinessMetric описывает бизнесовое событие, которое сохраняется для последующего анализа.
type BusinessMetric struct {
	Event      string
	UserID     *int64
	ChannelID  *int64
	Metadata   map[string]any
	OccurredAt time.Time
}

const (
	// BusinessMetricEventChannelRegistered фиксирует подключение канала.
	BusinessMetricEventChannelRegistered = "channel_registered"
	// BusinessMetricEventSyncRequested фиксирует постановку синхронизации в очередь.
	BusinessMetricEventSyncRequested = "sync_requested"
	// BusinessMetricEventSyncCompleted фиксирует завершение синхронизации.
	BusinessMetricEventSyncCompleted = "sync_completed"
	// BusinessMetricEventSubscriberJoined и BusinessMetricEventSubscriberLeft фиксируют живые события подписки.
	BusinessMetricEventSubscriberJoined = "subscriber_joined"
	BusinessMetricEventSubscriberLeft   = "subscriber_left"
	// BusinessMetricEventMailingStarted фиксирует начало рассылки.
	BusinessMetricEventMailingStarted = "mailing_started"
	// BusinessMetricEventMailingFinished фиксирует завершение или отмену рассылки.
	BusinessMetricEventMailingFinished = "mailing_finished"
)

// BusinessMetricRepo сохраняет бизнесовые события.
type BusinessMetricRepo interface {
	RecordBusinessMetric(ctx context.Context, metric BusinessMetric) error
}
