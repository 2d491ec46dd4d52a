package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tg-channel-sync/internal/domain"
)

type channelLister interface {
	ListChannels(ctx context.Context) ([]domain.Channel, error)
}

type syncScheduler struct {
	channels channelLister
	jobs     domain.JobQueue
	log      zerolog.Logger
	now      func() time.Time
}

// scheduledJobID одинаков для всех реплик планировщика в пределах минуты,
// поэтому воркер выполнит задачу один раз.
func scheduledJobID(channelID int64, at time.Time) string {
	return fmt.Sprintf("scheduled:%d:%d", channelID, at.UTC().Truncate(time.Minute).Unix())
}

// Tick ставит инкрементальную синхронизацию для каждого зарегистрированного канала.
func (s *syncScheduler) Tick(ctx context.Context) (int, error) {
	list, err := s.channels.ListChannels(ctx)
	if err != nil {
		return 0, fmt.Errorf("получение каналов: %w", err)
	}
	now := s.now()
	enqueued := 0
	for _, ch := range list {
		job := domain.Job{
			ID:          scheduledJobID(ch.TGChannelID, now),
			Kind:        domain.JobSyncIncremental,
			ChannelID:   ch.TGChannelID,
			RequestedAt: now,
			Cause:       domain.JobCauseScheduled,
		}
		if err := s.jobs.Enqueue(ctx, job); err != nil {
			s.log.Error().Err(err).Int64("channel", ch.TGChannelID).Msg("scheduler: не удалось поставить синхронизацию")
			continue
		}
		enqueued++
	}
	return enqueued, nil
}
