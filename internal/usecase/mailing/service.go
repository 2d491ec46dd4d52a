package mailing

import (
	"context"
	"fmt"
	"time"

	"tg-channel-sync/internal/domain"
	"tg-channel-sync/internal/usecase/delivery"
)

const defaultProgressEvery = 10

// Dispatcher отправляет сообщения от имени сервиса.
type Dispatcher interface {
	SendBulkMessages(ctx context.Context, userIDs []int64, text string, opts domain.SendOptions, randomizeOrder bool, progress delivery.ProgressFunc) domain.MailingStats
	Stop()
}

// Service выполняет рассылки по подписчикам поверх планировщика.
type Service struct {
	*Planner
	dispatcher    Dispatcher
	metricsRepo   domain.BusinessMetricRepo
	progressEvery int
}

// NewService создаёт сервис рассылок. metricsRepo может быть nil.
func NewService(dispatcher Dispatcher, planner *Planner, metricsRepo domain.BusinessMetricRepo) *Service {
	return &Service{
		Planner:       planner,
		dispatcher:    dispatcher,
		metricsRepo:   metricsRepo,
		progressEvery: defaultProgressEvery,
	}
}

// Run выполняет рассылку. Завершённая или прерванная сбоем рассылка повторно не отправляется.
func (s *Service) Run(ctx context.Context, mailingID int64) (domain.MailingStats, error) {
	m, err := s.mailings.GetMailing(ctx, mailingID)
	if err != nil {
		return domain.MailingStats{}, fmt.Errorf("получение рассылки: %w", err)
	}
	if m.Status.Finished() {
		s.logger.Info().Int64("mailing_id", mailingID).Str("status", string(m.Status)).Msg("mailing: рассылка уже завершена")
		return m.Stats, nil
	}
	if m.Status == domain.MailingStatusSending {
		return s.closeInterrupted(ctx, m)
	}

	recipients, err := s.Recipients(ctx, m.ChannelID, m.Audience)
	if err != nil {
		return domain.MailingStats{}, err
	}
	if len(recipients) == 0 {
		if err := s.mailings.UpdateMailingProgress(ctx, m.ID, domain.MailingStatusDone, domain.MailingStats{}); err != nil {
			return domain.MailingStats{}, fmt.Errorf("завершение рассылки: %w", err)
		}
		return domain.MailingStats{}, ErrEmptyAudience
	}

	key := StopKey(m.ID)
	if s.stops != nil {
		if err := s.stops.ClearStop(ctx, key); err != nil {
			s.logger.Warn().Err(err).Msg("mailing: не удалось сбросить сигнал остановки")
		}
	}
	if err := s.mailings.UpdateMailingProgress(ctx, m.ID, domain.MailingStatusSending, domain.MailingStats{}); err != nil {
		return domain.MailingStats{}, fmt.Errorf("старт рассылки: %w", err)
	}
	s.record(ctx, domain.BusinessMetricEventMailingStarted, m, map[string]any{"recipients": len(recipients), "audience": string(m.Audience)})

	progress := func(ctx context.Context, done, planned int, stats domain.MailingStats) error {
		if s.stopRequested(ctx, key) {
			s.logger.Info().Int64("mailing_id", m.ID).Int("done", done).Msg("mailing: получен сигнал остановки")
			s.dispatcher.Stop()
		}
		if done%s.progressEvery != 0 && done != planned {
			return nil
		}
		return s.mailings.UpdateMailingProgress(ctx, m.ID, domain.MailingStatusSending, stats)
	}

	stats := s.dispatcher.SendBulkMessages(ctx, recipients, m.Text, domain.SendOptions{}, true, progress)

	status := domain.MailingStatusDone
	if stats.Interrupted {
		status = domain.MailingStatusCancelled
	}
	// контекст мог быть отменён, итог всё равно нужно сохранить
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.mailings.UpdateMailingProgress(saveCtx, m.ID, status, stats); err != nil {
		return stats, fmt.Errorf("сохранение итогов рассылки: %w", err)
	}
	s.record(saveCtx, domain.BusinessMetricEventMailingFinished, m, map[string]any{
		"status":  string(status),
		"total":   stats.Total,
		"sent":    stats.Sent,
		"blocked": stats.Blocked,
		"failed":  stats.Failed,
	})
	s.logger.Info().
		Int64("mailing_id", m.ID).
		Str("status", string(status)).
		Int("total", stats.Total).
		Int("sent", stats.Sent).
		Float64("success_rate", stats.SuccessRate()).
		Msg("mailing: рассылка завершена")
	return stats, nil
}

// closeInterrupted закрывает рассылку, прерванную сбоем процесса, с сохранённым прогрессом.
// Повторный запуск разослал бы сообщения второй раз.
func (s *Service) closeInterrupted(ctx context.Context, m domain.Mailing) (domain.MailingStats, error) {
	stats := m.Stats
	stats.Interrupted = true
	if err := s.mailings.UpdateMailingProgress(ctx, m.ID, domain.MailingStatusCancelled, stats); err != nil {
		return domain.MailingStats{}, fmt.Errorf("закрытие прерванной рассылки: %w", err)
	}
	s.record(ctx, domain.BusinessMetricEventMailingFinished, m, map[string]any{
		"status": string(domain.MailingStatusCancelled),
		"total":  stats.Total,
		"sent":   stats.Sent,
	})
	s.logger.Warn().
		Int64("mailing_id", m.ID).
		Int("total", stats.Total).
		Int("sent", stats.Sent).
		Msg("mailing: рассылка была прервана, повторно не отправляем")
	return stats, nil
}

func (s *Service) record(ctx context.Context, event string, m domain.Mailing, meta map[string]any) {
	if s.metricsRepo == nil {
		return
	}
	channelID := m.ChannelID
	createdBy := m.CreatedBy
	if meta == nil {
		meta = map[string]any{}
	}
	meta["mailing_id"] = m.ID
	metric := domain.BusinessMetric{
		Event:      event,
		UserID:     &createdBy,
		ChannelID:  &channelID,
		Metadata:   meta,
		OccurredAt: s.now(),
	}
	if err := s.metricsRepo.RecordBusinessMetric(ctx, metric); err != nil {
		s.logger.Warn().Err(err).Str("event", event).Msg("mailing: не удалось сохранить бизнес-метрику")
	}
}
