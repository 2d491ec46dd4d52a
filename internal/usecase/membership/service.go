package membership

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tg-channel-sync/internal/domain"
	"tg-channel-sync/internal/infra/metrics"
)

const defaultStopPoll = 2 * time.Second

// ErrNoStopSignals возвращается, если сервис собран без хранилища сигналов остановки.
var ErrNoStopSignals = errors.New("сигналы остановки не настроены")

// ErrNoParser возвращается при попытке синхронизации в процессе без MTProto-клиента.
var ErrNoParser = errors.New("синхронизация недоступна без MTProto-клиента")

// Parser перечисляет участников канала для сервиса.
type Parser interface {
	ParseFull(ctx context.Context, channelID int64) ([]domain.Member, domain.ParsingStats, error)
	ParseIncremental(ctx context.Context, channelID int64, known domain.KnownSet, batchSize int) (domain.SyncDelta, domain.ParsingStats, error)
	Stop()
}

// Service применяет результаты синхронизации и живые события к хранилищу подписчиков.
type Service struct {
	parser      Parser
	subscribers domain.SubscriberRepo
	stops       domain.StopSignals
	metricsRepo domain.BusinessMetricRepo
	batchSize   int
	stopPoll    time.Duration
	now         func() time.Time
	logger      zerolog.Logger
}

// NewService создаёт сервис синхронизации подписчиков. parser может быть nil в процессах,
// которые только принимают живые события; stops и metricsRepo могут быть nil.
func NewService(parser Parser, subscribers domain.SubscriberRepo, stops domain.StopSignals, metricsRepo domain.BusinessMetricRepo, batchSize int, logger zerolog.Logger) *Service {
	return &Service{
		parser:      parser,
		subscribers: subscribers,
		stops:       stops,
		metricsRepo: metricsRepo,
		batchSize:   batchSize,
		stopPoll:    defaultStopPoll,
		now:         time.Now,
		logger:      logger.With().Str("component", "membership.service").Logger(),
	}
}

// StopKey возвращает ключ сигнала остановки синхронизации канала.
func StopKey(channelID int64) string {
	return fmt.Sprintf("sync:%d", channelID)
}

// SyncFull выполняет полный проход и приводит хранилище к снимку.
// Ушедшие отмечаются только если проход не был прерван.
func (s *Service) SyncFull(ctx context.Context, channelID int64) (domain.ParsingStats, error) {
	if s.parser == nil {
		return domain.ParsingStats{}, ErrNoParser
	}
	defer s.watchStop(ctx, channelID)()
	members, stats, err := s.parser.ParseFull(ctx, channelID)
	if err != nil {
		return stats, fmt.Errorf("полный проход: %w", err)
	}
	records, err := s.subscribers.ListSubscribers(ctx, channelID)
	if err != nil {
		return stats, fmt.Errorf("получение подписчиков: %w", err)
	}
	tr := Plan(records, members, !stats.Interrupted)
	return s.apply(ctx, "full", channelID, tr, stats)
}

// SyncIncremental добавляет новых подписчиков и обновляет изменившиеся профили.
func (s *Service) SyncIncremental(ctx context.Context, channelID int64) (domain.ParsingStats, error) {
	if s.parser == nil {
		return domain.ParsingStats{}, ErrNoParser
	}
	records, err := s.subscribers.ListSubscribers(ctx, channelID)
	if err != nil {
		return domain.ParsingStats{}, fmt.Errorf("получение подписчиков: %w", err)
	}
	defer s.watchStop(ctx, channelID)()
	delta, stats, err := s.parser.ParseIncremental(ctx, channelID, domain.NewKnownSetFromRecords(records), s.batchSize)
	if err != nil {
		return stats, fmt.Errorf("инкрементальный проход: %w", err)
	}
	return s.apply(ctx, "incremental", channelID, PlanDelta(records, delta), stats)
}

// RequestStop просит прервать синхронизацию канала, в том числе выполняющуюся в другом процессе.
// Полный проход после остановки не отмечает отписки.
func (s *Service) RequestStop(ctx context.Context, channelID int64) error {
	if s.stops == nil {
		return ErrNoStopSignals
	}
	if err := s.stops.RequestStop(ctx, StopKey(channelID)); err != nil {
		return fmt.Errorf("сигнал остановки синхронизации: %w", err)
	}
	return nil
}

// watchStop сбрасывает старый сигнал остановки и до возврата из прохода опрашивает новый.
// Возвращает функцию, которая завершает опрос.
func (s *Service) watchStop(ctx context.Context, channelID int64) func() {
	if s.stops == nil {
		return func() {}
	}
	key := StopKey(channelID)
	if err := s.stops.ClearStop(ctx, key); err != nil {
		s.logger.Warn().Err(err).Int64("channel_id", channelID).Msg("membership: не удалось сбросить сигнал остановки")
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(s.stopPoll)
		defer ticker.Stop()
		logged := false
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			requested, err := s.stops.StopRequested(ctx, key)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Warn().Err(err).Int64("channel_id", channelID).Msg("membership: не удалось проверить сигнал остановки")
				}
				continue
			}
			if !requested {
				continue
			}
			// проход мог ещё не начаться, поэтому Stop повторяется до его завершения
			if !logged {
				s.logger.Info().Int64("channel_id", channelID).Msg("membership: получен сигнал остановки")
				logged = true
			}
			s.parser.Stop()
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (s *Service) apply(ctx context.Context, mode string, channelID int64, tr domain.Transitions, stats domain.ParsingStats) (domain.ParsingStats, error) {
	if !tr.Empty() {
		added, updated, err := s.subscribers.ApplyTransitions(ctx, channelID, tr, s.now())
		if err != nil {
			return stats, fmt.Errorf("сохранение изменений: %w", err)
		}
		stats = stats.WithStored(added, updated)
	}
	metrics.ObserveSync(mode, stats.WithUsername, stats.WithoutUsername, stats.BotsCount, time.Duration(stats.DurationSeconds()*float64(time.Second)))

	s.logger.Info().
		Str("mode", mode).
		Int64("channel_id", channelID).
		Int("total", stats.TotalProcessed).
		Int("added", stats.Added).
		Int("updated", stats.Updated).
		Int("left", len(tr.MarkLeft)).
		Msg("membership: синхронизация применена")

	s.record(ctx, domain.BusinessMetricEventSyncCompleted, channelID, nil, map[string]any{
		"mode":        mode,
		"total":       stats.TotalProcessed,
		"added":       stats.Added,
		"updated":     stats.Updated,
		"left":        len(tr.MarkLeft),
		"bots":        stats.BotsCount,
		"interrupted": stats.Interrupted,
	})
	return stats, nil
}

// MemberJoined фиксирует подписку по живому событию.
func (s *Service) MemberJoined(ctx context.Context, channelID int64, m domain.Member) error {
	if m.IsBot {
		return nil
	}
	created, err := s.subscribers.AddSubscriber(ctx, channelID, m, s.now())
	if err != nil {
		return fmt.Errorf("добавление подписчика: %w", err)
	}
	userID := m.UserID
	s.record(ctx, domain.BusinessMetricEventSubscriberJoined, channelID, &userID, map[string]any{"new": created})
	return nil
}

// MemberLeft фиксирует отписку по живому событию.
func (s *Service) MemberLeft(ctx context.Context, channelID, userID int64) error {
	if err := s.subscribers.MarkLeft(ctx, channelID, userID, s.now()); err != nil {
		return fmt.Errorf("отметка отписки: %w", err)
	}
	s.record(ctx, domain.BusinessMetricEventSubscriberLeft, channelID, &userID, nil)
	return nil
}

// TouchActivity обновляет время последней активности подписчика.
func (s *Service) TouchActivity(ctx context.Context, channelID int64, m domain.Member) error {
	if m.IsBot {
		return nil
	}
	if err := s.subscribers.TouchActivity(ctx, channelID, m, s.now()); err != nil {
		return fmt.Errorf("обновление активности: %w", err)
	}
	return nil
}

// Stats возвращает агрегаты по подписчикам канала.
func (s *Service) Stats(ctx context.Context, channelID int64) (domain.SubscriberStats, error) {
	stats, err := s.subscribers.SubscriberStats(ctx, channelID)
	if err != nil {
		return domain.SubscriberStats{}, fmt.Errorf("статистика подписчиков: %w", err)
	}
	return stats, nil
}

func (s *Service) record(ctx context.Context, event string, channelID int64, userID *int64, meta map[string]any) {
	if s.metricsRepo == nil {
		return
	}
	ch := channelID
	metric := domain.BusinessMetric{
		Event:      event,
		UserID:     userID,
		ChannelID:  &ch,
		Metadata:   meta,
		OccurredAt: s.now(),
	}
	if err := s.metricsRepo.RecordBusinessMetric(ctx, metric); err != nil {
		s.logger.Warn().Err(err).Str("event", event).Msg("membership: не удалось сохранить бизнес-метрику")
	}
}
