package mailing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tg-channel-sync/internal/domain"
	"tg-channel-sync/internal/usecase/ratecontrol"
)

var (
	ErrEmptyText     = errors.New("текст рассылки пуст")
	ErrEmptyAudience = errors.New("нет получателей для рассылки")
	ErrNoStopSignals = errors.New("сигналы остановки не настроены")
)

// Estimator оценивает длительность отправки с учётом пауз.
type Estimator interface {
	Estimate(userCount int, delay *ratecontrol.DelayRange) time.Duration
}

// Planner готовит рассылки и передаёт сигналы остановки. Сам ничего не отправляет,
// поэтому годится для процессов без MTProto-клиента.
type Planner struct {
	estimator   Estimator
	subscribers domain.SubscriberRepo
	mailings    domain.MailingRepo
	stops       domain.StopSignals
	now         func() time.Time
	logger      zerolog.Logger
}

// NewPlanner создаёт планировщик рассылок. stops может быть nil.
func NewPlanner(estimator Estimator, subscribers domain.SubscriberRepo, mailings domain.MailingRepo, stops domain.StopSignals, logger zerolog.Logger) *Planner {
	return &Planner{
		estimator:   estimator,
		subscribers: subscribers,
		mailings:    mailings,
		stops:       stops,
		now:         time.Now,
		logger:      logger.With().Str("component", "mailing").Logger(),
	}
}

// StopKey возвращает ключ сигнала остановки рассылки.
func StopKey(mailingID int64) string {
	return fmt.Sprintf("mailing:%d", mailingID)
}

// Create регистрирует рассылку в статусе pending.
func (p *Planner) Create(ctx context.Context, channelID int64, text string, audience domain.AudienceKind, createdBy int64) (domain.Mailing, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Mailing{}, ErrEmptyText
	}
	m, err := p.mailings.CreateMailing(ctx, domain.Mailing{
		ChannelID: channelID,
		Text:      text,
		Audience:  domain.AudienceFor(audience).Kind,
		Status:    domain.MailingStatusPending,
		CreatedBy: createdBy,
		CreatedAt: p.now(),
	})
	if err != nil {
		return domain.Mailing{}, fmt.Errorf("создание рассылки: %w", err)
	}
	return m, nil
}

// Recipients возвращает получателей для сегмента.
func (p *Planner) Recipients(ctx context.Context, channelID int64, audience domain.AudienceKind) ([]int64, error) {
	a := domain.AudienceFor(audience)
	records, err := p.subscribers.ListActiveSubscribers(ctx, channelID, a.ActiveWithin)
	if err != nil {
		return nil, fmt.Errorf("получение аудитории %s: %w", a.Kind, err)
	}
	ids := make([]int64, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.UserID)
	}
	return ids, nil
}

// Estimate возвращает размер аудитории и ожидаемую длительность рассылки.
func (p *Planner) Estimate(ctx context.Context, channelID int64, audience domain.AudienceKind) (int, time.Duration, error) {
	ids, err := p.Recipients(ctx, channelID, audience)
	if err != nil {
		return 0, 0, err
	}
	return len(ids), p.estimator.Estimate(len(ids), nil), nil
}

// RequestStop передаёт сигнал остановки рассылке, выполняющейся в другом процессе.
func (p *Planner) RequestStop(ctx context.Context, mailingID int64) error {
	if p.stops == nil {
		return ErrNoStopSignals
	}
	if err := p.stops.RequestStop(ctx, StopKey(mailingID)); err != nil {
		return fmt.Errorf("сигнал остановки: %w", err)
	}
	return nil
}

func (p *Planner) stopRequested(ctx context.Context, key string) bool {
	if p.stops == nil {
		return false
	}
	requested, err := p.stops.StopRequested(ctx, key)
	if err != nil {
		p.logger.Warn().Err(err).Msg("mailing: не удалось проверить сигнал остановки")
		return false
	}
	return requested
}
