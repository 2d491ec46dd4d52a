package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tg-channel-sync/internal/domain"
	"tg-channel-sync/internal/infra/metrics"
	"tg-channel-sync/internal/usecase/ratecontrol"
)

// ProgressFunc вызывается после каждой попытки с текущей статистикой.
// Ошибка или паника колбэка не прерывают рассылку.
type ProgressFunc func(ctx context.Context, done, planned int, stats domain.MailingStats) error

// Options задаёт параметры диспетчера.
type Options struct {
	// ThrottleRetries задаёт число повторов отправки одному получателю после штрафа.
	// 0 означает один повтор, отрицательное значение отключает повторы.
	ThrottleRetries int
	Now             func() time.Time
}

// Dispatcher последовательно отправляет личные сообщения с соблюдением темпа платформы.
type Dispatcher struct {
	client  domain.ChannelClient
	rc      *ratecontrol.Controller
	retries int
	now     func() time.Time
	logger  zerolog.Logger

	mu   sync.Mutex
	stop chan struct{}
}

// NewDispatcher создаёт диспетчер поверх авторизованного клиента.
func NewDispatcher(client domain.ChannelClient, rc *ratecontrol.Controller, opts Options, logger zerolog.Logger) *Dispatcher {
	retries := opts.ThrottleRetries
	switch {
	case retries == 0:
		retries = 1
	case retries < 0:
		retries = 0
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Dispatcher{
		client:  client,
		rc:      rc,
		retries: retries,
		now:     opts.Now,
		logger:  logger.With().Str("component", "delivery").Logger(),
	}
}

// SendMessageToUser отправляет одно сообщение и классифицирует исход.
func (d *Dispatcher) SendMessageToUser(ctx context.Context, userID int64, text string, opts domain.SendOptions) domain.DeliveryOutcome {
	outcome := d.send(ctx, userID, text, opts)
	metrics.ObserveDelivery(string(outcome.Kind))
	if !outcome.Success() {
		d.logger.Debug().Int64("user_id", userID).Str("outcome", string(outcome.Kind)).Str("reason", outcome.Reason).Msg("delivery: сообщение не доставлено")
	}
	return outcome
}

func (d *Dispatcher) send(ctx context.Context, userID int64, text string, opts domain.SendOptions) domain.DeliveryOutcome {
	for attempt := 0; ; attempt++ {
		if err := d.rc.Acquire(ctx); err != nil {
			return Classify(err)
		}
		err := d.client.SendDirectMessage(ctx, userID, text, opts)
		wait, throttled := domain.AsThrottle(err)
		if !throttled {
			return Classify(err)
		}
		d.rc.Penalize(ctx, wait)
		if attempt >= d.retries {
			return domain.Failed(ReasonRateLimited)
		}
		d.logger.Info().Int64("user_id", userID).Dur("wait", wait).Msg("delivery: повтор после штрафа платформы")
	}
}

// SendBulkMessages отправляет один текст всем получателям.
func (d *Dispatcher) SendBulkMessages(ctx context.Context, userIDs []int64, text string, opts domain.SendOptions, randomizeOrder bool, progress ProgressFunc) domain.MailingStats {
	order := identity(len(userIDs))
	if randomizeOrder {
		order = d.rc.Strategy().Order(len(userIDs))
	}
	batch := make([]domain.PersonalizedMessage, len(userIDs))
	for i, idx := range order {
		batch[i] = domain.PersonalizedMessage{UserID: userIDs[idx], Text: text, Opts: opts}
	}
	return d.run(ctx, batch, d.rc.Delay(), progress)
}

// SendPersonalizedMessages отправляет каждому получателю свой текст.
// Записи без получателя или текста считаются неуспешными без обращения к сети.
func (d *Dispatcher) SendPersonalizedMessages(ctx context.Context, messages []domain.PersonalizedMessage, delay *ratecontrol.DelayRange, progress ProgressFunc) domain.MailingStats {
	r := d.rc.Delay()
	if delay != nil {
		r = delay.Normalize()
	}
	return d.run(ctx, messages, r, progress)
}

// EstimateDeliveryTime оценивает длительность рассылки.
func (d *Dispatcher) EstimateDeliveryTime(userCount int, delay *ratecontrol.DelayRange) time.Duration {
	return d.rc.Estimate(userCount, delay)
}

// Stop просит текущую рассылку завершиться после текущей попытки. Без активной рассылки ничего не делает.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop == nil {
		return
	}
	select {
	case <-d.stop:
	default:
		close(d.stop)
	}
}

func (d *Dispatcher) run(ctx context.Context, batch []domain.PersonalizedMessage, delay ratecontrol.DelayRange, progress ProgressFunc) domain.MailingStats {
	stop := d.begin()
	defer d.end(stop)

	metrics.MailingsRunning.Inc()
	defer metrics.MailingsRunning.Dec()

	planned := len(batch)
	stats := domain.MailingStats{StartTime: d.now()}
	networkCalls := 0
	for i, m := range batch {
		if stopped(ctx, stop) {
			stats.Interrupted = true
			break
		}
		var outcome domain.DeliveryOutcome
		if m.UserID == 0 || m.Text == "" {
			outcome = domain.Failed(ReasonInvalid)
			metrics.ObserveDelivery(string(outcome.Kind))
		} else {
			if networkCalls > 0 {
				halt, err := d.rc.Pace(ctx, stop, delay, networkCalls)
				if err != nil || halt {
					stats.Interrupted = true
					break
				}
			}
			outcome = d.SendMessageToUser(ctx, m.UserID, m.Text, m.Opts)
			networkCalls++
		}
		stats.Record(outcome)
		d.report(ctx, progress, i+1, planned, stats)
	}
	stats.EndTime = d.now()
	if stats.EndTime.Before(stats.StartTime) {
		stats.EndTime = stats.StartTime
	}

	d.logger.Info().
		Int("planned", planned).
		Int("total", stats.Total).
		Int("sent", stats.Sent).
		Int("blocked", stats.Blocked).
		Int("failed", stats.Failed).
		Bool("interrupted", stats.Interrupted).
		Msg("delivery: рассылка завершена")
	return stats
}

func (d *Dispatcher) begin() chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stop = make(chan struct{})
	return d.stop
}

func (d *Dispatcher) end(stop chan struct{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop == stop {
		d.stop = nil
	}
}

func (d *Dispatcher) report(ctx context.Context, progress ProgressFunc, done, planned int, stats domain.MailingStats) {
	if progress == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Interface("panic", r).Msg("delivery: паника в обработчике прогресса")
		}
	}()
	if err := progress(ctx, done, planned, stats); err != nil {
		d.logger.Warn().Err(err).Msg("delivery: ошибка обработчика прогресса")
	}
}

func stopped(ctx context.Context, stop <-chan struct{}) bool {
	if ctx.Err() != nil {
		return true
	}
	select {
	case <-stop:
		return true
	default:
		return false
	}
}

func identity(n int) []int {
	return ratecontrol.FixedStrategy{}.Order(n)
}
