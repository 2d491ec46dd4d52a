package ratecontrol

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"tg-channel-sync/internal/domain"
	"tg-channel-sync/internal/infra/metrics"
)

// Options задаёт параметры контроллера.
type Options struct {
	Delay DelayRange
	// BurstEvery добавляет паузу BurstPause после каждых BurstEvery отправок, 0 выключает паузу.
	BurstEvery int
	BurstPause DelayRange
	// GlobalRPS ограничивает общую частоту запросов к платформе, 0 снимает ограничение.
	GlobalRPS float64
	Strategy  Strategy
	// Store разделяет штраф между процессами. Без него штраф живёт в памяти.
	Store domain.PenaltyStore
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Controller задаёт темп обращений к платформе и учитывает штрафные ожидания.
// Один контроллер можно разделять между компонентами, работающими на одном подключении.
type Controller struct {
	opts    Options
	limiter *rate.Limiter
	logger  zerolog.Logger

	mu           sync.Mutex
	penaltyUntil time.Time
}

// New создаёт контроллер.
func New(opts Options, logger zerolog.Logger) *Controller {
	if opts.Delay == (DelayRange{}) {
		opts.Delay = DefaultDelay
	}
	opts.Delay = opts.Delay.Normalize()
	opts.BurstPause = opts.BurstPause.Normalize()
	if opts.Strategy == nil {
		opts.Strategy = NewUniformStrategy(time.Now().UnixNano())
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	limit := rate.Inf
	burst := 1
	if opts.GlobalRPS > 0 {
		limit = rate.Limit(opts.GlobalRPS)
		if opts.GlobalRPS > 1 {
			burst = int(opts.GlobalRPS)
		}
	}
	return &Controller{
		opts:    opts,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.With().Str("component", "ratecontrol").Logger(),
	}
}

// Delay возвращает базовый диапазон пауз.
func (c *Controller) Delay() DelayRange {
	return c.opts.Delay
}

// Strategy возвращает стратегию рандомизации.
func (c *Controller) Strategy() Strategy {
	return c.opts.Strategy
}

// Acquire ждёт окончания штрафа и слота глобального лимита перед запросом к платформе.
// Штрафное ожидание не прерывается остановкой операции, только отменой контекста.
func (c *Controller) Acquire(ctx context.Context) error {
	if err := c.WaitPenalty(ctx); err != nil {
		return err
	}
	return c.limiter.Wait(ctx)
}

// Do выполняет запрос к платформе с учётом темпа. При троттлинге штраф фиксируется,
// а запрос повторяется не более retries раз; затем возвращается ошибка ErrRateLimited.
func (c *Controller) Do(ctx context.Context, retries int, fn func(ctx context.Context) error) error {
	for attempt := 0; ; attempt++ {
		if err := c.Acquire(ctx); err != nil {
			return err
		}
		err := fn(ctx)
		wait, throttled := domain.AsThrottle(err)
		if !throttled {
			return err
		}
		c.Penalize(ctx, wait)
		if attempt >= retries {
			return fmt.Errorf("после %d повторов: %w", attempt, domain.ErrRateLimited)
		}
	}
}

// WaitPenalty ждёт, пока не истечёт назначенный платформой штраф.
func (c *Controller) WaitPenalty(ctx context.Context) error {
	for {
		remaining := c.Penalty(ctx)
		if remaining <= 0 {
			return nil
		}
		c.logger.Info().Dur("wait", remaining).Msg("ratecontrol: ожидание штрафа платформы")
		if err := c.opts.Sleep(ctx, remaining); err != nil {
			return err
		}
	}
}

// Penalize фиксирует требование платформы подождать wait. Штраф никогда не сокращается.
func (c *Controller) Penalize(ctx context.Context, wait time.Duration) {
	if wait <= 0 {
		return
	}
	until := c.opts.Now().Add(wait)
	c.mu.Lock()
	if until.After(c.penaltyUntil) {
		c.penaltyUntil = until
	}
	c.mu.Unlock()

	if c.opts.Store != nil {
		if err := c.opts.Store.ExtendPenalty(ctx, until); err != nil {
			c.logger.Warn().Err(err).Msg("ratecontrol: не удалось сохранить штраф")
		}
	}
	metrics.ObserveThrottle(wait, wait)
	c.logger.Warn().Dur("wait", wait).Time("until", until).Msg("ratecontrol: платформа запросила паузу")
}

// Penalty возвращает, сколько ещё осталось ждать до снятия штрафа.
func (c *Controller) Penalty(ctx context.Context) time.Duration {
	c.mu.Lock()
	until := c.penaltyUntil
	c.mu.Unlock()

	if c.opts.Store != nil {
		shared, err := c.opts.Store.PenaltyUntil(ctx)
		if err != nil {
			c.logger.Warn().Err(err).Msg("ratecontrol: не удалось прочитать общий штраф")
		} else if shared.After(until) {
			until = shared
		}
	}
	remaining := until.Sub(c.opts.Now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Pace выдерживает паузу перед следующей отправкой. sent равен числу уже сделанных попыток.
// Пауза прерывается закрытием stop: тогда возвращается stopped=true.
func (c *Controller) Pace(ctx context.Context, stop <-chan struct{}, delay DelayRange, sent int) (stopped bool, err error) {
	d := c.opts.Strategy.NextDelay(delay)
	if c.opts.BurstEvery > 0 && sent > 0 && sent%c.opts.BurstEvery == 0 {
		pause := c.opts.Strategy.NextDelay(c.opts.BurstPause)
		c.logger.Debug().Int("sent", sent).Dur("pause", pause).Msg("ratecontrol: длинная пауза")
		d += pause
	}

	select {
	case <-stop:
		return true, nil
	default:
	}

	sleepCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-sleepCtx.Done():
		}
	}()

	if err := c.opts.Sleep(sleepCtx, d); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		if errors.Is(err, context.Canceled) {
			return true, nil
		}
		return false, err
	}
	select {
	case <-stop:
		return true, nil
	default:
		return false, nil
	}
}

// Estimate оценивает длительность рассылки на userCount получателей.
func (c *Controller) Estimate(userCount int, delay *DelayRange) time.Duration {
	if userCount <= 0 {
		return 0
	}
	r := c.opts.Delay
	if delay != nil {
		r = delay.Normalize()
	}
	total := time.Duration(userCount) * r.Mean()
	if c.opts.BurstEvery > 0 {
		bursts := (userCount - 1) / c.opts.BurstEvery
		total += time.Duration(bursts) * c.opts.BurstPause.Mean()
	}
	return total
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
