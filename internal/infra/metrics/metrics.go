package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	SyncMembersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_members_total",
		Help: "Участники, обработанные при синхронизации",
	}, []string{"mode", "kind"})
	SyncDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sync_duration_seconds",
		Help:    "Длительность синхронизации подписчиков",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800, 3600},
	}, []string{"mode"})

	DeliveryOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "delivery_outcomes_total",
		Help: "Исходы отправки личных сообщений",
	}, []string{"outcome"})
	MailingsRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mailings_running",
		Help: "Рассылки, выполняющиеся в данный момент",
	})

	ThrottleWaitSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "throttle_wait_seconds",
		Help:    "Штрафные ожидания, назначенные платформой",
		Buckets: []float64{1, 3, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
	})
	PenaltyRemainingSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "penalty_remaining_seconds",
		Help: "Сколько ещё осталось ждать до снятия штрафа",
	})

	BotSendErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bot_send_errors_total",
		Help: "Ошибки отправки сообщений ботом",
	})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		SyncMembersTotal,
		SyncDurationSeconds,
		DeliveryOutcomesTotal,
		MailingsRunning,
		ThrottleWaitSeconds,
		PenaltyRemainingSeconds,
		BotSendErrors,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: ошибка остановки сервера")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: сервер запущен")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: сервер остановлен")
		}
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveSync учитывает итог прохода синхронизации.
func ObserveSync(mode string, withUsername, withoutUsername, bots int, duration time.Duration) {
	SyncMembersTotal.WithLabelValues(mode, "with_username").Add(float64(withUsername))
	SyncMembersTotal.WithLabelValues(mode, "without_username").Add(float64(withoutUsername))
	SyncMembersTotal.WithLabelValues(mode, "bot").Add(float64(bots))
	SyncDurationSeconds.WithLabelValues(mode).Observe(duration.Seconds())
}

// ObserveDelivery учитывает исход одной отправки.
func ObserveDelivery(outcome string) {
	DeliveryOutcomesTotal.WithLabelValues(outcome).Inc()
}

// ObserveThrottle фиксирует штраф платформы и оставшееся время ожидания.
func ObserveThrottle(wait, remaining time.Duration) {
	if wait > 0 {
		ThrottleWaitSeconds.Observe(wait.Seconds())
	}
	if remaining < 0 {
		remaining = 0
	}
	PenaltyRemainingSeconds.Set(remaining.Seconds())
}
