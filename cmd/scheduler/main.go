package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"tg-channel-sync/internal/adapters/repo"
	"tg-channel-sync/internal/infra/cache"
	"tg-channel-sync/internal/infra/config"
	"tg-channel-sync/internal/infra/db"
	applog "tg-channel-sync/internal/infra/log"
	"tg-channel-sync/internal/infra/metrics"
	"tg-channel-sync/internal/infra/queue"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, applog.Component(logger, "metrics"), cfg.MetricsAddr)

	pool, err := db.Connect(ctx, cfg.PGDSN, 2)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: нет подключения к БД")
	}
	defer pool.Close()

	var redisClient *redis.Client
	if cfg.Queues.Backend != queue.BackendRabbitMQ {
		redisClient, err = cache.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Fatal().Err(err).Msg("scheduler: нет подключения к Redis")
		}
		defer redisClient.Close()
	}

	jobs, closeJobs, err := queue.Open(cfg.Queues.Backend, redisClient, cfg.RabbitURL, cfg.Queues.Jobs)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: не удалось инициализировать очередь")
	}
	defer closeJobs()

	s := &syncScheduler{
		channels: repo.NewPostgres(pool),
		jobs:     jobs,
		log:      applog.Component(logger, "scheduler"),
		now:      time.Now,
	}

	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser), cron.WithLocation(time.UTC), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(cfg.Sync.Cron, func() {
		n, err := s.Tick(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("scheduler: ошибка планирования синхронизации")
			return
		}
		logger.Info().Int("channels", n).Msg("scheduler: синхронизации поставлены в очередь")
	}); err != nil {
		logger.Fatal().Err(err).Str("cron", cfg.Sync.Cron).Msg("scheduler: некорректное расписание SYNC_CRON")
	}

	c.Start()
	logger.Info().Str("cron", cfg.Sync.Cron).Msg("scheduler: запущен")
	<-ctx.Done()

	select {
	case <-c.Stop().Done():
	case <-time.After(10 * time.Second):
		logger.Warn().Msg("scheduler: не дождались завершения текущего запуска")
	}
	logger.Info().Msg("scheduler: остановлен")
}
