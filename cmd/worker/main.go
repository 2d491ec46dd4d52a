package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gotd/td/telegram"
	"github.com/prometheus/client_golang/prometheus"

	"tg-channel-sync/internal/adapters/mtproto"
	"tg-channel-sync/internal/adapters/repo"
	"tg-channel-sync/internal/infra/cache"
	"tg-channel-sync/internal/infra/config"
	"tg-channel-sync/internal/infra/db"
	applog "tg-channel-sync/internal/infra/log"
	"tg-channel-sync/internal/infra/metrics"
	"tg-channel-sync/internal/infra/queue"
	"tg-channel-sync/internal/usecase/activity"
	"tg-channel-sync/internal/usecase/channels"
	"tg-channel-sync/internal/usecase/delivery"
	"tg-channel-sync/internal/usecase/mailing"
	"tg-channel-sync/internal/usecase/membership"
	"tg-channel-sync/internal/usecase/ratecontrol"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, applog.Component(logger, "metrics"), cfg.MetricsAddr)

	if err := db.Migrate(cfg.PGDSN); err != nil {
		logger.Fatal().Err(err).Msg("worker: не удалось применить миграции")
	}
	pool, err := db.Connect(ctx, cfg.PGDSN, 0)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: нет подключения к БД")
	}
	defer pool.Close()
	repoAdapter := repo.NewPostgres(pool)

	redisClient, err := cache.Connect(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: нет подключения к Redis")
	}
	defer redisClient.Close()
	shared := cache.NewRedis(redisClient)

	jobs, closeJobs, err := queue.Open(cfg.Queues.Backend, redisClient, cfg.RabbitURL, cfg.Queues.Jobs)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: не удалось инициализировать очередь")
	}
	defer closeJobs()
	if rq, ok := jobs.(*queue.RedisJobQueue); ok {
		moved, err := rq.Recover(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("worker: не удалось вернуть незавершённые задачи")
		} else if moved > 0 {
			logger.Info().Int("jobs", moved).Msg("worker: незавершённые задачи возвращены в очередь")
		}
	}

	if cfg.Telegram.Token == "" {
		logger.Fatal().Msg("worker: не указан токен Telegram (TG_BOT_TOKEN)")
	}
	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: не удалось создать бота")
	}

	if cfg.Telegram.APIID == 0 || cfg.Telegram.APIHash == "" {
		logger.Fatal().Msg("worker: не указаны TG_API_ID и TG_API_HASH")
	}
	client := telegram.NewClient(cfg.Telegram.APIID, cfg.Telegram.APIHash, telegram.Options{
		SessionStorage: mtproto.NewSessionDB(repoAdapter, cfg.MTProto.SessionName),
	})

	logger.Info().Str("session", cfg.MTProto.SessionName).Msg("worker: подключение к MTProto")
	err = client.Run(ctx, func(ctx context.Context) error {
		status, err := client.Auth().Status(ctx)
		if err != nil {
			return fmt.Errorf("проверка авторизации: %w", err)
		}
		if !status.Authorized {
			return errors.New("MTProto-сессия не авторизована, импортируйте её через mtproto-session-importer")
		}

		api := mtproto.NewClient(client.API(), shared, logger)
		rc := ratecontrol.New(ratecontrol.Options{
			Delay:      ratecontrol.DelayRange{Min: cfg.Delivery.DelayMin, Max: cfg.Delivery.DelayMax},
			BurstEvery: cfg.Delivery.BurstEvery,
			BurstPause: ratecontrol.DelayRange{Min: cfg.Delivery.BurstPauseMin, Max: cfg.Delivery.BurstPauseMax},
			GlobalRPS:  float64(cfg.MTProto.GlobalRPS),
			Store:      shared,
		}, logger)

		synchronizer := membership.NewSynchronizer(api, rc, membership.Options{
			PageSize:        cfg.Sync.BatchSize,
			MaxMembers:      cfg.Sync.MaxMembers,
			ThrottleRetries: cfg.Sync.ThrottleRetries,
		}, logger)
		dispatcher := delivery.NewDispatcher(api, rc, delivery.Options{ThrottleRetries: cfg.Delivery.ThrottleRetries}, logger)
		monitor := activity.NewMonitor(api, rc, activity.Options{RecentPosts: cfg.Activity.RecentPosts}, logger)

		worker := &jobWorker{
			log:      applog.Component(logger, "worker"),
			queue:    jobs,
			statuses: repoAdapter,
			channels: repoAdapter,
			sync:     membership.NewService(synchronizer, repoAdapter, shared, repoAdapter, cfg.Sync.BatchSize, logger),
			mailings: mailing.NewService(dispatcher, mailing.NewPlanner(rc, repoAdapter, repoAdapter, shared, logger), repoAdapter),
			register: channels.NewService(repoAdapter, synchronizer, repoAdapter),
			activity: monitor,
			bot:      botAPI,
		}

		logger.Info().Msg("worker: запуск обработки очереди")
		worker.Run(ctx)
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: MTProto-клиент остановлен с ошибкой")
	}
	logger.Info().Msg("worker: остановлен")
}
