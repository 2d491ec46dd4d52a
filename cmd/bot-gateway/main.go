package main

import (
	"context"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"

	"tg-channel-sync/internal/adapters/bot"
	"tg-channel-sync/internal/adapters/repo"
	"tg-channel-sync/internal/infra/cache"
	"tg-channel-sync/internal/infra/config"
	"tg-channel-sync/internal/infra/db"
	httpinfra "tg-channel-sync/internal/infra/http"
	applog "tg-channel-sync/internal/infra/log"
	"tg-channel-sync/internal/infra/metrics"
	"tg-channel-sync/internal/infra/queue"
	"tg-channel-sync/internal/usecase/channels"
	"tg-channel-sync/internal/usecase/mailing"
	"tg-channel-sync/internal/usecase/membership"
	"tg-channel-sync/internal/usecase/ratecontrol"
)

// allowedUpdates включает chat_member: без явного запроса Telegram его не присылает.
var allowedUpdates = []string{"message", "chat_member"}

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.PGDSN, 0)
	if err != nil {
		logger.Fatal().Err(err).Msg("bot-gateway: нет подключения к БД")
	}
	defer pool.Close()
	repoAdapter := repo.NewPostgres(pool)

	redisClient, err := cache.Connect(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Fatal().Err(err).Msg("bot-gateway: нет подключения к Redis")
	}
	defer redisClient.Close()
	shared := cache.NewRedis(redisClient)

	jobs, closeJobs, err := queue.Open(cfg.Queues.Backend, redisClient, cfg.RabbitURL, cfg.Queues.Jobs)
	if err != nil {
		logger.Fatal().Err(err).Msg("bot-gateway: не удалось инициализировать очередь")
	}
	defer closeJobs()

	if cfg.Telegram.Token == "" {
		logger.Fatal().Msg("bot-gateway: не указан токен Telegram (TG_BOT_TOKEN)")
	}
	if cfg.Telegram.WebhookSecret == "" {
		logger.Fatal().Msg("bot-gateway: не указан секрет вебхука (TG_WEBHOOK_SECRET)")
	}
	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("bot-gateway: не удалось создать бота")
	}
	if cfg.Telegram.WebhookURL != "" {
		if err := registerWebhook(botAPI, cfg.Telegram.WebhookURL, cfg.Telegram.WebhookSecret); err != nil {
			logger.Fatal().Err(err).Msg("bot-gateway: не удалось зарегистрировать вебхук")
		}
	}

	admins := cfg.AdminIDs()
	if len(admins) == 0 {
		logger.Warn().Msg("bot-gateway: список администраторов пуст (TG_ADMIN_IDS), команды недоступны")
	}

	// Шлюз не ходит в MTProto: рассылки здесь только создаются, оцениваются и останавливаются сигналом.
	rc := ratecontrol.New(ratecontrol.Options{
		Delay:      ratecontrol.DelayRange{Min: cfg.Delivery.DelayMin, Max: cfg.Delivery.DelayMax},
		BurstEvery: cfg.Delivery.BurstEvery,
		BurstPause: ratecontrol.DelayRange{Min: cfg.Delivery.BurstPauseMin, Max: cfg.Delivery.BurstPauseMax},
		Store:      shared,
	}, logger)

	members := membership.NewService(nil, repoAdapter, shared, repoAdapter, cfg.Sync.BatchSize, logger)
	channelService := channels.NewService(repoAdapter, nil, repoAdapter)
	planner := mailing.NewPlanner(rc, repoAdapter, repoAdapter, shared, logger)

	h := bot.NewHandler(botAPI, logger, members, channelService, planner, jobs, admins)

	server := httpinfra.NewServer(applog.Component(logger, "http"))
	server.HandleWebhook(cfg.Telegram.WebhookSecret, h.HandleUpdate)

	go func() {
		if err := server.Start(":" + strconv.Itoa(cfg.Port)); err != nil {
			logger.Error().Err(err).Msg("bot-gateway: HTTP сервер остановлен")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("bot-gateway: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("bot-gateway: ошибка остановки HTTP сервера")
	}
}

func registerWebhook(botAPI *tgbotapi.BotAPI, baseURL, secret string) error {
	wh, err := tgbotapi.NewWebhook(strings.TrimRight(baseURL, "/") + "/bot/webhook/" + secret)
	if err != nil {
		return err
	}
	wh.AllowedUpdates = allowedUpdates
	_, err = botAPI.Request(wh)
	return err
}
