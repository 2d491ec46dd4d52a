package config

import (
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	Port        int    `envconfig:"PORT" default:"8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	Telegram struct {
		Token         string `envconfig:"TG_BOT_TOKEN"`
		WebhookURL    string `envconfig:"TG_WEBHOOK_URL"`
		WebhookSecret string `envconfig:"TG_WEBHOOK_SECRET"`
		AdminIDs      string `envconfig:"TG_ADMIN_IDS"`
		APIID         int    `envconfig:"TG_API_ID"`
		APIHash       string `envconfig:"TG_API_HASH"`
	} `envconfig:""`

	MTProto struct {
		SessionName string `envconfig:"MTPROTO_SESSION_NAME" default:"default"`
		GlobalRPS   int    `envconfig:"MTPROTO_GLOBAL_RPS" default:"20"`
	} `envconfig:""`

	PGDSN     string `envconfig:"PG_DSN"`
	RedisAddr string `envconfig:"REDIS_ADDR"`
	RabbitURL string `envconfig:"RABBITMQ_URL"`

	Delivery struct {
		DelayMin        time.Duration `envconfig:"DELIVERY_DELAY_MIN" default:"1s"`
		DelayMax        time.Duration `envconfig:"DELIVERY_DELAY_MAX" default:"3s"`
		ThrottleRetries int           `envconfig:"DELIVERY_THROTTLE_RETRIES" default:"1"`
		BurstEvery      int           `envconfig:"DELIVERY_BURST_EVERY" default:"0"`
		BurstPauseMin   time.Duration `envconfig:"DELIVERY_BURST_PAUSE_MIN" default:"10s"`
		BurstPauseMax   time.Duration `envconfig:"DELIVERY_BURST_PAUSE_MAX" default:"20s"`
	} `envconfig:""`

	Sync struct {
		BatchSize       int    `envconfig:"SYNC_BATCH_SIZE" default:"200"`
		MaxMembers      int    `envconfig:"SYNC_MAX_MEMBERS" default:"0"`
		ThrottleRetries int    `envconfig:"SYNC_THROTTLE_RETRIES" default:"3"`
		Cron            string `envconfig:"SYNC_CRON" default:"@every 6h"`
	} `envconfig:""`

	Activity struct {
		RecentPosts int `envconfig:"ACTIVITY_RECENT_POSTS" default:"10"`
	} `envconfig:""`

	Queues struct {
		Backend string `envconfig:"QUEUE_BACKEND" default:"redis"`
		Jobs    string `envconfig:"JOBS_QUEUE_KEY" default:"tgsync_jobs"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}

// AdminIDs разбирает список администраторов бота через запятую. Некорректные значения пропускаются.
func (c AppConfig) AdminIDs() map[int64]struct{} {
	ids := make(map[int64]struct{})
	for _, part := range strings.Split(c.Telegram.AdminIDs, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil || id == 0 {
			continue
		}
		ids[id] = struct{}{}
	}
	return ids
}
