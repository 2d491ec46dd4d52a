package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"tg-channel-sync/internal/adapters/mtproto"
	"tg-channel-sync/internal/adapters/repo"
	"tg-channel-sync/internal/infra/config"
	"tg-channel-sync/internal/infra/db"
	applog "tg-channel-sync/internal/infra/log"
)

func main() {
	cfg := config.Load()
	logger := applog.Component(applog.NewLogger(cfg.AppEnv), "mtproto-importer")

	var (
		filePath    string
		sessionName string
		migrate     bool
	)
	flag.StringVar(&filePath, "file", "", "путь к файлу MTProto-сессии (gotd JSON, Telethon или выгрузка аккаунта)")
	flag.StringVar(&sessionName, "name", cfg.MTProto.SessionName, "имя сессии в базе")
	flag.BoolVar(&migrate, "migrate", false, "применить миграции перед импортом")
	flag.Parse()

	if filePath == "" {
		logger.Fatal().Msg("mtproto-importer: не указан путь к файлу сессии (-file)")
	}
	raw, err := os.ReadFile(filePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("mtproto-importer: не удалось прочитать файл сессии")
	}
	data, converted, err := mtproto.NormalizeSessionBytes(raw)
	if err != nil {
		logger.Fatal().Err(err).Msg("mtproto-importer: неподдерживаемый формат сессии")
	}

	if cfg.PGDSN == "" {
		logger.Fatal().Msg("mtproto-importer: не указан PG_DSN")
	}
	if migrate {
		if err := db.Migrate(cfg.PGDSN); err != nil {
			logger.Fatal().Err(err).Msg("mtproto-importer: не удалось применить миграции")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.Connect(ctx, cfg.PGDSN, 1)
	if err != nil {
		logger.Fatal().Err(err).Msg("mtproto-importer: нет подключения к БД")
	}
	defer pool.Close()

	if err := repo.NewPostgres(pool).StoreMTProtoSession(ctx, sessionName, data); err != nil {
		logger.Fatal().Err(err).Msg("mtproto-importer: не удалось сохранить сессию")
	}

	if converted {
		fmt.Println("Сессия сконвертирована в формат gotd")
	}
	fmt.Printf("Сессия %q сохранена (%d байт)\n", sessionName, len(data))
}
