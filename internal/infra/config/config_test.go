package config

import "testing"

func TestAdminIDs(t *testing.T) {
	var cfg AppConfig
	cfg.Telegram.AdminIDs = " 1, 2 ,oops,,3"
	ids := cfg.AdminIDs()
	if len(ids) != 3 {
		t.Fatalf("ожидали 3 администратора, получили %d", len(ids))
	}
	for _, id := range []int64{1, 2, 3} {
		if _, ok := ids[id]; !ok {
			t.Fatalf("ожидали администратора %d", id)
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.Sync.BatchSize != 200 || cfg.Sync.Cron != "@every 6h" {
		t.Fatalf("неожиданные значения по умолчанию: %+v", cfg.Sync)
	}
	if cfg.Queues.Backend != "redis" {
		t.Fatalf("ожидали redis по умолчанию, получили %q", cfg.Queues.Backend)
	}
}
