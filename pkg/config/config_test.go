package config

import (
	"errors"
	"testing"

	"equity-terminal/pkg/secret"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"GATEWAY_ADDR", "DRY_RUN", "DRY_RUN_EQUITY", "ACCOUNT_REFRESH_SECONDS",
		"MARKET_MIC", "JOURNAL_DRIVER", "JOURNAL_PATH", "WS_BUFFER", "LOG_LEVEL", "API_USER"} {
		t.Setenv(k, "")
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GatewayAddr != "127.0.0.1:9910" || cfg.DryRun || cfg.DryRunEquity != 100000 {
		t.Fatalf("unexpected gateway defaults %+v", cfg)
	}
	if cfg.AccountRefresh != 30 || cfg.MarketMIC != "xnys" || cfg.JournalDriver != "sqlite" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.WSBuffer != 256 || cfg.LogLevel != "info" || cfg.APIUser != "operator" {
		t.Fatalf("unexpected api defaults %+v", cfg)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DRY_RUN", "true")
	t.Setenv("DRY_RUN_EQUITY", "25000.5")
	t.Setenv("ACCOUNT_REFRESH_SECONDS", "0")
	t.Setenv("MARKET_MIC", "XNAS")
	t.Setenv("JOURNAL_DRIVER", "Postgres")
	t.Setenv("WS_BUFFER", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.DryRun || cfg.DryRunEquity != 25000.5 || cfg.AccountRefresh != 0 {
		t.Fatalf("overrides not applied %+v", cfg)
	}
	if cfg.MarketMIC != "xnas" || cfg.JournalDriver != "postgres" {
		t.Fatalf("expected lowercased values, got mic=%q driver=%q", cfg.MarketMIC, cfg.JournalDriver)
	}
	if cfg.WSBuffer != 256 {
		t.Fatalf("malformed int should fall back to default, got %d", cfg.WSBuffer)
	}
}

func TestLoadRevealsSealedPassword(t *testing.T) {
	key, err := secret.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	t.Setenv(secret.KeyEnv, key)
	kr, err := secret.KeyringFromEnv()
	if err != nil {
		t.Fatalf("KeyringFromEnv: %v", err)
	}
	sealed, err := kr.Seal("hunter2")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	t.Setenv("GATEWAY_PASSWORD", sealed)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Password != "hunter2" {
		t.Fatalf("password = %q", cfg.Password)
	}

	t.Setenv(secret.KeyEnv, "")
	if _, err := Load(); !errors.Is(err, secret.ErrNoKey) {
		t.Fatalf("expected ErrNoKey without a key, got %v", err)
	}
}
