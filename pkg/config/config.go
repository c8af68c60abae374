package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"equity-terminal/pkg/secret"
)

// Config holds environment-driven settings for the terminal core.
type Config struct {
	// Gateway session
	GatewayAddr string
	User        string
	Password    string
	Account     string
	AutoConnect bool

	// Execution
	DryRun       bool
	DryRunEquity float64

	// Account refresh period in seconds; 0 disables it
	AccountRefresh int

	// Watchlist presets (YAML); empty disables them
	WatchlistPath string

	// Exchange calendar (ISO 10383 MIC)
	MarketMIC string

	// Trading parameters file (YAML)
	ParamsPath string

	// Journal; empty path disables it. JournalPath is the DSN for postgres.
	JournalDriver string
	JournalPath   string

	// Boundary API
	APIPort         string
	GRPCHealthPort  string
	JWTSecret       string
	WSBuffer        int
	// Operator login for /api/auth/login; the hash is bcrypt
	APIUser         string
	APIPasswordHash string

	LogLevel string
}

// Load reads environment variables (optionally via .env) into Config. The
// gateway password and JWT secret may be sealed with pkg/secret.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	cfg := &Config{
		GatewayAddr:     getEnv("GATEWAY_ADDR", "127.0.0.1:9910"),
		User:            os.Getenv("GATEWAY_USER"),
		Password:        os.Getenv("GATEWAY_PASSWORD"),
		Account:         os.Getenv("GATEWAY_ACCOUNT"),
		AutoConnect:     getEnv("AUTO_CONNECT", "false") == "true",
		DryRun:          getEnv("DRY_RUN", "false") == "true",
		DryRunEquity:    getEnvFloat("DRY_RUN_EQUITY", 100000),
		AccountRefresh:  getEnvInt("ACCOUNT_REFRESH_SECONDS", 30),
		WatchlistPath:   os.Getenv("WATCHLIST_PATH"),
		MarketMIC:       strings.ToLower(getEnv("MARKET_MIC", "xnys")),
		ParamsPath:      getEnv("PARAMS_PATH", "./params.yaml"),
		JournalDriver:   strings.ToLower(getEnv("JOURNAL_DRIVER", "sqlite")),
		JournalPath:     getEnv("JOURNAL_PATH", "./data/journal.db"),
		APIPort:         getEnv("PORT", "8080"),
		GRPCHealthPort:  getEnv("GRPC_HEALTH_PORT", ""),
		JWTSecret:       getEnv("JWT_SECRET", "dev-secret"),
		WSBuffer:        getEnvInt("WS_BUFFER", 256),
		APIUser:         getEnv("API_USER", "operator"),
		APIPasswordHash: os.Getenv("API_PASSWORD_HASH"),
		LogLevel:        strings.ToLower(getEnv("LOG_LEVEL", "info")),
	}

	var err error
	if cfg.Password, err = secret.Reveal(cfg.Password); err != nil {
		return nil, fmt.Errorf("GATEWAY_PASSWORD: %w", err)
	}
	if cfg.JWTSecret, err = secret.Reveal(cfg.JWTSecret); err != nil {
		return nil, fmt.Errorf("JWT_SECRET: %w", err)
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
