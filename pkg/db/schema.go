package db

import (
	"fmt"
	"strings"
)

// Column types below are accepted by both SQLite and PostgreSQL; {{SERIAL}}
// is the only dialect-specific piece.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS orders (
    id TEXT PRIMARY KEY,
    token TEXT NOT NULL DEFAULT '',
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    order_type TEXT NOT NULL,
    quantity INTEGER NOT NULL DEFAULT 0,
    filled INTEGER NOT NULL DEFAULT 0,
    left_qty INTEGER NOT NULL DEFAULT 0,
    canceled INTEGER NOT NULL DEFAULT 0,
    price DOUBLE PRECISION DEFAULT 0,
    stop_price DOUBLE PRECISION DEFAULT 0,
    route TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    account TEXT NOT NULL DEFAULT '',
    updated_at TEXT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_symbol ON orders(symbol)`,
	`CREATE TABLE IF NOT EXISTS trades (
    id TEXT PRIMARY KEY,
    order_id TEXT NOT NULL DEFAULT '',
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    quantity INTEGER NOT NULL,
    price DOUBLE PRECISION NOT NULL,
    route TEXT NOT NULL DEFAULT '',
    liquidity TEXT NOT NULL DEFAULT '',
    ecn_fee DOUBLE PRECISION DEFAULT 0,
    pl DOUBLE PRECISION DEFAULT 0,
    trade_time TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol)`,
	`CREATE TABLE IF NOT EXISTS commands (
    id {{SERIAL}},
    command TEXT NOT NULL,
    sent_at TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS risk_metrics (
    day TEXT PRIMARY KEY,
    daily_pnl DOUBLE PRECISION DEFAULT 0,
    daily_trades INTEGER DEFAULT 0,
    daily_wins INTEGER DEFAULT 0,
    daily_losses DOUBLE PRECISION DEFAULT 0,
    total_realized_pnl DOUBLE PRECISION DEFAULT 0,
    max_drawdown DOUBLE PRECISION DEFAULT 0,
    max_profit DOUBLE PRECISION DEFAULT 0,
    updated_at TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS bars (
    symbol TEXT NOT NULL,
    bar_interval INTEGER NOT NULL,
    day TEXT NOT NULL,
    start_sec INTEGER NOT NULL,
    open DOUBLE PRECISION NOT NULL,
    high DOUBLE PRECISION NOT NULL,
    low DOUBLE PRECISION NOT NULL,
    close DOUBLE PRECISION NOT NULL,
    volume DOUBLE PRECISION NOT NULL,
    PRIMARY KEY (symbol, bar_interval, day, start_sec)
)`,
}

// ApplyMigrations bootstraps the schema; keep lightweight for fast startup.
func ApplyMigrations(d *Database) error {
	if d == nil || d.DB == nil {
		return fmt.Errorf("database is not initialized")
	}
	serial := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if d.Dialect == Postgres {
		serial = "BIGSERIAL PRIMARY KEY"
	} else if _, err := d.DB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("enable wal: %w", err)
	}
	for _, stmt := range schema {
		stmt = strings.ReplaceAll(stmt, "{{SERIAL}}", serial)
		if _, err := d.DB.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
