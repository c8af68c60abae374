package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const timeLayout = time.RFC3339Nano

// Stmt is a write statement with ? placeholders, ready to be queued or run.
type Stmt struct {
	Table string
	Query string
	Args  []any
}

// UpsertOrder replaces the stored state of an order.
func UpsertOrder(o Order) Stmt {
	return Stmt{
		Table: "orders",
		Query: `INSERT INTO orders (id, token, symbol, side, order_type, quantity, filled, left_qty, canceled, price, stop_price, route, status, account, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    token = CASE WHEN excluded.token <> '' THEN excluded.token ELSE orders.token END,
    order_type = excluded.order_type,
    quantity = excluded.quantity,
    filled = excluded.filled,
    left_qty = excluded.left_qty,
    canceled = excluded.canceled,
    price = excluded.price,
    stop_price = excluded.stop_price,
    status = excluded.status,
    updated_at = excluded.updated_at`,
		Args: []any{o.ID, o.Token, o.Symbol, o.Side, o.Type, o.Quantity, o.Filled, o.Left, o.Canceled,
			o.Price, o.StopPrice, o.Route, o.Status, o.Account, o.UpdatedAt.UTC().Format(timeLayout)},
	}
}

// UpsertTrade stores a trade by id; a resend replaces everything but created_at.
func UpsertTrade(t Trade) Stmt {
	return Stmt{
		Table: "trades",
		Query: `INSERT INTO trades (id, order_id, symbol, side, quantity, price, route, liquidity, ecn_fee, pl, trade_time, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    order_id = excluded.order_id,
    quantity = excluded.quantity,
    price = excluded.price,
    route = excluded.route,
    liquidity = excluded.liquidity,
    ecn_fee = excluded.ecn_fee,
    pl = excluded.pl,
    trade_time = excluded.trade_time`,
		Args: []any{t.ID, t.OrderID, t.Symbol, t.Side, t.Quantity, t.Price, t.Route, t.Liquidity,
			t.ECNFee, t.PL, t.TradeTime, t.CreatedAt.UTC().Format(timeLayout)},
	}
}

// InsertCommand appends an outbound command.
func InsertCommand(c Command) Stmt {
	return Stmt{
		Table: "commands",
		Query: `INSERT INTO commands (command, sent_at) VALUES (?, ?)`,
		Args:  []any{c.Command, c.SentAt.UTC().Format(timeLayout)},
	}
}

// UpsertDailyMetrics writes the risk row of one day.
func UpsertDailyMetrics(m DailyMetrics) Stmt {
	return Stmt{
		Table: "risk_metrics",
		Query: `INSERT INTO risk_metrics (day, daily_pnl, daily_trades, daily_wins, daily_losses, total_realized_pnl, max_drawdown, max_profit, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(day) DO UPDATE SET
    daily_pnl = excluded.daily_pnl,
    daily_trades = excluded.daily_trades,
    daily_wins = excluded.daily_wins,
    daily_losses = excluded.daily_losses,
    total_realized_pnl = excluded.total_realized_pnl,
    max_drawdown = excluded.max_drawdown,
    max_profit = excluded.max_profit,
    updated_at = excluded.updated_at`,
		Args: []any{m.Day, m.DailyPnL, m.DailyTrades, m.DailyWins, m.DailyLosses,
			m.TotalRealizedPnL, m.MaxDrawdown, m.MaxProfit, m.UpdatedAt.UTC().Format(timeLayout)},
	}
}

// UpsertBar stores a completed bar.
func UpsertBar(b Bar) Stmt {
	return Stmt{
		Table: "bars",
		Query: `INSERT INTO bars (symbol, bar_interval, day, start_sec, open, high, low, close, volume)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(symbol, bar_interval, day, start_sec) DO UPDATE SET
    open = excluded.open, high = excluded.high, low = excluded.low,
    close = excluded.close, volume = excluded.volume`,
		Args: []any{b.Symbol, b.Interval, b.Day, b.Start, b.Open, b.High, b.Low, b.Close, b.Volume},
	}
}

// Queries provides reads over the journal.
type Queries struct {
	d *Database
}

func (d *Database) Queries() *Queries {
	return &Queries{d: d}
}

// Exec runs a single statement outside any batch.
func (d *Database) Exec(ctx context.Context, s Stmt) error {
	if _, err := d.DB.ExecContext(ctx, d.Rebind(s.Query), s.Args...); err != nil {
		return fmt.Errorf("write %s: %w", s.Table, err)
	}
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}

func bySymbol(base, symbol, orderBy string, limit int) (string, []any) {
	var args []any
	if symbol != "" {
		base += " WHERE symbol = ?"
		args = append(args, symbol)
	}
	return base + " ORDER BY " + orderBy + " DESC LIMIT ?", append(args, clampLimit(limit))
}

// RecentOrders returns the most recently updated orders, optionally for one symbol.
func (q *Queries) RecentOrders(ctx context.Context, symbol string, limit int) ([]Order, error) {
	query, args := bySymbol(`SELECT id, token, symbol, side, order_type, quantity, filled, left_qty, canceled, price, stop_price, route, status, account, updated_at
FROM orders`, symbol, "updated_at", limit)
	rows, err := q.d.DB.QueryContext(ctx, q.d.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		var (
			o  Order
			ts string
		)
		if err := rows.Scan(&o.ID, &o.Token, &o.Symbol, &o.Side, &o.Type, &o.Quantity, &o.Filled, &o.Left,
			&o.Canceled, &o.Price, &o.StopPrice, &o.Route, &o.Status, &o.Account, &ts); err != nil {
			return nil, err
		}
		o.UpdatedAt, _ = time.Parse(timeLayout, ts)
		out = append(out, o)
	}
	return out, rows.Err()
}

// RecentTrades returns the newest trades, optionally for one symbol.
func (q *Queries) RecentTrades(ctx context.Context, symbol string, limit int) ([]Trade, error) {
	query, args := bySymbol(`SELECT id, order_id, symbol, side, quantity, price, route, liquidity, ecn_fee, pl, trade_time, created_at
FROM trades`, symbol, "created_at", limit)
	rows, err := q.d.DB.QueryContext(ctx, q.d.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []Trade
	for rows.Next() {
		var (
			t  Trade
			ts string
		)
		if err := rows.Scan(&t.ID, &t.OrderID, &t.Symbol, &t.Side, &t.Quantity, &t.Price, &t.Route,
			&t.Liquidity, &t.ECNFee, &t.PL, &t.TradeTime, &ts); err != nil {
			return nil, err
		}
		t.CreatedAt, _ = time.Parse(timeLayout, ts)
		out = append(out, t)
	}
	return out, rows.Err()
}

// RecentCommands returns the newest outbound commands.
func (q *Queries) RecentCommands(ctx context.Context, limit int) ([]Command, error) {
	rows, err := q.d.DB.QueryContext(ctx,
		q.d.Rebind(`SELECT id, command, sent_at FROM commands ORDER BY id DESC LIMIT ?`), clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query commands: %w", err)
	}
	defer rows.Close()

	var out []Command
	for rows.Next() {
		var (
			c  Command
			ts string
		)
		if err := rows.Scan(&c.ID, &c.Command, &ts); err != nil {
			return nil, err
		}
		c.SentAt, _ = time.Parse(timeLayout, ts)
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetDailyMetrics loads the risk row of day; ok is false when none exists.
func (q *Queries) GetDailyMetrics(ctx context.Context, day string) (DailyMetrics, bool, error) {
	var (
		m  DailyMetrics
		ts string
	)
	err := q.d.DB.QueryRowContext(ctx, q.d.Rebind(`SELECT day, daily_pnl, daily_trades, daily_wins, daily_losses, total_realized_pnl, max_drawdown, max_profit, updated_at
FROM risk_metrics WHERE day = ?`), day).Scan(&m.Day, &m.DailyPnL, &m.DailyTrades, &m.DailyWins, &m.DailyLosses,
		&m.TotalRealizedPnL, &m.MaxDrawdown, &m.MaxProfit, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return DailyMetrics{}, false, nil
	}
	if err != nil {
		return DailyMetrics{}, false, fmt.Errorf("query risk_metrics: %w", err)
	}
	m.UpdatedAt, _ = time.Parse(timeLayout, ts)
	return m, true, nil
}

// Bars returns up to limit completed bars of a symbol for day, oldest first.
func (q *Queries) Bars(ctx context.Context, symbol string, interval int, day string, limit int) ([]Bar, error) {
	rows, err := q.d.DB.QueryContext(ctx, q.d.Rebind(`SELECT symbol, bar_interval, day, start_sec, open, high, low, close, volume
FROM bars WHERE symbol = ? AND bar_interval = ? AND day = ? ORDER BY start_sec ASC LIMIT ?`),
		symbol, interval, day, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query bars: %w", err)
	}
	defer rows.Close()

	var out []Bar
	for rows.Next() {
		var b Bar
		if err := rows.Scan(&b.Symbol, &b.Interval, &b.Day, &b.Start, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
