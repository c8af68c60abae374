package persistence

import (
	"context"
	"time"

	"go.uber.org/zap"

	"equity-terminal/internal/events"
	"equity-terminal/internal/market"
	"equity-terminal/internal/protocol"
	"equity-terminal/internal/risk"
	"equity-terminal/pkg/db"
)

const journalBuffer = 1024

// Journal records orders, trades, order commands, completed bars and the daily
// risk row. It follows the bus, so a burst larger than its buffer loses rows
// rather than stalling the terminal.
type Journal struct {
	w   *BatchWriter
	db  *db.Database
	bus *events.Bus
	log *zap.Logger
	now func() time.Time
}

func NewJournal(database *db.Database, w *BatchWriter, bus *events.Bus, logger *zap.Logger) *Journal {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Journal{w: w, db: database, bus: bus, log: logger.Named("journal"), now: time.Now}
}

// Queries exposes reads over the journal.
func (j *Journal) Queries() *db.Queries { return j.db.Queries() }

// Metrics reports the writer statistics.
func (j *Journal) Metrics() BatchWriterMetrics { return j.w.GetMetrics() }

// Start subscribes to the bus and consumes events until ctx is done.
func (j *Journal) Start(ctx context.Context) {
	orders, unsubOrders := j.bus.Subscribe(events.EventOrderChanged, journalBuffer)
	trades, unsubTrades := j.bus.Subscribe(events.EventTradeAdded, journalBuffer)
	cmds, unsubCmds := j.bus.Subscribe(events.EventCommandSent, journalBuffer)
	bars, unsubBars := j.bus.Subscribe(events.EventBarCompleted, journalBuffer)

	go func() {
		defer func() {
			unsubOrders()
			unsubTrades()
			unsubCmds()
			unsubBars()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case v := <-orders:
				if o, ok := v.(protocol.Order); ok {
					j.RecordOrder(o)
				}
			case v := <-trades:
				if t, ok := v.(protocol.Trade); ok {
					j.RecordTrade(t)
				}
			case v := <-cmds:
				if cmd, ok := v.(string); ok {
					j.RecordCommand(cmd)
				}
			case v := <-bars:
				if b, ok := v.(market.Bar); ok {
					j.RecordBar(b)
				}
			}
		}
	}()
}

func (j *Journal) RecordOrder(o protocol.Order) {
	j.w.Write(db.UpsertOrder(db.Order{
		ID:        o.ID,
		Token:     o.Token,
		Symbol:    o.Symbol,
		Side:      string(o.Side),
		Type:      string(o.Type),
		Quantity:  o.Quantity,
		Filled:    o.Filled,
		Left:      o.Left,
		Canceled:  o.Canceled,
		Price:     o.Price,
		StopPrice: o.StopPrice,
		Route:     o.Route,
		Status:    o.Status.String(),
		Account:   o.Account,
		UpdatedAt: j.now(),
	}))
}

func (j *Journal) RecordTrade(t protocol.Trade) {
	j.w.Write(db.UpsertTrade(db.Trade{
		ID:        t.ID,
		OrderID:   t.OrderID,
		Symbol:    t.Symbol,
		Side:      string(t.Side),
		Quantity:  t.Quantity,
		Price:     t.Price,
		Route:     t.Route,
		Liquidity: t.Liquidity,
		ECNFee:    t.ECNFee,
		PL:        t.PL,
		TradeTime: t.Time.String(),
		CreatedAt: j.now(),
	}))
}

// RecordCommand keeps order commands only; session and data commands are not journaled.
func (j *Journal) RecordCommand(cmd string) {
	if !protocol.IsOrderCommand(cmd) {
		return
	}
	j.w.Write(db.InsertCommand(db.Command{Command: cmd, SentAt: j.now()}))
}

func (j *Journal) RecordBar(b market.Bar) {
	j.w.Write(db.UpsertBar(db.Bar{
		Symbol:   b.Symbol,
		Interval: b.Interval,
		Day:      j.now().Format(time.DateOnly),
		Start:    int(b.Start),
		Open:     b.Open,
		High:     b.High,
		Low:      b.Low,
		Close:    b.Close,
		Volume:   b.Volume,
	}))
}

// SaveDailyMetrics queues the risk row; it never blocks on the database.
func (j *Journal) SaveDailyMetrics(_ context.Context, date string, m risk.Metrics) error {
	j.w.Write(db.UpsertDailyMetrics(db.DailyMetrics{
		Day:              date,
		DailyPnL:         m.DailyPnL,
		DailyTrades:      m.DailyTrades,
		DailyWins:        m.DailyWins,
		DailyLosses:      m.DailyLosses,
		TotalRealizedPnL: m.TotalRealizedPnL,
		MaxDrawdown:      m.MaxDrawdown,
		MaxProfit:        m.MaxProfit,
		UpdatedAt:        j.now(),
	}))
	return nil
}

// LoadDailyMetrics restores the risk row of date, if stored.
func (j *Journal) LoadDailyMetrics(ctx context.Context, date string) (risk.Metrics, bool, error) {
	m, ok, err := j.db.Queries().GetDailyMetrics(ctx, date)
	if err != nil || !ok {
		return risk.Metrics{}, ok, err
	}
	return risk.Metrics{
		DailyPnL:         m.DailyPnL,
		DailyTrades:      m.DailyTrades,
		DailyWins:        m.DailyWins,
		DailyLosses:      m.DailyLosses,
		TotalRealizedPnL: m.TotalRealizedPnL,
		MaxDrawdown:      m.MaxDrawdown,
		MaxProfit:        m.MaxProfit,
	}, true, nil
}

// Close flushes pending writes.
func (j *Journal) Close() error {
	return j.w.Close()
}
