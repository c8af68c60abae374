package risk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrDailyLossLimit is returned by CheckBuy once the daily loss limit is reached.
var ErrDailyLossLimit = errors.New("risk: daily loss limit reached")

// MetricsStore persists the daily metrics row.
type MetricsStore interface {
	SaveDailyMetrics(ctx context.Context, date string, m Metrics) error
}

// Manager holds the risk configuration and realized-result metrics.
type Manager struct {
	store   MetricsStore
	config  Config
	metrics Metrics
	mu      sync.RWMutex
	log     *zap.Logger
	now     func() time.Time
}

// NewManager creates a manager; store may be nil.
func NewManager(cfg Config, store MetricsStore, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: store, config: cfg, log: logger.Named("risk"), now: time.Now}
}

// NewInMemory creates a risk manager without persistence.
func NewInMemory(cfg Config) *Manager {
	return NewManager(cfg, nil, nil)
}

// GetConfig returns a copy of the current config.
func (m *Manager) GetConfig() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// UpdateConfig replaces the config.
func (m *Manager) UpdateConfig(cfg Config) error {
	if cfg.RiskAmount <= 0 {
		return fmt.Errorf("risk amount must be positive, got %.2f", cfg.RiskAmount)
	}
	if cfg.BPMultiplier <= 0 {
		return fmt.Errorf("bp multiplier must be positive, got %.2f", cfg.BPMultiplier)
	}
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	m.log.Info("risk config updated", zap.Float64("risk_amount", cfg.RiskAmount),
		zap.Float64("bp_multiplier", cfg.BPMultiplier), zap.Float64("max_daily_loss", cfg.MaxDailyLoss))
	return nil
}

// CheckBuy refuses new exposure once realized daily losses reach the limit.
func (m *Manager) CheckBuy(symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics.ChecksTotal++
	if m.config.MaxDailyLoss > 0 && m.metrics.DailyLosses >= m.config.MaxDailyLoss {
		m.metrics.RejectionsTotal++
		return fmt.Errorf("%w: %s losses %.2f/%.2f", ErrDailyLossLimit, symbol, m.metrics.DailyLosses, m.config.MaxDailyLoss)
	}
	return nil
}

// UpdateMetrics folds a realized trade into the metrics.
// trade.PnL is already net of fees.
func (m *Manager) UpdateMetrics(trade TradeResult) error {
	m.mu.Lock()
	net := trade.PnL

	m.metrics.DailyTrades++
	m.metrics.DailyPnL += net
	if net < 0 {
		m.metrics.DailyLosses += -net
	} else if net > 0 {
		m.metrics.DailyWins++
	}

	m.metrics.TotalRealizedPnL += net
	if m.metrics.TotalRealizedPnL > m.metrics.MaxProfit {
		m.metrics.MaxProfit = m.metrics.TotalRealizedPnL
	}
	drawdown := m.metrics.MaxProfit - m.metrics.TotalRealizedPnL
	if drawdown > m.metrics.MaxDrawdown {
		m.metrics.MaxDrawdown = drawdown
	}
	snapshot := m.metrics
	m.mu.Unlock()

	if m.store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return m.store.SaveDailyMetrics(ctx, m.now().Format("2006-01-02"), snapshot)
}

// ResetDailyMetrics clears the daily counters at a session rollover.
func (m *Manager) ResetDailyMetrics() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.log.Info("daily metrics reset", zap.Float64("pnl", m.metrics.DailyPnL),
		zap.Int("trades", m.metrics.DailyTrades), zap.Float64("losses", m.metrics.DailyLosses))

	m.metrics.DailyPnL = 0
	m.metrics.DailyTrades = 0
	m.metrics.DailyLosses = 0
	m.metrics.DailyWins = 0
}

// GetMetrics returns current metrics snapshot.
func (m *Manager) GetMetrics() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metrics
}

// RestoreMetrics seeds the metrics from a stored row, e.g. after a restart
// within the same session day. Check counters are kept.
func (m *Manager) RestoreMetrics(stored Metrics) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored.ChecksTotal = m.metrics.ChecksTotal
	stored.RejectionsTotal = m.metrics.RejectionsTotal
	m.metrics = stored
}
