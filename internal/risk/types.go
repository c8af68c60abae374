package risk

import "equity-terminal/pkg/config"

// Config holds the risk parameters used for sizing and guards.
type Config struct {
	// Dollar risk per trade (1R).
	RiskAmount    float64 `json:"risk_amount"`
	BPMultiplier  float64 `json:"bp_multiplier"`
	SpreadPercent float64 `json:"spread_percent"`

	MinRiskPerShare float64 `json:"min_risk_per_share"`
	MinTrailAll     float64 `json:"min_trail_all"`

	// Buys are refused once realized daily losses reach this value; 0 disables it.
	MaxDailyLoss float64 `json:"max_daily_loss"`
}

// ConfigFromParams extracts the risk subset of the trading parameters.
func ConfigFromParams(p config.Params) Config {
	return Config{
		RiskAmount:      p.RiskAmount,
		BPMultiplier:    p.BPMultiplier,
		SpreadPercent:   p.SpreadPercent,
		MinRiskPerShare: p.MinRiskPerShare,
		MinTrailAll:     p.MinTrailAll,
		MaxDailyLoss:    p.MaxDailyLoss,
	}
}

// DefaultConfig returns the risk subset of the default parameters.
func DefaultConfig() Config {
	return ConfigFromParams(config.DefaultParams())
}

// Metrics tracks realized results for the session.
type Metrics struct {
	DailyPnL    float64 `json:"daily_pnl"`
	DailyTrades int     `json:"daily_trades"`
	DailyLosses float64 `json:"daily_losses"`
	DailyWins   int     `json:"daily_wins"`

	TotalRealizedPnL float64 `json:"total_realized_pnl"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	MaxProfit        float64 `json:"max_profit"`

	// Buy checks evaluated and refused by the daily-loss guard.
	ChecksTotal     uint64 `json:"checks_total"`
	RejectionsTotal uint64 `json:"rejections_total"`
}

// TradeResult is one realized fill result.
type TradeResult struct {
	Symbol string
	Side   string
	Size   float64
	Price  float64
	PnL    float64 // net of fees
	Fee    float64
}
