package db

import "time"

// Order is the latest known state of a gateway order.
type Order struct {
	ID        string
	Token     string
	Symbol    string
	Side      string
	Type      string
	Quantity  int
	Filled    int
	Left      int
	Canceled  int
	Price     float64
	StopPrice float64
	Route     string
	Status    string
	Account   string
	UpdatedAt time.Time
}

// Trade is one execution report.
type Trade struct {
	ID        string
	OrderID   string
	Symbol    string
	Side      string
	Quantity  int
	Price     float64
	Route     string
	Liquidity string
	ECNFee    float64
	PL        float64
	TradeTime string
	CreatedAt time.Time
}

// Command is an outbound order command as it went to the wire.
type Command struct {
	ID      int64
	Command string
	SentAt  time.Time
}

// DailyMetrics is the per-day risk row.
type DailyMetrics struct {
	Day              string
	DailyPnL         float64
	DailyTrades      int
	DailyWins        int
	DailyLosses      float64
	TotalRealizedPnL float64
	MaxDrawdown      float64
	MaxProfit        float64
	UpdatedAt        time.Time
}

// Bar is a completed OHLCV bar keyed by session day and start second.
type Bar struct {
	Symbol   string
	Interval int
	Day      string
	Start    int
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}
