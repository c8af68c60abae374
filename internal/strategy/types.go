package strategy

import (
	"errors"

	"equity-terminal/internal/market"
	"equity-terminal/internal/order"
	"equity-terminal/internal/symbols"
)

var (
	ErrInvalidTrigger = errors.New("strategy: trigger price must be positive")
	ErrBuyPending     = errors.New("strategy: entry order still pending")
	ErrTrailNotReady  = errors.New("strategy: trailing data not available yet")
	ErrNoPosition     = errors.New("strategy: no open position")
	ErrUnknownMode    = errors.New("strategy: unknown mode")
)

// Executor is the order side of the machine.
type Executor interface {
	BuyOneR(symbol string, stop float64) (order.SentOrder, error)
	AddPosition(symbol string, newStop, riskFactor float64) (order.SentOrder, error)
	SellAll(symbol string) (order.SentOrder, error)
	SellShares(symbol string, shares int) (order.SentOrder, error)
}

// Positions reports held shares.
type Positions interface {
	Shares(symbol string) int
}

// Bars exposes the primary bar series.
type Bars interface {
	Current(symbol string, interval int) (market.Bar, bool)
	Completed(symbol string, interval, n int) []market.Bar
	Primary() int
}

// Snapshot is published on every strategy change.
type Snapshot struct {
	Symbol string `json:"symbol"`
	symbols.Strategy
}

// AgentSnapshot is published when the detector's trigger or switch changes.
type AgentSnapshot struct {
	Symbol string `json:"symbol"`
	symbols.Agent
}
