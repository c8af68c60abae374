// Package engine wires the terminal core together and exposes it to the
// boundary API through the Service interface.
package engine

import (
	"context"

	"equity-terminal/internal/market"
	"equity-terminal/internal/order"
	"equity-terminal/internal/protocol"
	"equity-terminal/internal/symbols"
	"equity-terminal/pkg/db"
)

// Service defines the operations of the terminal core.
// The API layer should only interact with the engine through this interface.
type Service interface {
	// Session
	Connect(ctx context.Context) error
	Login() error
	Disconnect()

	// Symbols
	Subscribe(symbol string) error
	Unsubscribe(symbol string) error
	SetActiveSymbol(symbol string) error

	// Read-only snapshots
	Quote(symbol string) (QuoteSnapshot, error)
	Bars(symbol string, interval, n int) (BarsSnapshot, error)
	Indicators(symbol string) (symbols.Indicators, error)
	Strategy(symbol string) (symbols.Strategy, error)
	Agent(symbol string) (symbols.Agent, error)
	Symbol(symbol string) (SymbolSnapshot, error)
	Positions() []protocol.Position
	Orders(openOnly bool) []protocol.Order
	Trades() []protocol.Trade
	Account() protocol.AccountInfo

	// Orders
	BuyOneR(symbol string, stop float64) (order.SentOrder, error)
	SellAll(symbol string) (order.SentOrder, error)
	SellHalf(symbol string) (order.SentOrder, error)
	Sell70(symbol string) (order.SentOrder, error)
	AddPosition(symbol, mode string, stop float64) (order.SentOrder, error)
	MoveStopToBreakeven(symbol string) (order.SentOrder, error)
	Cancel(orderID string) error
	CancelAll() error

	// Strategy, agent and trailing
	StartStrategy(symbol, mode string, trigger float64) error
	StopStrategy(symbol string) error
	SetAgent(symbol string, enabled bool) error
	StartTrailing(symbol string) error
	StopTrailing(symbol string) error
	ToggleTrailing(symbol string) (bool, error)

	// Indicator resets
	ResetVwap(symbol string, seed *float64) error
	ResetSessionHigh(symbol string, seed *float64) error

	// Risk, journal and system
	Risk() RiskSnapshot
	JournalOrders(ctx context.Context, symbol string, limit int) ([]db.Order, error)
	JournalTrades(ctx context.Context, symbol string, limit int) ([]db.Trade, error)
	JournalCommands(ctx context.Context, limit int) ([]db.Command, error)
	Market() market.SessionStatus
	Status() SystemStatus
	Diagnostics() Diagnostics
}
