package engine

import (
	"errors"
	"time"

	"equity-terminal/internal/market"
	"equity-terminal/internal/monitor"
	"equity-terminal/internal/persistence"
	"equity-terminal/internal/protocol"
	"equity-terminal/internal/risk"
	"equity-terminal/internal/symbols"
	"equity-terminal/pkg/cache"
)

var (
	ErrUnknownSymbol   = errors.New("engine: symbol not subscribed")
	ErrInvalidSymbol   = errors.New("engine: invalid symbol")
	ErrNoCredentials   = errors.New("engine: gateway credentials not configured")
	ErrJournalDisabled = errors.New("engine: journal disabled")
	ErrUnknownAddMode  = errors.New("engine: add mode must be breakeven or half-profit")
)

// SystemStatus represents the system runtime status.
type SystemStatus struct {
	Connected    bool                 `json:"connected"`
	LoggedIn     bool                 `json:"logged_in"`
	DryRun       bool                 `json:"dry_run"`
	Gateway      string               `json:"gateway"`
	Account      string               `json:"account"`
	Symbols      []string             `json:"symbols"`
	ActiveSymbol string               `json:"active_symbol"`
	Version      string               `json:"version"`
	Session      market.SessionStatus `json:"session"`
	ServerTime   time.Time            `json:"server_time"`
}

// QuoteSnapshot is the cached quote with its age.
type QuoteSnapshot struct {
	protocol.Quote
	AgeMs int64 `json:"ageMs"`
}

// BarsSnapshot is one series of a symbol.
type BarsSnapshot struct {
	Symbol    string       `json:"symbol"`
	Interval  int          `json:"interval"`
	Current   *market.Bar  `json:"current,omitempty"`
	Completed []market.Bar `json:"completed"`
}

// SymbolSnapshot bundles every per-symbol value group.
type SymbolSnapshot struct {
	Symbol     string             `json:"symbol"`
	Active     bool               `json:"active"`
	Quote      protocol.Quote     `json:"quote"`
	Indicators symbols.Indicators `json:"indicators"`
	Strategy   symbols.Strategy   `json:"strategy"`
	Execution  symbols.Execution  `json:"execution"`
	Agent      symbols.Agent      `json:"agent"`
	Position   *protocol.Position `json:"position,omitempty"`
}

// RiskSnapshot is the active risk configuration with the realized metrics.
type RiskSnapshot struct {
	Config  risk.Config  `json:"config"`
	Metrics risk.Metrics `json:"metrics"`
}

// Diagnostics groups the runtime counters.
type Diagnostics struct {
	Dispatch monitor.MetricsSnapshot        `json:"dispatch"`
	Quotes   cache.Stats                     `json:"quotes"`
	Journal  *persistence.BatchWriterMetrics `json:"journal,omitempty"`
}
