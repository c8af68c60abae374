package events

import "time"

// Event enumerates high-level topics inside the terminal core.
type Event string

const (
	// Session
	EventConnected    Event = "session.connected"
	EventDisconnected Event = "session.disconnected"
	EventLoginResult  Event = "session.login"
	EventServerStatus Event = "session.server_status"
	EventRawLine      Event = "protocol.raw"
	EventCommandSent  Event = "protocol.command_sent"

	// Symbols
	EventSymbolAdded   Event = "symbol.subscribed"
	EventSymbolRemoved Event = "symbol.unsubscribed"
	EventActiveChanged Event = "symbol.active_changed"

	// Market data
	EventQuoteUpdated Event = "market.quote"
	EventTick         Event = "market.tick"
	EventLevel2       Event = "market.level2"
	EventBarLine      Event = "market.bar_line"
	EventBarUpdated   Event = "market.bar_updated"
	EventBarCompleted Event = "market.bar_completed"

	// Indicators
	EventIndicatorUpdated   Event = "indicator.updated"
	EventVwapUpdated        Event = "indicator.vwap"
	EventSessionHighUpdated Event = "indicator.session_high"
	EventEmaCross           Event = "indicator.ema_cross"
	EventVwapCross          Event = "indicator.vwap_cross"
	EventLevelCross         Event = "indicator.level_cross"

	// Account
	EventAccountChanged  Event = "account.changed"
	EventPositionChanged Event = "account.position"
	EventOrderChanged    Event = "account.order"
	EventOrderAction     Event = "account.order_action"
	EventOrderExecuted   Event = "account.order_executed"
	EventOrderRejected   Event = "account.order_rejected"
	EventTradeAdded      Event = "account.trade"

	// Execution and strategy
	EventOrderSent       Event = "order.sent"
	EventStrategyChanged Event = "strategy.changed"
	EventAgentTrigger    Event = "agent.trigger_price"
	EventAgentState      Event = "agent.state"

	// Diagnostics
	EventLog   Event = "log"
	EventAlert Event = "alert"
)

// LoginResult is published once the gateway answers a LOGIN command.
type LoginResult struct {
	Success bool   `json:"success"`
	Line    string `json:"line"`
}

// Disconnected carries the reason a session ended; Err is empty on orderly closure.
type Disconnected struct {
	Err string `json:"error,omitempty"`
}

// SymbolChange is published on subscribe/unsubscribe and on active symbol changes.
// Symbol is empty when the active symbol became undefined.
type SymbolChange struct {
	Symbol string `json:"symbol"`
}

// CrossDirection tells whether price moved above or below a reference line.
type CrossDirection string

const (
	CrossUp   CrossDirection = "up"
	CrossDown CrossDirection = "down"
)

// Cross reports price crossing an indicator line or a breakout level.
type Cross struct {
	Symbol    string         `json:"symbol"`
	Direction CrossDirection `json:"direction"`
	Price     float64        `json:"price"`
	Level     float64        `json:"level"`
	// Time is the HH:MM:SS of the tick that crossed.
	Time string `json:"time"`
}

// LogLine is a categorized log entry republished for UI consumers.
type LogLine struct {
	Category string    `json:"category"`
	Level    string    `json:"level"`
	Message  string    `json:"message"`
	Time     time.Time `json:"time"`
}
