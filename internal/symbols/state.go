package symbols

import (
	"sync"

	"equity-terminal/internal/protocol"
)

// Phase is the strategy machine state of one symbol.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseArmed
	PhaseBuyTriggered
	PhasePositionOpen
)

func (p Phase) String() string {
	switch p {
	case PhaseArmed:
		return "Armed"
	case PhaseBuyTriggered:
		return "BuyTriggered"
	case PhasePositionOpen:
		return "PositionOpen"
	default:
		return "Idle"
	}
}

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// Mode is the entry flavour an armed strategy fires.
type Mode int

const (
	ModeOpen Mode = iota
	ModeAddAll
	ModeAddHalf
)

func (m Mode) String() string {
	switch m {
	case ModeAddAll:
		return "AddAll"
	case ModeAddHalf:
		return "AddHalf"
	default:
		return "Open"
	}
}

func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// Indicators is written by the indicator engine only.
type Indicators struct {
	ATR         float64 `json:"atr14"`
	EMA         float64 `json:"ema20"`
	VWAP        float64 `json:"vwap"`
	SessionHigh float64 `json:"sessionHigh"`

	VwapPV     float64 `json:"-"`
	VwapVolume float64 `json:"-"`
	HighSeeded bool    `json:"-"`
	LastPrice  float64 `json:"-"`
}

// Strategy is written by the strategy machine only.
type Strategy struct {
	Phase         Phase   `json:"phase"`
	Mode          Mode    `json:"mode"`
	HighBreakout  bool    `json:"highBreakout"`
	TriggerPrice  float64 `json:"triggerPrice"`
	StopPrice     float64 `json:"stopPrice"`
	TriggeredBuy  bool    `json:"triggeredBuy"`
	TriggeredSell bool    `json:"triggeredSell"`
	EntryToken    string  `json:"entryToken,omitempty"`

	// Entry bar start; trailing statistics need it completed first.
	EntryBar   protocol.TimeOfDay `json:"entryBar"`
	TrailReady bool               `json:"trailReady"`
	TrailHalf  float64            `json:"trailHalf"`
	TrailAll   float64            `json:"trailAll"`
	Trailing   bool               `json:"trailing"`
	TrailHigh  float64            `json:"trailHigh"`
	HalfFired  bool               `json:"halfFired"`
	Remainder  int                `json:"remainder"`
}

// LastBuy accumulates fills of the most recent buy order.
type LastBuy struct {
	Token  string  `json:"token"`
	Shares int     `json:"shares"`
	Cost   float64 `json:"cost"`
}

// AvgPrice returns the average fill price of the accumulated shares.
func (l LastBuy) AvgPrice() float64 {
	if l.Shares == 0 {
		return 0
	}
	return l.Cost / float64(l.Shares)
}

// PendingSell remembers the protective stop to restore once a partial sell executes.
type PendingSell struct {
	Token     string             `json:"token"`
	Shares    int                `json:"shares"`
	StopPrice float64            `json:"stopPrice"`
	StopType  protocol.OrderType `json:"stopType"`
}

// Execution is written by the order execution manager only.
type Execution struct {
	LastBuy     LastBuy      `json:"lastBuy"`
	PendingSell *PendingSell `json:"pendingSell,omitempty"`
}

// Agent is written by the agent detector only.
type Agent struct {
	Enabled        bool    `json:"enabled"`
	Initialized    bool    `json:"initialized"`
	PrevPrice      float64 `json:"prevPrice"`
	BreakedLevel   float64 `json:"breakedLevel"`
	CurrentBarHigh float64 `json:"currentBarHigh"`
	LastTriggered  float64 `json:"lastTriggered"`
	NextTrigger    float64 `json:"nextTrigger"`
}

// State is the per-symbol aggregate. Each field group has one writer; any
// component may read a copy.
type State struct {
	Symbol string

	mu         sync.RWMutex
	quote      protocol.Quote
	indicators Indicators
	strategy   Strategy
	execution  Execution
	agent      Agent
}

func newState(symbol string) *State {
	return &State{Symbol: symbol, quote: protocol.Quote{Symbol: symbol}}
}

// Quote returns a copy of the level-1 quote.
func (s *State) Quote() protocol.Quote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.quote
}

// MergeQuote applies the fields present in u and returns the merged quote.
func (s *State) MergeQuote(u protocol.Quote) protocol.Quote {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quote.Merge(u)
	return s.quote
}

func (s *State) Indicators() Indicators {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indicators
}

// UpdateIndicators mutates the indicator group under the write lock.
func (s *State) UpdateIndicators(fn func(*Indicators)) Indicators {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.indicators)
	return s.indicators
}

func (s *State) Strategy() Strategy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.strategy
}

// UpdateStrategy mutates the strategy group under the write lock.
func (s *State) UpdateStrategy(fn func(*Strategy)) Strategy {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.strategy)
	return s.strategy
}

func (s *State) Execution() Execution {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e := s.execution
	if e.PendingSell != nil {
		ps := *e.PendingSell
		e.PendingSell = &ps
	}
	return e
}

// UpdateExecution mutates the execution group under the write lock.
func (s *State) UpdateExecution(fn func(*Execution)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.execution)
}

func (s *State) Agent() Agent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.agent
}

// UpdateAgent mutates the agent group under the write lock.
func (s *State) UpdateAgent(fn func(*Agent)) Agent {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.agent)
	return s.agent
}
