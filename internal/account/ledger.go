package account

import (
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"equity-terminal/internal/events"
	"equity-terminal/internal/protocol"
)

// OrderUpdate describes what one %ORDER line changed.
type OrderUpdate struct {
	Order    protocol.Order  `json:"order"`
	Prev     protocol.Status `json:"prev"`
	Executed bool            `json:"executed"`
	// Rejected is set when the order moved into Rejected or Canceled.
	Rejected bool `json:"rejected"`
}

// Ledger is the authoritative view of orders, fills, positions and account values.
// It never predicts state: every change comes from a gateway line.
type Ledger struct {
	mu         sync.RWMutex
	positions  map[string]protocol.Position
	orders     map[string]protocol.Order
	tokens     map[string]string
	trades     map[string]protocol.Trade
	tradeOrder []string
	account    protocol.AccountInfo

	bus *events.Bus
	log *zap.Logger
}

// NewLedger creates an empty ledger.
func NewLedger(bus *events.Bus, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		positions: make(map[string]protocol.Position),
		orders:    make(map[string]protocol.Order),
		tokens:    make(map[string]string),
		trades:    make(map[string]protocol.Trade),
		bus:       bus,
		log:       logger.Named("account"),
	}
}

// OnPosition replaces the symbol's position wholesale.
func (l *Ledger) OnPosition(p protocol.Position) {
	l.mu.Lock()
	l.positions[p.Symbol] = p
	l.mu.Unlock()
	l.bus.Publish(events.EventPositionChanged, p)
}

// OnOrder upserts an order by id.
func (l *Ledger) OnOrder(o protocol.Order) OrderUpdate {
	l.mu.Lock()
	prev, known := l.orders[o.ID]
	l.orders[o.ID] = o
	if o.Token != "" {
		l.tokens[o.Token] = o.ID
	}
	l.mu.Unlock()

	upd := OrderUpdate{Order: o}
	if known {
		upd.Prev = prev.Status
	}
	changed := !known || prev.Status != o.Status
	upd.Executed = changed && o.Status == protocol.StatusExecuted
	upd.Rejected = changed && (o.Status == protocol.StatusRejected || o.Status == protocol.StatusCanceled)

	l.bus.Publish(events.EventOrderChanged, o)
	if upd.Executed {
		l.log.Info("order executed", zap.String("symbol", o.Symbol), zap.String("id", o.ID),
			zap.String("side", string(o.Side)), zap.Int("qty", o.Quantity), zap.Float64("price", o.Price))
		l.bus.Publish(events.EventOrderExecuted, o)
	}
	if upd.Rejected {
		l.log.Warn("order ended without fill", zap.String("symbol", o.Symbol), zap.String("id", o.ID),
			zap.String("token", o.Token), zap.Stringer("status", o.Status), zap.Int("filled", o.Filled))
		l.bus.Publish(events.EventOrderRejected, o)
	}
	return upd
}

// OnOrderAction republishes an action and reports whether it rejects an order the
// ledger has not already seen rejected.
func (l *Ledger) OnOrderAction(a protocol.OrderAction) bool {
	l.bus.Publish(events.EventOrderAction, a)
	if !strings.EqualFold(a.Action, "Rejected") {
		return false
	}
	l.mu.RLock()
	o, ok := l.orderByTokenLocked(a.Token)
	l.mu.RUnlock()
	if ok && o.Status == protocol.StatusRejected {
		return false
	}
	l.log.Warn("order rejected", zap.String("symbol", a.Symbol), zap.String("token", a.Token),
		zap.Int("qty", a.Quantity), zap.Float64("price", a.Price), zap.String("notes", a.Notes))
	return true
}

// OnTrade upserts a trade by id and reports whether the id is new. A resent
// trade with changed fields replaces the stored one and is published again,
// but only a new id counts as a fresh fill.
func (l *Ledger) OnTrade(t protocol.Trade) bool {
	l.mu.Lock()
	prev, known := l.trades[t.ID]
	l.trades[t.ID] = t
	if !known {
		l.tradeOrder = append(l.tradeOrder, t.ID)
	}
	l.mu.Unlock()
	if known && prev == t {
		return false
	}
	l.bus.Publish(events.EventTradeAdded, t)
	return !known
}

// OnAccountInfo overwrites account values but keeps the buying-power fields.
func (l *Ledger) OnAccountInfo(a protocol.AccountInfo) {
	l.mu.Lock()
	a.BuyingPower = l.account.BuyingPower
	a.OvernightBuyingPower = l.account.OvernightBuyingPower
	l.account = a
	l.mu.Unlock()
	l.bus.Publish(events.EventAccountChanged, a)
}

// OnBuyingPower updates only the buying-power fields.
func (l *Ledger) OnBuyingPower(bp protocol.BuyingPower) {
	l.mu.Lock()
	l.account.BuyingPower = bp.Value
	l.account.OvernightBuyingPower = bp.Overnight
	a := l.account
	l.mu.Unlock()
	l.bus.Publish(events.EventAccountChanged, a)
}

// GetPosition returns the symbol's position.
func (l *Ledger) GetPosition(symbol string) (protocol.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[symbol]
	return p, ok
}

// Shares returns the signed quantity held, zero when flat or unknown.
func (l *Ledger) Shares(symbol string) int {
	p, _ := l.GetPosition(symbol)
	return p.Quantity
}

// Positions returns every position sorted by symbol.
func (l *Ledger) Positions() []protocol.Position {
	l.mu.RLock()
	out := make([]protocol.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, p)
	}
	l.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// PositionCost is the capital tied up in open positions.
func (l *Ledger) PositionCost() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var cost float64
	for _, p := range l.positions {
		q := p.Quantity
		if q < 0 {
			q = -q
		}
		cost += float64(q) * p.AvgCost
	}
	return cost
}

// GetOpenOrders returns orders that can still fill; symbol "" means all symbols.
func (l *Ledger) GetOpenOrders(symbol string) []protocol.Order {
	l.mu.RLock()
	var out []protocol.Order
	for _, o := range l.orders {
		if o.Status.Open() && (symbol == "" || o.Symbol == symbol) {
			out = append(out, o)
		}
	}
	l.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Orders returns every known order.
func (l *Ledger) Orders() []protocol.Order {
	l.mu.RLock()
	out := make([]protocol.Order, 0, len(l.orders))
	for _, o := range l.orders {
		out = append(out, o)
	}
	l.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (l *Ledger) GetOrder(id string) (protocol.Order, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	o, ok := l.orders[id]
	return o, ok
}

func (l *Ledger) GetOrderByToken(token string) (protocol.Order, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.orderByTokenLocked(token)
}

func (l *Ledger) orderByTokenLocked(token string) (protocol.Order, bool) {
	id, ok := l.tokens[token]
	if !ok {
		return protocol.Order{}, false
	}
	o, ok := l.orders[id]
	return o, ok
}

// Trades returns fills in arrival order.
func (l *Ledger) Trades() []protocol.Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]protocol.Trade, 0, len(l.tradeOrder))
	for _, id := range l.tradeOrder {
		out = append(out, l.trades[id])
	}
	return out
}

// Account returns the merged account record.
func (l *Ledger) Account() protocol.AccountInfo {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.account
}
