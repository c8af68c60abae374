package order

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"equity-terminal/internal/events"
	"equity-terminal/internal/market"
	"equity-terminal/internal/protocol"
	"equity-terminal/internal/risk"
	"equity-terminal/internal/symbols"
	"equity-terminal/pkg/config"
)

// Book is the account view the manager sizes against.
type Book interface {
	Shares(symbol string) int
	GetPosition(symbol string) (protocol.Position, bool)
	GetOpenOrders(symbol string) []protocol.Order
	GetOrder(id string) (protocol.Order, bool)
	PositionCost() float64
	Account() protocol.AccountInfo
}

// BarSource exposes the bars smart stops are taken from.
type BarSource interface {
	Current(symbol string, interval int) (market.Bar, bool)
	Previous(symbol string, interval int) (market.Bar, bool)
	Primary() int
}

// States resolves subscribed symbols.
type States interface {
	Get(symbol string) (*symbols.State, bool)
}

// Manager turns trading intents into NEWORDER/CANCEL commands. It is the only
// writer of symbols.Execution.
type Manager struct {
	sender Sender
	book   Book
	bars   BarSource
	states States
	risk   *risk.Manager
	bus    *events.Bus
	log    *zap.Logger

	mu        sync.RWMutex
	params    config.Params
	observers []Observer

	newToken func() string
	now      func() time.Time
}

// NewManager wires an order manager.
func NewManager(sender Sender, book Book, bars BarSource, states States, rm *risk.Manager, params config.Params, bus *events.Bus, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if rm == nil {
		rm = risk.NewInMemory(risk.ConfigFromParams(params))
	}
	return &Manager{
		sender:   sender,
		book:     book,
		bars:     bars,
		states:   states,
		risk:     rm,
		bus:      bus,
		log:      logger.Named("order"),
		params:   params,
		newToken: newToken,
		now:      time.Now,
	}
}

func newToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// SetParams swaps the trading parameters.
func (m *Manager) SetParams(p config.Params) {
	m.mu.Lock()
	m.params = p
	m.mu.Unlock()
}

func (m *Manager) Params() config.Params {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.params
}

// OnSent registers an observer called before every order transmission.
func (m *Manager) OnSent(fn Observer) {
	m.mu.Lock()
	m.observers = append(m.observers, fn)
	m.mu.Unlock()
}

func (m *Manager) state(symbol string) (*symbols.State, error) {
	st, ok := m.states.Get(symbols.Normalize(symbol))
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	return st, nil
}

// send assigns a fresh token unless one is set, notifies observers and transmits.
func (m *Manager) send(so SentOrder) (SentOrder, error) {
	if so.Token == "" {
		so.Token = m.newToken()
	}
	so.Route = m.Params().Route
	so.Time = m.now()
	so.Command = protocol.NewOrderCommand(so.Request())

	m.mu.RLock()
	observers := append([]Observer(nil), m.observers...)
	m.mu.RUnlock()
	for _, fn := range observers {
		fn(so)
	}
	m.bus.Publish(events.EventOrderSent, so)

	if err := m.sender.Send(so.Command); err != nil {
		m.log.Error("order send failed", zap.String("symbol", so.Symbol), zap.String("token", so.Token), zap.Error(err))
		return so, fmt.Errorf("send %s %s: %w", so.Side, so.Symbol, err)
	}
	m.log.Info("order sent", zap.String("symbol", so.Symbol), zap.String("side", string(so.Side)),
		zap.String("type", string(so.Type)), zap.Int("qty", so.Quantity), zap.Float64("price", so.Price),
		zap.Float64("stop", so.StopPrice), zap.String("reason", so.Reason), zap.String("token", so.Token))
	return so, nil
}

// Buy sends a limit buy of up to shares at ref plus the spread, clamped to the
// buying-power cap and the symbol's position cap.
func (m *Manager) Buy(symbol string, shares int, ref float64) (SentOrder, error) {
	return m.buy(symbol, shares, ref, "buy")
}

func (m *Manager) buy(symbol string, shares int, ref float64, reason string) (SentOrder, error) {
	st, err := m.state(symbol)
	if err != nil {
		return SentOrder{}, err
	}
	if shares <= 0 {
		return SentOrder{}, ErrInvalidShares
	}
	if ref <= 0 {
		return SentOrder{}, ErrInvalidPrice
	}
	if err := m.risk.CheckBuy(st.Symbol); err != nil {
		m.log.Warn("buy refused", zap.String("symbol", st.Symbol), zap.Error(err))
		return SentOrder{}, err
	}

	cfg := m.risk.GetConfig()
	p := m.Params()
	acct := m.book.Account()
	held := m.book.Shares(st.Symbol)
	bpCap := risk.BuyingPowerCap(acct.CurrentEquity, cfg.BPMultiplier, m.book.PositionCost(), ref)
	n := risk.ClampShares(shares, bpCap, p.MaxSharesFor(st.Symbol), held)
	if n == 0 {
		m.log.Warn("buy clamped to zero shares", zap.String("symbol", st.Symbol), zap.Int("requested", shares),
			zap.Int("bp_cap", bpCap), zap.Int("held", held), zap.Float64("equity", acct.CurrentEquity),
			zap.Float64("ref", ref))
		return SentOrder{}, fmt.Errorf("%w: %s requested %d", ErrZeroShares, st.Symbol, shares)
	}
	if n < shares {
		m.log.Info("buy clamped", zap.String("symbol", st.Symbol), zap.Int("requested", shares), zap.Int("shares", n))
	}

	so := SentOrder{
		Symbol:   st.Symbol,
		Side:     protocol.SideBuy,
		Type:     protocol.TypeLimit,
		Quantity: n,
		Price:    risk.BuyLimit(ref, cfg.SpreadPercent),
		Reason:   reason,
		Token:    m.newToken(),
	}
	st.UpdateExecution(func(e *symbols.Execution) {
		e.LastBuy = symbols.LastBuy{Token: so.Token}
	})
	return m.send(so)
}

// BuyOneR buys floor(risk / (ask − stop)) shares.
func (m *Manager) BuyOneR(symbol string, stop float64) (SentOrder, error) {
	st, err := m.state(symbol)
	if err != nil {
		return SentOrder{}, err
	}
	q := st.Quote()
	if q.Ask <= 0 {
		m.log.Warn("1R buy without ask", zap.String("symbol", st.Symbol))
		return SentOrder{}, ErrNoQuote
	}
	cfg := m.risk.GetConfig()
	n, err := risk.OneRShares(cfg.RiskAmount, q.Ask, stop)
	if err != nil {
		m.log.Warn("1R buy rejected", zap.String("symbol", st.Symbol), zap.Float64("ask", q.Ask),
			zap.Float64("stop", stop), zap.Float64("risk", cfg.RiskAmount), zap.Error(err))
		return SentOrder{}, err
	}
	return m.buy(st.Symbol, n, q.Ask, "1R")
}

// AddPosition adds to a long position sized so that a stop at newStop keeps
// (1 − riskFactor) of the open profit.
func (m *Manager) AddPosition(symbol string, newStop, riskFactor float64) (SentOrder, error) {
	st, err := m.state(symbol)
	if err != nil {
		return SentOrder{}, err
	}
	pos, ok := m.book.GetPosition(st.Symbol)
	if !ok || pos.Quantity <= 0 {
		return SentOrder{}, ErrNoPosition
	}
	q := st.Quote()
	if q.Ask <= 0 || q.Bid <= 0 {
		return SentOrder{}, ErrNoQuote
	}
	in := risk.AddInput{
		Shares:     pos.Quantity,
		AvgCost:    pos.AvgCost,
		Bid:        q.Bid,
		Ask:        q.Ask,
		NewStop:    newStop,
		RiskFactor: riskFactor,
		RiskAmount: m.risk.GetConfig().RiskAmount,
	}
	n := risk.AddShares(in)
	if n <= 0 {
		m.log.Info("add skipped", zap.String("symbol", st.Symbol), zap.Int("shares", pos.Quantity),
			zap.Float64("avg", pos.AvgCost), zap.Float64("bid", q.Bid), zap.Float64("ask", q.Ask),
			zap.Float64("stop", newStop), zap.Float64("factor", riskFactor))
		return SentOrder{}, ErrAddSkipped
	}
	return m.buy(st.Symbol, n, q.Ask, "add")
}

// SmartStopPrice returns the low of the current primary bar, or of the previous
// completed bar when the bid already sits at the current low.
func (m *Manager) SmartStopPrice(symbol string) (float64, error) {
	st, err := m.state(symbol)
	if err != nil {
		return 0, err
	}
	iv := m.bars.Primary()
	cur, hasCur := m.bars.Current(st.Symbol, iv)
	prev, hasPrev := m.bars.Previous(st.Symbol, iv)
	stop, ok := risk.SmartStop(cur, hasCur, prev, hasPrev, st.Quote().Bid)
	if !ok {
		return 0, ErrNoBars
	}
	return stop, nil
}

// SellAll flattens the long position.
func (m *Manager) SellAll(symbol string) (SentOrder, error) {
	return m.sellPercent(symbol, 100, "sell all")
}

func (m *Manager) SellHalf(symbol string) (SentOrder, error) {
	return m.sellPercent(symbol, 50, "sell half")
}

func (m *Manager) Sell70(symbol string) (SentOrder, error) {
	return m.sellPercent(symbol, 70, "sell 70%")
}

// SellShares sells up to shares of the long position.
func (m *Manager) SellShares(symbol string, shares int) (SentOrder, error) {
	if shares <= 0 {
		return SentOrder{}, ErrInvalidShares
	}
	return m.sell(symbol, func(int) int { return shares }, "sell shares")
}

func (m *Manager) sellPercent(symbol string, pct int, reason string) (SentOrder, error) {
	return m.sell(symbol, func(held int) int { return risk.PercentOf(held, pct) }, reason)
}

func (m *Manager) sell(symbol string, size func(held int) int, reason string) (SentOrder, error) {
	st, err := m.state(symbol)
	if err != nil {
		return SentOrder{}, err
	}
	held := m.book.Shares(st.Symbol)
	if held <= 0 {
		return SentOrder{}, ErrNoPosition
	}
	shares := size(held)
	if shares > held {
		shares = held
	}
	if shares <= 0 {
		m.log.Warn("sell size is zero", zap.String("symbol", st.Symbol), zap.Int("held", held), zap.String("reason", reason))
		return SentOrder{}, ErrInvalidShares
	}
	bid := st.Quote().Bid
	if bid <= 0 {
		return SentOrder{}, ErrNoQuote
	}

	stop, hadStop := m.cancelStops(st.Symbol)
	so, err := m.send(SentOrder{
		Symbol:   st.Symbol,
		Side:     protocol.SideSell,
		Type:     protocol.TypeLimit,
		Quantity: shares,
		Price:    risk.SellLimit(bid, m.risk.GetConfig().SpreadPercent),
		Reason:   reason,
	})
	if err != nil {
		return so, err
	}
	st.UpdateExecution(func(e *symbols.Execution) {
		e.PendingSell = nil
		if hadStop && shares < held {
			e.PendingSell = &symbols.PendingSell{
				Token:     so.Token,
				Shares:    held - shares,
				StopPrice: stop.StopPrice,
				StopType:  stop.Type,
			}
		}
	})
	return so, nil
}

// cancelStops cancels every resting sell stop of symbol and returns the first.
func (m *Manager) cancelStops(symbol string) (protocol.Order, bool) {
	var first protocol.Order
	var found bool
	for _, o := range m.book.GetOpenOrders(symbol) {
		if o.Side != protocol.SideSell || !o.Type.IsStop() {
			continue
		}
		if !found {
			first, found = o, true
		}
		if err := m.sender.Send(protocol.CancelCommand(o.ID)); err != nil {
			m.log.Error("stop cancel failed", zap.String("symbol", symbol), zap.String("id", o.ID), zap.Error(err))
			continue
		}
		m.log.Info("stop canceled", zap.String("symbol", symbol), zap.String("id", o.ID), zap.Float64("stop", o.StopPrice))
	}
	return first, found
}

// MoveStopToBreakeven replaces resting stops with one stop-market sell of the
// whole position at its average cost.
func (m *Manager) MoveStopToBreakeven(symbol string) (SentOrder, error) {
	st, err := m.state(symbol)
	if err != nil {
		return SentOrder{}, err
	}
	pos, ok := m.book.GetPosition(st.Symbol)
	if !ok || pos.Quantity <= 0 {
		return SentOrder{}, ErrNoPosition
	}
	m.cancelStops(st.Symbol)
	st.UpdateExecution(func(e *symbols.Execution) { e.PendingSell = nil })
	return m.send(SentOrder{
		Symbol:    st.Symbol,
		Side:      protocol.SideSell,
		Type:      protocol.TypeStopMarket,
		Quantity:  pos.Quantity,
		StopPrice: risk.Round2(pos.AvgCost),
		Reason:    "breakeven stop",
	})
}

// Cancel cancels one order by gateway id.
func (m *Manager) Cancel(orderID string) error {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return fmt.Errorf("cancel: empty order id")
	}
	return m.sender.Send(protocol.CancelCommand(orderID))
}

func (m *Manager) CancelAll() error {
	return m.sender.Send(protocol.CancelAllCommand())
}

// OnTrade accumulates buy fills that belong to the symbol's last buy.
func (m *Manager) OnTrade(t protocol.Trade) {
	if t.Side != protocol.SideBuy || t.Quantity <= 0 {
		return
	}
	o, ok := m.book.GetOrder(t.OrderID)
	if !ok || o.Token == "" {
		return
	}
	st, ok := m.states.Get(t.Symbol)
	if !ok {
		return
	}
	st.UpdateExecution(func(e *symbols.Execution) {
		if e.LastBuy.Token != o.Token {
			return
		}
		e.LastBuy.Shares += t.Quantity
		e.LastBuy.Cost += float64(t.Quantity) * t.Price
	})
}

// OnOrderExecuted restores the protective stop once a partial sell completes.
func (m *Manager) OnOrderExecuted(o protocol.Order) {
	st, ok := m.states.Get(o.Symbol)
	if !ok {
		return
	}
	ps := st.Execution().PendingSell
	if ps == nil || ps.Token != o.Token {
		return
	}
	st.UpdateExecution(func(e *symbols.Execution) { e.PendingSell = nil })

	shares := ps.Shares
	if held := m.book.Shares(o.Symbol); held < shares {
		shares = held
	}
	if shares <= 0 {
		return
	}
	so := SentOrder{
		Symbol:    o.Symbol,
		Side:      protocol.SideSell,
		Type:      ps.StopType,
		Quantity:  shares,
		StopPrice: ps.StopPrice,
		Reason:    "restore stop",
	}
	if so.Type != protocol.TypeStopMarket {
		so.Price = risk.SellLimit(ps.StopPrice, m.risk.GetConfig().SpreadPercent)
	}
	if _, err := m.send(so); err != nil {
		m.log.Error("stop restore failed", zap.String("symbol", o.Symbol), zap.Error(err))
	}
}
