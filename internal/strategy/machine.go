package strategy

import (
	"math"
	"sync"

	"go.uber.org/zap"

	"equity-terminal/internal/events"
	"equity-terminal/internal/market"
	"equity-terminal/internal/order"
	"equity-terminal/internal/protocol"
	"equity-terminal/internal/risk"
	"equity-terminal/internal/symbols"
	"equity-terminal/pkg/config"
)

const (
	stopOffset    = 0.01
	openStopFloor = 0.51
)

// Machine drives the per-symbol entry/exit state machine. It is the only
// writer of symbols.Strategy and runs on the dispatch goroutine.
type Machine struct {
	exec Executor
	book Positions
	bars Bars
	bus  *events.Bus
	log  *zap.Logger

	mu     sync.RWMutex
	params config.Params
}

func NewMachine(exec Executor, book Positions, bars Bars, params config.Params, bus *events.Bus, logger *zap.Logger) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{exec: exec, book: book, bars: bars, params: params, bus: bus, log: logger.Named("strategy")}
}

func (m *Machine) SetParams(p config.Params) {
	m.mu.Lock()
	m.params = p
	m.mu.Unlock()
}

func (m *Machine) settings() config.Params {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.params
}

func (m *Machine) publish(st *symbols.State, s symbols.Strategy) {
	m.bus.Publish(events.EventStrategyChanged, Snapshot{Symbol: st.Symbol, Strategy: s})
}

// Arm waits for price to reach trigger and then enters with mode. A
// high-breakout arm without a trigger uses the session high.
func (m *Machine) Arm(st *symbols.State, mode symbols.Mode, trigger float64, highBreakout bool) error {
	if highBreakout && trigger <= 0 {
		trigger = st.Indicators().SessionHigh
	}
	if trigger <= 0 {
		return ErrInvalidTrigger
	}
	if st.Strategy().Phase == symbols.PhaseBuyTriggered {
		return ErrBuyPending
	}
	s := st.UpdateStrategy(func(s *symbols.Strategy) {
		s.Phase = symbols.PhaseArmed
		s.Mode = mode
		s.HighBreakout = highBreakout
		s.TriggerPrice = trigger
		s.TriggeredBuy = false
		s.TriggeredSell = false
		if mode == symbols.ModeOpen {
			s.StopPrice = 0
		}
	})
	m.log.Info("armed", zap.String("symbol", st.Symbol), zap.Stringer("mode", mode),
		zap.Bool("high_breakout", highBreakout), zap.Float64("trigger", trigger))
	m.publish(st, s)
	return nil
}

// Stop disarms the symbol and clears every strategy field.
func (m *Machine) Stop(st *symbols.State) {
	m.reset(st, "stopped")
}

func (m *Machine) reset(st *symbols.State, why string) {
	s := st.UpdateStrategy(func(s *symbols.Strategy) { *s = symbols.Strategy{} })
	m.log.Info("strategy idle", zap.String("symbol", st.Symbol), zap.String("reason", why))
	m.publish(st, s)
}

// OnManualSell returns the symbol to Idle after a sell sent from outside the machine.
func (m *Machine) OnManualSell(st *symbols.State) {
	m.reset(st, "manual sell")
}

// SetStop replaces the hard stop price, e.g. after an add.
func (m *Machine) SetStop(st *symbols.State, stop float64) {
	s := st.UpdateStrategy(func(s *symbols.Strategy) { s.StopPrice = stop })
	m.publish(st, s)
}

// StartTrailing arms the trailing exits from the current price.
func (m *Machine) StartTrailing(st *symbols.State) error {
	if m.book.Shares(st.Symbol) <= 0 {
		return ErrNoPosition
	}
	cur := st.Strategy()
	if !cur.TrailReady || cur.TrailHalf <= 0 {
		return ErrTrailNotReady
	}
	price := st.Indicators().LastPrice
	s := st.UpdateStrategy(func(s *symbols.Strategy) {
		s.Trailing = true
		s.TrailHigh = price
		s.HalfFired = false
		s.Remainder = 0
	})
	m.log.Info("trailing started", zap.String("symbol", st.Symbol), zap.Float64("high", price),
		zap.Float64("half", s.TrailHalf), zap.Float64("all", s.TrailAll))
	m.publish(st, s)
	return nil
}

func (m *Machine) StopTrailing(st *symbols.State) {
	s := st.UpdateStrategy(func(s *symbols.Strategy) { s.Trailing = false })
	m.log.Info("trailing stopped", zap.String("symbol", st.Symbol))
	m.publish(st, s)
}

// ToggleTrailing flips trailing and reports the new setting.
func (m *Machine) ToggleTrailing(st *symbols.State) (bool, error) {
	if st.Strategy().Trailing {
		m.StopTrailing(st)
		return false, nil
	}
	if err := m.StartTrailing(st); err != nil {
		return false, err
	}
	return true, nil
}

// OnTick evaluates exits first, then the entry trigger.
func (m *Machine) OnTick(st *symbols.State, t protocol.Tick) {
	q := st.Quote()
	if m.checkHardStop(st, t, q) {
		return
	}
	if m.checkTrailing(st, t) {
		return
	}
	m.checkEntry(st, t, q)
}

func (m *Machine) checkHardStop(st *symbols.State, t protocol.Tick, q protocol.Quote) bool {
	s := st.Strategy()
	if s.StopPrice <= 0 || s.TriggeredSell {
		return false
	}
	if q.Bid >= s.StopPrice || t.Price >= s.StopPrice {
		return false
	}
	if m.book.Shares(st.Symbol) <= 0 {
		return false
	}
	bar, _ := m.bars.Current(st.Symbol, m.bars.Primary())
	if bar.Volume <= m.settings().MinStopVolume {
		return false
	}

	m.log.Warn("hard stop hit", zap.String("symbol", st.Symbol), zap.Float64("stop", s.StopPrice),
		zap.Float64("bid", q.Bid), zap.Float64("price", t.Price), zap.Float64("bar_volume", bar.Volume))
	if _, err := m.exec.SellAll(st.Symbol); err != nil {
		m.log.Error("hard stop sell failed", zap.String("symbol", st.Symbol), zap.Error(err))
		ns := st.UpdateStrategy(func(s *symbols.Strategy) { s.TriggeredSell = true })
		m.publish(st, ns)
		return true
	}
	m.reset(st, "hard stop")
	return true
}

func (m *Machine) checkTrailing(st *symbols.State, t protocol.Tick) bool {
	if !st.Strategy().Trailing {
		return false
	}
	held := m.book.Shares(st.Symbol)
	if held <= 0 {
		return false
	}
	s := st.UpdateStrategy(func(s *symbols.Strategy) {
		if t.Price > s.TrailHigh {
			s.TrailHigh = t.Price
			s.HalfFired = false
		}
	})

	switch risk.EvaluateTrail(s.TrailHigh, t.Price, s.TrailHalf, s.TrailAll, s.HalfFired) {
	case risk.TrailExitAll:
		var err error
		if s.HalfFired && s.Remainder > 0 {
			_, err = m.exec.SellShares(st.Symbol, s.Remainder)
		} else {
			_, err = m.exec.SellAll(st.Symbol)
		}
		if err != nil {
			m.log.Error("trailing exit failed", zap.String("symbol", st.Symbol), zap.Error(err))
			return true
		}
		m.log.Info("trailing exit all", zap.String("symbol", st.Symbol), zap.Float64("high", s.TrailHigh),
			zap.Float64("price", t.Price), zap.Float64("distance", s.TrailAll))
		m.reset(st, "trailing exit")
		return true
	case risk.TrailExitHalf:
		half := held / 2
		if half <= 0 {
			return false
		}
		if _, err := m.exec.SellShares(st.Symbol, half); err != nil {
			m.log.Error("trailing half exit failed", zap.String("symbol", st.Symbol), zap.Error(err))
			return true
		}
		ns := st.UpdateStrategy(func(s *symbols.Strategy) {
			s.HalfFired = true
			s.Remainder = held - half
		})
		m.log.Info("trailing exit half", zap.String("symbol", st.Symbol), zap.Int("sold", half),
			zap.Int("remainder", ns.Remainder), zap.Float64("high", s.TrailHigh), zap.Float64("price", t.Price))
		m.publish(st, ns)
		return true
	}
	return false
}

// EntryStop computes the protective stop for an entry at trigger with ask as
// the expected fill.
func EntryStop(barLow, trigger, ask, minRisk float64, highBreakout bool) float64 {
	stop := barLow - stopOffset
	if !highBreakout {
		stop = math.Max(stop, trigger-openStopFloor)
	}
	if minRisk > 0 && ask-stop < minRisk {
		stop = ask - minRisk
	}
	return risk.Round2(stop)
}

func (m *Machine) checkEntry(st *symbols.State, t protocol.Tick, q protocol.Quote) {
	s := st.Strategy()
	if s.Phase != symbols.PhaseArmed || q.Ask < s.TriggerPrice || t.Price < s.TriggerPrice {
		return
	}
	bar, ok := m.bars.Current(st.Symbol, m.bars.Primary())
	barLow := bar.Low
	if !ok {
		barLow = t.Price
	}
	stop := EntryStop(barLow, s.TriggerPrice, q.Ask, m.settings().MinRiskPerShare, s.HighBreakout)

	var so order.SentOrder
	var err error
	switch s.Mode {
	case symbols.ModeAddAll:
		so, err = m.exec.AddPosition(st.Symbol, stop, 1.0)
	case symbols.ModeAddHalf:
		so, err = m.exec.AddPosition(st.Symbol, stop, 0.5)
	default:
		so, err = m.exec.BuyOneR(st.Symbol, stop)
	}
	if err != nil {
		m.log.Warn("entry failed", zap.String("symbol", st.Symbol), zap.Stringer("mode", s.Mode),
			zap.Float64("trigger", s.TriggerPrice), zap.Float64("ask", q.Ask), zap.Float64("stop", stop), zap.Error(err))
		m.reset(st, "entry failed")
		return
	}

	ns := st.UpdateStrategy(func(s *symbols.Strategy) {
		s.Phase = symbols.PhaseBuyTriggered
		s.TriggeredBuy = true
		s.StopPrice = stop
		s.EntryToken = so.Token
		s.EntryBar = bar.Start
		s.TrailReady = false
		s.Trailing = false
		s.TrailHigh = 0
		s.HalfFired = false
		s.Remainder = 0
	})
	m.log.Info("entry fired", zap.String("symbol", st.Symbol), zap.Stringer("mode", s.Mode),
		zap.Float64("trigger", s.TriggerPrice), zap.Float64("price", t.Price), zap.Float64("ask", q.Ask),
		zap.Float64("stop", stop), zap.Int("shares", so.Quantity))
	m.publish(st, ns)
}

// OnBarCompleted refreshes the trailing statistics of a held position once
// the entry bar has closed.
func (m *Machine) OnBarCompleted(st *symbols.State, completed []market.Bar) {
	s := st.Strategy()
	if s.Phase == symbols.PhaseBuyTriggered || m.book.Shares(st.Symbol) <= 0 {
		return
	}
	entryClosed := s.TrailReady
	for _, b := range completed {
		if b.Start >= s.EntryBar {
			entryClosed = true
		}
	}
	if !entryClosed {
		return
	}
	recent := m.bars.Completed(st.Symbol, m.bars.Primary(), risk.TrailWindow)
	half, all, ok := risk.TrailStats(recent, m.settings().MinTrailAll)
	if !ok {
		return
	}
	ns := st.UpdateStrategy(func(s *symbols.Strategy) {
		s.TrailReady = true
		s.TrailHalf = half
		s.TrailAll = all
	})
	m.publish(st, ns)
}

// OnOrderExecuted moves a filled entry into PositionOpen.
func (m *Machine) OnOrderExecuted(st *symbols.State, o protocol.Order) {
	s := st.Strategy()
	if s.Phase != symbols.PhaseBuyTriggered || o.Token != s.EntryToken {
		return
	}
	ns := st.UpdateStrategy(func(s *symbols.Strategy) { s.Phase = symbols.PhasePositionOpen })
	m.log.Info("position open", zap.String("symbol", st.Symbol), zap.Int("filled", o.Filled), zap.Float64("stop", ns.StopPrice))
	m.publish(st, ns)
}

// OnOrderRejected ends a pending entry. A partially filled entry keeps its stop.
func (m *Machine) OnOrderRejected(st *symbols.State, token string, filled int) {
	s := st.Strategy()
	if s.Phase != symbols.PhaseBuyTriggered || token == "" || token != s.EntryToken {
		return
	}
	if filled > 0 {
		ns := st.UpdateStrategy(func(s *symbols.Strategy) { s.Phase = symbols.PhasePositionOpen })
		m.log.Warn("entry ended partially filled", zap.String("symbol", st.Symbol), zap.Int("filled", filled))
		m.publish(st, ns)
		return
	}
	m.reset(st, "entry rejected")
}
