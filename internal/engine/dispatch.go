package engine

import (
	"time"

	"go.uber.org/zap"

	"equity-terminal/internal/events"
	"equity-terminal/internal/market"
	"equity-terminal/internal/monitor"
	"equity-terminal/internal/protocol"
	"equity-terminal/internal/risk"
	"equity-terminal/internal/symbols"
)

// Level2Line is republished for every $Lv2 line; depth is not decoded.
type Level2Line struct {
	Symbol string `json:"symbol"`
	Line   string `json:"line"`
}

// HandleLine dispatches one classified line. It runs on the protocol read
// goroutine (or the synthetic-line drain) and recovers handler panics so the
// read loop keeps going.
func (t *Terminal) HandleLine(kind protocol.Kind, line string) {
	start := time.Now()
	t.dispatchMu.Lock()
	defer t.dispatchMu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			t.metrics.IncrementPanics()
			t.log.Error("handler panic recovered", zap.Any("panic", r), zap.Stringer("kind", kind),
				zap.String("line", line), zap.Stack("stack"))
		}
		t.metrics.DispatchLatency.RecordDuration(time.Since(start))
	}()
	t.metrics.IncrementLines()
	t.dispatch(kind, line)
}

// handleSynthetic feeds a dry-run line through the same path as a wire line.
func (t *Terminal) handleSynthetic(line string) {
	t.bus.Publish(events.EventRawLine, line)
	t.HandleLine(protocol.Classify(line), line)
}

func (t *Terminal) malformed(kind protocol.Kind, line string) {
	t.metrics.IncrementParseFailures()
	t.log.Debug("malformed line dropped", zap.Stringer("kind", kind), zap.String("line", line))
}

func (t *Terminal) dispatch(kind protocol.Kind, line string) {
	switch kind {
	case protocol.KindQuote:
		q, ok := protocol.ParseQuote(line)
		if !ok {
			t.malformed(kind, line)
			return
		}
		t.onQuote(q)

	case protocol.KindTick:
		tk, ok := protocol.ParseTick(line)
		if !ok {
			t.malformed(kind, line)
			return
		}
		t.onTick(tk)

	case protocol.KindLevel2:
		if sym := symbols.Normalize(protocol.SymbolOf(line)); sym != "" {
			if _, ok := t.registry.Get(sym); ok {
				t.bus.Publish(events.EventLevel2, Level2Line{Symbol: sym, Line: line})
			}
		}

	case protocol.KindBar:
		t.bus.Publish(events.EventBarLine, line)

	case protocol.KindOrder:
		o, ok := protocol.ParseOrder(line)
		if !ok {
			t.malformed(kind, line)
			return
		}
		t.onOrder(o)

	case protocol.KindOrderAction:
		a, ok := protocol.ParseOrderAction(line)
		if !ok {
			t.malformed(kind, line)
			return
		}
		if t.ledger.OnOrderAction(a) {
			if st, ok := t.registry.Get(a.Symbol); ok {
				t.machine.OnOrderRejected(st, a.Token, 0)
			}
		}

	case protocol.KindTrade:
		tr, ok := protocol.ParseTrade(line)
		if !ok {
			t.malformed(kind, line)
			return
		}
		t.onTrade(tr)

	case protocol.KindPosition:
		p, ok := protocol.ParsePosition(line)
		if !ok {
			t.malformed(kind, line)
			return
		}
		t.ledger.OnPosition(p)

	case protocol.KindAccountInfo:
		a, ok := protocol.ParseAccountInfo(line)
		if !ok {
			t.malformed(kind, line)
			return
		}
		t.ledger.OnAccountInfo(a)

	case protocol.KindBuyingPower:
		bp, ok := protocol.ParseBuyingPower(line)
		if !ok {
			t.malformed(kind, line)
			return
		}
		t.ledger.OnBuyingPower(bp)
	}
}

func (t *Terminal) onQuote(q protocol.Quote) {
	st, ok := t.registry.Get(q.Symbol)
	if !ok {
		return
	}
	merged := st.MergeQuote(q)
	t.quotes.Set(st.Symbol, merged)
	t.indicators.OnQuote(st, q)
	t.bus.Publish(events.EventQuoteUpdated, merged)
}

// onTick runs one tick through the pipeline: bars, indicators, agent, strategy.
func (t *Terminal) onTick(tk protocol.Tick) {
	st, ok := t.registry.Get(tk.Symbol)
	if !ok {
		return
	}
	t.rollover()
	t.bus.Publish(events.EventTick, tk)
	if t.dryRun != nil {
		t.dryRun.OnPrice(st.Symbol, tk.Price)
	}

	upd, ok := t.aggregator.OnTick(tk)
	if !ok {
		return
	}
	t.metrics.IncrementTicks()
	if len(upd.Completed) > 0 {
		t.onBarsCompleted(st, upd.Completed)
	}
	t.indicators.OnTick(st, tk)

	timer := monitor.NewTimer(t.metrics.StrategyLatency)
	t.agent.OnTick(st, tk, upd.Primary.High)
	t.machine.OnTick(st, tk)
	timer.Stop()
}

func (t *Terminal) onBarsCompleted(st *symbols.State, completed []market.Bar) {
	series := t.aggregator.Completed(st.Symbol, t.aggregator.Primary(), 0)
	t.indicators.OnBarCompleted(st, series)
	t.machine.OnBarCompleted(st, completed)
	t.agent.OnBarCompleted(st)
}

func (t *Terminal) onOrder(o protocol.Order) {
	upd := t.ledger.OnOrder(o)
	st, known := t.registry.Get(o.Symbol)
	if upd.Executed {
		t.orders.OnOrderExecuted(o)
		if known {
			t.machine.OnOrderExecuted(st, o)
		}
	}
	if upd.Rejected && known {
		t.machine.OnOrderRejected(st, o.Token, o.Filled)
	}
}

func (t *Terminal) onTrade(tr protocol.Trade) {
	if !t.ledger.OnTrade(tr) {
		return
	}
	t.orders.OnTrade(tr)
	if tr.PL == 0 {
		return
	}
	err := t.risk.UpdateMetrics(risk.TradeResult{
		Symbol: tr.Symbol,
		Side:   string(tr.Side),
		Size:   float64(tr.Quantity),
		Price:  tr.Price,
		PnL:    tr.PL,
		Fee:    tr.ECNFee,
	})
	if err != nil {
		t.log.Warn("risk metrics not saved", zap.Error(err))
	}
}

// rollover starts a new session when the exchange date changes. Bars, VWAP,
// session high, breakout levels and the daily risk counters restart.
func (t *Terminal) rollover() {
	day := t.session.Day(t.now())
	if day == t.day {
		return
	}
	prev := t.day
	t.day = day
	if prev == "" {
		return
	}
	t.log.Info("new session", zap.String("from", prev), zap.String("to", day))
	t.registry.Each(func(st *symbols.State) {
		t.aggregator.Reset(st.Symbol)
		t.indicators.NewSession(st)
		t.agent.NewSession(st)
	})
	t.risk.ResetDailyMetrics()
}
