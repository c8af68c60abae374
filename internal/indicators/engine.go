package indicators

import (
	"go.uber.org/zap"

	"equity-terminal/internal/events"
	"equity-terminal/internal/market"
	"equity-terminal/internal/protocol"
	"equity-terminal/internal/symbols"
)

const (
	ATRPeriod = 14
	EMAPeriod = 20
)

// Snapshot is published with every indicator change.
type Snapshot struct {
	Symbol string `json:"symbol"`
	symbols.Indicators
}

// Engine maintains ATR/EMA from completed primary bars and VWAP/session high
// from ticks. It is the only writer of symbols.Indicators.
type Engine struct {
	bus *events.Bus
	log *zap.Logger
}

// NewEngine builds an indicator engine.
func NewEngine(bus *events.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{bus: bus, log: logger.Named("indicators")}
}

// ATR computes the average true range of a bar series.
func ATR(bars []market.Bar, period int) float64 {
	trs := make([]float64, len(bars))
	for i, b := range bars {
		if i == 0 {
			trs[i] = TrueRange(b.High, b.Low, 0, false)
			continue
		}
		trs[i] = TrueRange(b.High, b.Low, bars[i-1].Close, true)
	}
	return Wilder(trs, period)
}

// Closes extracts close prices.
func Closes(bars []market.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// OnBarCompleted recomputes ATR14 and EMA20 from the full completed series.
func (e *Engine) OnBarCompleted(st *symbols.State, completed []market.Bar) {
	if len(completed) == 0 {
		return
	}
	atr := ATR(completed, ATRPeriod)
	ema := EMA(Closes(completed), EMAPeriod)
	ind := st.UpdateIndicators(func(ind *symbols.Indicators) {
		ind.ATR = atr
		ind.EMA = ema
	})
	e.bus.Publish(events.EventIndicatorUpdated, Snapshot{Symbol: st.Symbol, Indicators: ind})
}

// OnQuote seeds the session high from the first nonzero quote high.
func (e *Engine) OnQuote(st *symbols.State, q protocol.Quote) {
	if q.Present&protocol.FieldHigh == 0 || q.High <= 0 {
		return
	}
	var seeded bool
	ind := st.UpdateIndicators(func(ind *symbols.Indicators) {
		if ind.HighSeeded {
			return
		}
		ind.HighSeeded = true
		if q.High > ind.SessionHigh {
			ind.SessionHigh = q.High
			seeded = true
		}
	})
	if seeded {
		e.bus.Publish(events.EventSessionHighUpdated, Snapshot{Symbol: st.Symbol, Indicators: ind})
	}
}

// OnTick updates VWAP and session high and reports EMA/VWAP crossings.
// The tick must already have passed market.Accept.
func (e *Engine) OnTick(st *symbols.State, t protocol.Tick) {
	var prev symbols.Indicators
	var vwapChanged, highChanged bool
	ind := st.UpdateIndicators(func(ind *symbols.Indicators) {
		prev = *ind
		if t.ValidForVolume() && t.Size > 0 {
			ind.VwapPV += t.Price * t.Size
			ind.VwapVolume += t.Size
			ind.VWAP = ind.VwapPV / ind.VwapVolume
			vwapChanged = true
		}
		if t.Price > ind.SessionHigh {
			ind.SessionHigh = t.Price
			highChanged = true
		}
		ind.LastPrice = t.Price
	})

	if vwapChanged {
		e.bus.Publish(events.EventVwapUpdated, Snapshot{Symbol: st.Symbol, Indicators: ind})
	}
	if highChanged {
		e.bus.Publish(events.EventSessionHighUpdated, Snapshot{Symbol: st.Symbol, Indicators: ind})
	}
	if prev.LastPrice <= 0 {
		return
	}
	if dir, ok := Crossed(prev.LastPrice, t.Price, prev.EMA); ok {
		e.bus.Publish(events.EventEmaCross, events.Cross{Symbol: st.Symbol, Direction: dir, Price: t.Price, Level: prev.EMA, Time: t.Time.String()})
	}
	if dir, ok := Crossed(prev.LastPrice, t.Price, prev.VWAP); ok {
		e.bus.Publish(events.EventVwapCross, events.Cross{Symbol: st.Symbol, Direction: dir, Price: t.Price, Level: prev.VWAP, Time: t.Time.String()})
	}
}

// Crossed reports whether a move from prev to cur crossed level.
func Crossed(prev, cur, level float64) (events.CrossDirection, bool) {
	if level <= 0 {
		return "", false
	}
	switch {
	case prev < level && cur >= level:
		return events.CrossUp, true
	case prev > level && cur <= level:
		return events.CrossDown, true
	}
	return "", false
}

// ResetVwap restarts VWAP. With a seed, VWAP restarts at seed weighted by the
// quote's cumulative volume.
func (e *Engine) ResetVwap(st *symbols.State, seed *float64) {
	vol := st.Quote().Volume
	ind := st.UpdateIndicators(func(ind *symbols.Indicators) {
		ind.VwapPV, ind.VwapVolume, ind.VWAP = 0, 0, 0
		if seed == nil {
			return
		}
		ind.VWAP = *seed
		if vol > 0 {
			ind.VwapPV = *seed * vol
			ind.VwapVolume = vol
		}
	})
	e.log.Info("vwap reset", zap.String("symbol", st.Symbol), zap.Float64("vwap", ind.VWAP))
	e.bus.Publish(events.EventVwapUpdated, Snapshot{Symbol: st.Symbol, Indicators: ind})
}

// ResetSessionHigh restarts the running high, optionally from seed. Later quote
// highs no longer reseed it.
func (e *Engine) ResetSessionHigh(st *symbols.State, seed *float64) {
	ind := st.UpdateIndicators(func(ind *symbols.Indicators) {
		ind.SessionHigh = 0
		if seed != nil {
			ind.SessionHigh = *seed
		}
		ind.HighSeeded = true
	})
	e.log.Info("session high reset", zap.String("symbol", st.Symbol), zap.Float64("high", ind.SessionHigh))
	e.bus.Publish(events.EventSessionHighUpdated, Snapshot{Symbol: st.Symbol, Indicators: ind})
}

// NewSession clears every tick-derived value so the next quote reseeds the high.
func (e *Engine) NewSession(st *symbols.State) {
	ind := st.UpdateIndicators(func(ind *symbols.Indicators) {
		*ind = symbols.Indicators{ATR: ind.ATR, EMA: ind.EMA}
	})
	e.bus.Publish(events.EventIndicatorUpdated, Snapshot{Symbol: st.Symbol, Indicators: ind})
}
