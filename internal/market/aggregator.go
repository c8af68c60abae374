package market

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"equity-terminal/internal/events"
	"equity-terminal/internal/protocol"
	"equity-terminal/internal/symbols"
)

// DefaultMaxBars bounds the completed history kept per series.
const DefaultMaxBars = 2000

type seriesKey struct {
	symbol   string
	interval int
}

type series struct {
	current   *Bar
	completed []Bar
}

// Update is what one accepted tick did to the primary interval.
type Update struct {
	Primary   Bar
	Completed []Bar
}

// Aggregator builds bars for every enabled interval from the tick stream.
type Aggregator struct {
	mu        sync.RWMutex
	intervals []int
	primary   int
	maxBars   int
	series    map[seriesKey]*series

	bus *events.Bus
	log *zap.Logger
}

// NewAggregator creates an aggregator. primary must be one of intervals.
func NewAggregator(intervals []int, primary int, bus *events.Bus, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	ivs := append([]int(nil), intervals...)
	sort.Ints(ivs)
	return &Aggregator{
		intervals: ivs,
		primary:   primary,
		maxBars:   DefaultMaxBars,
		series:    make(map[seriesKey]*series),
		bus:       bus,
		log:       logger.Named("market"),
	}
}

// Intervals returns the enabled intervals in ascending order.
func (a *Aggregator) Intervals() []int { return append([]int(nil), a.intervals...) }

// Primary returns the primary interval.
func (a *Aggregator) Primary() int { return a.primary }

// Accept reports whether a tick may move bars. FADF prints only count when
// flagged valid for last price.
func Accept(t protocol.Tick) bool {
	if t.Price <= 0 {
		return false
	}
	if t.Exchange == "FADF" && !t.ValidForLast() {
		return false
	}
	return true
}

// OnTick folds one tick into every interval. ok is false when the tick was filtered.
func (a *Aggregator) OnTick(t protocol.Tick) (upd Update, ok bool) {
	if !Accept(t) {
		return Update{}, false
	}
	t.Symbol = symbols.Normalize(t.Symbol)

	var completed []Bar
	a.mu.Lock()
	for _, iv := range a.intervals {
		k := seriesKey{t.Symbol, iv}
		s := a.series[k]
		if s == nil {
			s = &series{}
			a.series[k] = s
		}
		start := BarStart(t.Time, iv)
		switch {
		case s.current == nil:
			s.current = newBar(t, iv, start)
		case start > s.current.Start:
			done := *s.current
			done.Complete = true
			s.completed = append(s.completed, done)
			if len(s.completed) > a.maxBars {
				s.completed = append([]Bar(nil), s.completed[len(s.completed)-a.maxBars:]...)
			}
			completed = append(completed, done)
			s.current = newBar(t, iv, start)
		default:
			s.current.apply(t)
		}
		if iv == a.primary {
			upd.Primary = *s.current
		}
	}
	a.mu.Unlock()

	for _, b := range completed {
		a.bus.Publish(events.EventBarCompleted, b)
		if b.Interval == a.primary {
			upd.Completed = append(upd.Completed, b)
		}
	}
	a.bus.Publish(events.EventBarUpdated, upd.Primary)
	return upd, true
}

// Current returns a snapshot of the in-progress bar.
func (a *Aggregator) Current(symbol string, interval int) (Bar, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := a.series[seriesKey{symbols.Normalize(symbol), interval}]
	if s == nil || s.current == nil {
		return Bar{}, false
	}
	return *s.current, true
}

// Completed returns up to n most recent completed bars, oldest first. n <= 0 returns all.
func (a *Aggregator) Completed(symbol string, interval, n int) []Bar {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := a.series[seriesKey{symbols.Normalize(symbol), interval}]
	if s == nil {
		return nil
	}
	bars := s.completed
	if n > 0 && len(bars) > n {
		bars = bars[len(bars)-n:]
	}
	return append([]Bar(nil), bars...)
}

// Previous returns the latest completed bar.
func (a *Aggregator) Previous(symbol string, interval int) (Bar, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := a.series[seriesKey{symbols.Normalize(symbol), interval}]
	if s == nil || len(s.completed) == 0 {
		return Bar{}, false
	}
	return s.completed[len(s.completed)-1], true
}

// Reset drops every series of symbol.
func (a *Aggregator) Reset(symbol string) {
	symbol = symbols.Normalize(symbol)
	a.mu.Lock()
	defer a.mu.Unlock()
	for k := range a.series {
		if k.symbol == symbol {
			delete(a.series, k)
		}
	}
}
