package indicators

import (
	"math"
	"testing"

	"equity-terminal/internal/events"
	"equity-terminal/internal/market"
	"equity-terminal/internal/protocol"
	"equity-terminal/internal/symbols"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestEMA(t *testing.T) {
	closes := make([]float64, 0, 22)
	for i := 1; i <= 22; i++ {
		closes = append(closes, float64(i))
	}
	if got := EMA(closes[:5], 20); !approx(got, 3) {
		t.Fatalf("EMA short series=%v, expected mean 3", got)
	}
	if got := EMA(closes[:20], 20); !approx(got, 10.5) {
		t.Fatalf("EMA seed=%v", got)
	}
	// 10.5 -> 11.5 -> 12.5 with k = 2/21.
	if got := EMA(closes, 20); !approx(got, 12.5) {
		t.Fatalf("EMA recurrence=%v, expected 12.5", got)
	}
}

func TestWilder(t *testing.T) {
	trs := make([]float64, 14)
	for i := range trs {
		trs[i] = 1
	}
	if got := Wilder(trs[:3], 14); !approx(got, 1) {
		t.Fatalf("short Wilder=%v", got)
	}
	trs = append(trs, 2.4)
	if got := Wilder(trs, 14); !approx(got, 1.1) {
		t.Fatalf("Wilder=%v, expected 1.1", got)
	}
}

func TestATRUsesPreviousClose(t *testing.T) {
	bars := []market.Bar{
		{High: 10, Low: 9, Close: 9.5},
		{High: 11, Low: 10.5, Close: 10.8},
	}
	if got := ATR(bars, 14); !approx(got, 1.25) {
		t.Fatalf("ATR=%v, expected 1.25", got)
	}
}

func newState(t *testing.T) *symbols.State {
	t.Helper()
	st, _ := symbols.NewRegistry(nil).GetOrCreate("AAPL")
	return st
}

func TestVwapAndSessionHigh(t *testing.T) {
	e := NewEngine(nil, nil)
	st := newState(t)

	e.OnQuote(st, protocol.Quote{High: 10.9, Present: protocol.FieldHigh})
	e.OnQuote(st, protocol.Quote{High: 20, Present: protocol.FieldHigh})
	if got := st.Indicators().SessionHigh; got != 10.9 {
		t.Fatalf("session high seeded=%v, expected first quote high", got)
	}

	both := protocol.FlagValidLast | protocol.FlagValidVolume
	e.OnTick(st, protocol.Tick{Price: 10, Size: 100, Flag: both})
	e.OnTick(st, protocol.Tick{Price: 10.5, Size: 1000, Flag: protocol.FlagValidLast})
	e.OnTick(st, protocol.Tick{Price: 11, Size: 300, Flag: both})

	ind := st.Indicators()
	if !approx(ind.VWAP, 10.75) {
		t.Fatalf("vwap=%v, expected 10.75", ind.VWAP)
	}
	if ind.SessionHigh != 11 {
		t.Fatalf("session high=%v", ind.SessionHigh)
	}
}

func TestResetVwapWithSeed(t *testing.T) {
	e := NewEngine(nil, nil)
	st := newState(t)
	st.MergeQuote(protocol.Quote{Volume: 5000, Present: protocol.FieldVolume})

	seed := 12.0
	e.ResetVwap(st, &seed)
	if got := st.Indicators().VWAP; got != 12 {
		t.Fatalf("seeded vwap=%v", got)
	}
	e.OnTick(st, protocol.Tick{Price: 13, Size: 5000, Flag: protocol.FlagValidVolume})
	if got := st.Indicators().VWAP; !approx(got, 12.5) {
		t.Fatalf("vwap after seed=%v, expected 12.5", got)
	}

	e.ResetVwap(st, nil)
	if got := st.Indicators(); got.VWAP != 0 || got.VwapVolume != 0 {
		t.Fatalf("unseeded reset left %+v", got)
	}

	high := 15.0
	e.ResetSessionHigh(st, &high)
	e.OnQuote(st, protocol.Quote{High: 30, Present: protocol.FieldHigh})
	if got := st.Indicators().SessionHigh; got != 15 {
		t.Fatalf("quote reseeded a reset high: %v", got)
	}
}

func TestCrossEvents(t *testing.T) {
	bus := events.NewBus()
	crosses, unsub := bus.Subscribe(events.EventEmaCross, 4)
	defer unsub()
	e := NewEngine(bus, nil)
	st := newState(t)

	e.OnBarCompleted(st, []market.Bar{{High: 10.2, Low: 9.8, Close: 10}})
	if got := st.Indicators().EMA; got != 10 {
		t.Fatalf("ema=%v", got)
	}
	e.OnTick(st, protocol.Tick{Price: 9.9, Flag: protocol.FlagValidLast})
	e.OnTick(st, protocol.Tick{Price: 10.1, Flag: protocol.FlagValidLast, Time: 34200})

	select {
	case v := <-crosses:
		c := v.(events.Cross)
		if c.Direction != events.CrossUp || c.Level != 10 || c.Time != "09:30:00" {
			t.Fatalf("cross %+v", c)
		}
	default:
		t.Fatal("no EMA cross published")
	}
}

func TestCrossed(t *testing.T) {
	cases := []struct {
		prev, cur, level float64
		dir              events.CrossDirection
		ok               bool
	}{
		{9.9, 10, 10, events.CrossUp, true},
		{10.1, 10, 10, events.CrossDown, true},
		{10, 10.2, 10, "", false},
		{9, 9.5, 10, "", false},
		{9, 11, 0, "", false},
	}
	for _, tc := range cases {
		dir, ok := Crossed(tc.prev, tc.cur, tc.level)
		if dir != tc.dir || ok != tc.ok {
			t.Errorf("Crossed(%v,%v,%v)=%v,%v", tc.prev, tc.cur, tc.level, dir, ok)
		}
	}
}
