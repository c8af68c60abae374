package risk

import (
	"errors"
	"testing"

	"equity-terminal/internal/market"
)

func TestOneRShares(t *testing.T) {
	n, err := OneRShares(100, 10.00, 9.50)
	if err != nil || n != 200 {
		t.Fatalf("OneRShares=%d err=%v, expected 200", n, err)
	}
	if _, err := OneRShares(100, 10, 10); !errors.Is(err, ErrStopAtOrAboveAsk) {
		t.Fatalf("stop=ask err=%v", err)
	}
	if _, err := OneRShares(1, 10, 8); !errors.Is(err, ErrZeroShares) {
		t.Fatalf("tiny risk err=%v", err)
	}
}

func TestBuyingPowerCap(t *testing.T) {
	if got := BuyingPowerCap(10000, 3, 0, 50); got != 582 {
		t.Fatalf("cap=%d, expected 582", got)
	}
	if got := BuyingPowerCap(10000, 3, 29000, 50); got != 2 {
		t.Fatalf("cap with cost=%d, expected 2", got)
	}
	if got := BuyingPowerCap(10000, 3, 40000, 50); got != 0 {
		t.Fatalf("negative room=%d", got)
	}
	if got := BuyingPowerCap(10000, 3, 0, 0); got != 0 {
		t.Fatalf("zero price=%d", got)
	}
}

func TestClampShares(t *testing.T) {
	cases := []struct {
		req, bp, maxPos, held, want int
	}{
		{500, 582, 0, 0, 500},
		{900, 582, 0, 0, 582},
		{500, 582, 1000, 700, 300},
		{500, 582, 1000, 1200, 0},
	}
	for _, tc := range cases {
		if got := ClampShares(tc.req, tc.bp, tc.maxPos, tc.held); got != tc.want {
			t.Errorf("ClampShares(%d,%d,%d,%d)=%d, expected %d", tc.req, tc.bp, tc.maxPos, tc.held, got, tc.want)
		}
	}
}

func TestAddShares(t *testing.T) {
	// 200 @ 10.00, bid 11.00, ask 11.02, new stop 10.50.
	// keep all: gain 200*0.5=100, target 100, per share 0.52 -> 192.
	base := AddInput{Shares: 200, AvgCost: 10, Bid: 11, Ask: 11.02, NewStop: 10.5, RiskFactor: 1, RiskAmount: 50}
	if got := AddShares(base); got != 192 {
		t.Fatalf("keep all=%d, expected 192", got)
	}
	// keep half: profit 200, target 100-100 = 0 -> skip.
	half := base
	half.RiskFactor = 0.5
	if got := AddShares(half); got != 0 {
		t.Fatalf("keep half=%d, expected skip", got)
	}
	// positive but below one risk unit is lifted to the unit.
	small := base
	small.NewStop = 10.03
	small.RiskAmount = 100
	// gain 200*0.03=6, per share 0.99 -> 6; unit floor(100/0.99)=101.
	if got := AddShares(small); got != 101 {
		t.Fatalf("floor up=%d, expected 101", got)
	}
	under := base
	under.NewStop = 9.8
	if got := AddShares(under); got != 0 {
		t.Fatalf("stop below cost=%d, expected skip", got)
	}
}

func TestLimitPrices(t *testing.T) {
	if got := BuyLimit(10.00, 0.002); got != 10.02 {
		t.Fatalf("BuyLimit=%v", got)
	}
	if got := SellLimit(10.00, 0.002); got != 9.98 {
		t.Fatalf("SellLimit=%v", got)
	}
	if got := Round2(9.805); got != 9.81 {
		t.Fatalf("Round2=%v", got)
	}
	if got := PercentOf(301, 50); got != 150 {
		t.Fatalf("PercentOf half=%d", got)
	}
	if got := PercentOf(301, 70); got != 210 {
		t.Fatalf("PercentOf 70=%d", got)
	}
}

func TestSmartStop(t *testing.T) {
	prev := market.Bar{Low: 9.80}
	cur := market.Bar{Start: 34200, LastTick: 34230, Low: 10.00}

	if got, _ := SmartStop(cur, true, prev, true, 10.00); got != 9.80 {
		t.Fatalf("bid at low: stop=%v, expected 9.80", got)
	}
	if got, _ := SmartStop(cur, true, prev, true, 10.05); got != 10.00 {
		t.Fatalf("bid above low: stop=%v, expected 10.00", got)
	}
	fresh := cur
	fresh.LastTick = fresh.Start
	if got, _ := SmartStop(fresh, true, prev, true, 10.01); got != 9.80 {
		t.Fatalf("first second within a cent: stop=%v, expected 9.80", got)
	}
	if got, _ := SmartStop(fresh, true, prev, true, 10.02); got != 10.00 {
		t.Fatalf("first second beyond a cent: stop=%v, expected 10.00", got)
	}
	if got, _ := SmartStop(cur, true, market.Bar{}, false, 9.9); got != 10.00 {
		t.Fatalf("no previous bar: stop=%v", got)
	}
	if _, ok := SmartStop(market.Bar{}, false, market.Bar{}, false, 10); ok {
		t.Fatal("stop without bars")
	}
}

func TestTrailStats(t *testing.T) {
	one := []market.Bar{{High: 10.4, Low: 10.0}}
	half, all, ok := TrailStats(one, 0.1)
	if !ok || !near(half, 0.2) || !near(all, 0.25) {
		t.Fatalf("single bar half=%v all=%v", half, all)
	}

	bars := []market.Bar{
		{High: 12, Low: 10},   // outside the window
		{High: 10.3, Low: 10}, // 0.3
		{High: 10.6, Low: 10}, // 0.6
		{High: 10.2, Low: 10}, // 0.2
		{High: 10.5, Low: 10}, // 0.5
		{High: 10.1, Low: 10}, // 0.1
	}
	half, all, _ = TrailStats(bars, 1.0)
	if !near(half, 0.5) || all != 1.0 {
		t.Fatalf("window half=%v all=%v", half, all)
	}
	if _, _, ok := TrailStats(nil, 0.1); ok {
		t.Fatal("stats without bars")
	}
}

func TestEvaluateTrail(t *testing.T) {
	cases := []struct {
		high, price, half, all float64
		fired                  bool
		want                   TrailAction
	}{
		{11, 10.85, 0.2, 0.25, false, TrailNone},
		{11, 10.79, 0.2, 0.25, false, TrailExitHalf},
		{11, 10.79, 0.2, 0.25, true, TrailNone},
		{11, 10.70, 0.2, 0.25, true, TrailExitAll},
		{11, 10.70, 0.2, 0.25, false, TrailExitAll},
	}
	for _, tc := range cases {
		if got := EvaluateTrail(tc.high, tc.price, tc.half, tc.all, tc.fired); got != tc.want {
			t.Errorf("EvaluateTrail(%v)=%v, expected %v", tc, got, tc.want)
		}
	}
}

func near(a, b float64) bool {
	diff := a - b
	return diff < 1e-9 && diff > -1e-9
}
