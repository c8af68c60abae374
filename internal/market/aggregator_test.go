package market

import (
	"testing"

	"equity-terminal/internal/events"
	"equity-terminal/internal/protocol"
)

func tick(sym string, price, size float64, tod protocol.TimeOfDay) protocol.Tick {
	return protocol.Tick{Symbol: sym, Price: price, Size: size, Flag: protocol.FlagValidLast | protocol.FlagValidVolume, Time: tod, Exchange: "NSDQ"}
}

func TestBarStartAlignment(t *testing.T) {
	cases := []struct {
		tod      protocol.TimeOfDay
		interval int
		want     protocol.TimeOfDay
	}{
		{34259, 60, 34200},
		{34200, 60, 34200},
		{34499, 300, 34200},
		{34500, 300, 34500},
		{50000, 86400, 0},
		{50000, 172800, 0},
	}
	for _, tc := range cases {
		if got := BarStart(tc.tod, tc.interval); got != tc.want {
			t.Errorf("BarStart(%d,%d)=%d, expected %d", tc.tod, tc.interval, got, tc.want)
		}
	}
}

func TestAggregatorBuildsAndCompletesBars(t *testing.T) {
	bus := events.NewBus()
	updated, unsubU := bus.Subscribe(events.EventBarUpdated, 64)
	defer unsubU()
	completed, unsubC := bus.Subscribe(events.EventBarCompleted, 64)
	defer unsubC()

	a := NewAggregator([]int{300, 60}, 60, bus, nil)

	prices := []float64{10.00, 10.20, 9.90, 10.05, 10.30, 10.10, 10.40}
	times := []protocol.TimeOfDay{34200, 34210, 34230, 34259, 34260, 34300, 34500}
	var lastCompleted []Bar
	for i := range prices {
		upd, ok := a.OnTick(tick("aapl", prices[i], 100, times[i]))
		if !ok {
			t.Fatalf("tick %d filtered", i)
		}
		if upd.Primary.High < upd.Primary.Open || upd.Primary.High < upd.Primary.Close ||
			upd.Primary.Low > upd.Primary.Open || upd.Primary.Low > upd.Primary.Close {
			t.Fatalf("H/L invariant broken after tick %d: %+v", i, upd.Primary)
		}
		if len(upd.Completed) > 0 {
			lastCompleted = upd.Completed
		}
	}
	if len(lastCompleted) != 1 || lastCompleted[0].Start != 34260 {
		t.Fatalf("last primary completion %+v", lastCompleted)
	}

	bars := a.Completed("AAPL", 60, 0)
	if len(bars) != 2 {
		t.Fatalf("completed 1m bars=%d", len(bars))
	}
	first := bars[0]
	if first.Start != 34200 || first.Open != 10.00 || first.High != 10.20 || first.Low != 9.90 || first.Close != 10.05 || first.Volume != 400 || !first.Complete {
		t.Fatalf("first bar %+v", first)
	}
	for i := 1; i < len(bars); i++ {
		if bars[i].Start <= bars[i-1].Start || bars[i].Start < bars[i-1].Start+60 {
			t.Fatalf("bars overlap or out of order: %+v", bars)
		}
	}

	five := a.Completed("AAPL", 300, 0)
	if len(five) != 1 || five[0].Start != 33900+300 || five[0].High != 10.30 {
		t.Fatalf("5m bars %+v", five)
	}
	cur, ok := a.Current("AAPL", 60)
	if !ok || cur.Start != 34500 || cur.Open != 10.40 {
		t.Fatalf("current %+v", cur)
	}

	if n := len(updated); n != len(prices) {
		t.Fatalf("bar-updated events=%d, expected one per tick on the primary interval", n)
	}
	if n := len(completed); n != 3 {
		t.Fatalf("bar-completed events=%d", n)
	}
}

func TestAggregatorFiltersFADF(t *testing.T) {
	a := NewAggregator([]int{60}, 60, nil, nil)
	bad := tick("AAPL", 10, 100, 34200)
	bad.Exchange = "FADF"
	bad.Flag = protocol.FlagValidVolume
	if _, ok := a.OnTick(bad); ok {
		t.Fatal("FADF tick without valid-for-last accepted")
	}
	good := bad
	good.Flag = protocol.FlagValidLast
	if _, ok := a.OnTick(good); !ok {
		t.Fatal("FADF tick valid for last rejected")
	}
	if _, ok := a.OnTick(tick("AAPL", 0, 100, 34201)); ok {
		t.Fatal("zero price accepted")
	}
}

func TestSnapshotsAreValues(t *testing.T) {
	a := NewAggregator([]int{60}, 60, nil, nil)
	a.OnTick(tick("AAPL", 10, 100, 34200))
	cur, _ := a.Current("AAPL", 60)
	cur.High = 99
	again, _ := a.Current("AAPL", 60)
	if again.High != 10 {
		t.Fatal("snapshot mutation leaked into aggregator")
	}
	a.Reset("aapl")
	if _, ok := a.Current("AAPL", 60); ok {
		t.Fatal("Reset kept series")
	}
}
