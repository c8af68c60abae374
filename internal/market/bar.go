package market

import "equity-terminal/internal/protocol"

// Bar is one OHLCV bar. Values handed out by the aggregator are snapshots.
type Bar struct {
	Symbol   string             `json:"symbol"`
	Interval int                `json:"interval"`
	Start    protocol.TimeOfDay `json:"start"`
	Open     float64            `json:"open"`
	High     float64            `json:"high"`
	Low      float64            `json:"low"`
	Close    float64            `json:"close"`
	Volume   float64            `json:"volume"`
	LastTick protocol.TimeOfDay `json:"lastTick"`
	Complete bool               `json:"complete"`
}

// Range is high minus low.
func (b Bar) Range() float64 { return b.High - b.Low }

func newBar(t protocol.Tick, interval int, start protocol.TimeOfDay) *Bar {
	return &Bar{
		Symbol:   t.Symbol,
		Interval: interval,
		Start:    start,
		Open:     t.Price,
		High:     t.Price,
		Low:      t.Price,
		Close:    t.Price,
		Volume:   t.Size,
		LastTick: t.Time,
	}
}

func (b *Bar) apply(t protocol.Tick) {
	if t.Price > b.High {
		b.High = t.Price
	}
	if t.Price < b.Low {
		b.Low = t.Price
	}
	b.Close = t.Price
	b.Volume += t.Size
	b.LastTick = t.Time
}

// BarStart aligns a time of day to its bar; day-or-longer intervals start at midnight.
func BarStart(t protocol.TimeOfDay, interval int) protocol.TimeOfDay {
	if interval <= 0 || interval >= protocol.SecondsPerDay {
		return 0
	}
	return t / protocol.TimeOfDay(interval) * protocol.TimeOfDay(interval)
}
