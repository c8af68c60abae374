package risk

import (
	"errors"

	"github.com/shopspring/decimal"

	"equity-terminal/internal/market"
)

var (
	ErrStopAtOrAboveAsk = errors.New("risk: stop price must be below the ask")
	ErrZeroShares       = errors.New("risk: computed share count is zero")
	ErrNoReference      = errors.New("risk: reference price must be positive")
)

// bpHaircut keeps a margin below the full equity-derived buying power.
var bpHaircut = decimal.RequireFromString("0.97")

var cent = decimal.RequireFromString("0.01")

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

// floorInt floors x and clamps negatives to zero.
func floorInt(x decimal.Decimal) int {
	if x.IsNegative() {
		return 0
	}
	return int(x.Floor().IntPart())
}

// BuyingPowerCap is floor((equity × multiplier × 0.97 − positionCost) / price).
func BuyingPowerCap(equity, multiplier, positionCost, price float64) int {
	if price <= 0 {
		return 0
	}
	avail := d(equity).Mul(d(multiplier)).Mul(bpHaircut).Sub(d(positionCost))
	return floorInt(avail.Div(d(price)))
}

// ClampShares limits a request to the buying-power cap and the per-symbol cap
// minus current holdings. maxPosition <= 0 disables the position cap.
func ClampShares(requested, bpCap, maxPosition, held int) int {
	n := requested
	if bpCap < n {
		n = bpCap
	}
	if maxPosition > 0 {
		room := maxPosition - held
		if room < n {
			n = room
		}
	}
	if n < 0 {
		return 0
	}
	return n
}

// OneRShares is floor(riskAmount / (ask − stop)).
func OneRShares(riskAmount, ask, stop float64) (int, error) {
	if ask <= stop {
		return 0, ErrStopAtOrAboveAsk
	}
	n := floorInt(d(riskAmount).Div(d(ask).Sub(d(stop))))
	if n == 0 {
		return 0, ErrZeroShares
	}
	return n, nil
}

// AddInput is the position and market snapshot needed to size an add.
type AddInput struct {
	Shares     int     // Q1
	AvgCost    float64 // P1
	Bid        float64
	Ask        float64
	NewStop    float64
	RiskFactor float64 // 1.0 gives back all open profit at the stop, 0.5 half
	RiskAmount float64
}

// AddShares sizes an add so that being stopped at NewStop on the whole
// position still keeps (1−RiskFactor) of the open profit. A positive
// result below one risk unit is raised to one risk unit; a non-positive result
// means skip.
func AddShares(in AddInput) int {
	if in.Shares <= 0 || in.Ask <= in.NewStop {
		return 0
	}
	q1 := decimal.NewFromInt(int64(in.Shares))
	profit := q1.Mul(d(in.Bid).Sub(d(in.AvgCost)))
	gainOnOriginal := q1.Mul(d(in.NewStop).Sub(d(in.AvgCost)))
	keep := decimal.NewFromInt(1).Sub(d(in.RiskFactor))
	target := gainOnOriginal.Sub(profit.Mul(keep))
	perShare := d(in.Ask).Sub(d(in.NewStop))

	q2 := target.Div(perShare).Floor()
	if !q2.IsPositive() {
		return 0
	}
	n := int(q2.IntPart())
	if unit := floorInt(d(in.RiskAmount).Div(perShare)); n < unit {
		n = unit
	}
	return n
}

// Round2 rounds a price to cents.
func Round2(v float64) float64 {
	f, _ := d(v).Round(2).Float64()
	return f
}

// BuyLimit is round(ref × (1 + spread), 2).
func BuyLimit(ref, spread float64) float64 {
	f, _ := d(ref).Mul(decimal.NewFromInt(1).Add(d(spread))).Round(2).Float64()
	return f
}

// SellLimit is round(bid × (1 − spread), 2).
func SellLimit(bid, spread float64) float64 {
	f, _ := d(bid).Mul(decimal.NewFromInt(1).Sub(d(spread))).Round(2).Float64()
	return f
}

// PercentOf returns floor(shares × pct / 100).
func PercentOf(shares, pct int) int {
	return shares * pct / 100
}

// SmartStop prefers the current bar's low. It falls back to the previous
// completed bar's low when bid is at or below the current low, or when the
// current bar is still in its first second and bid is within a cent of its low.
// ok is false when neither bar exists.
func SmartStop(cur market.Bar, hasCur bool, prev market.Bar, hasPrev bool, bid float64) (float64, bool) {
	if !hasCur {
		if hasPrev {
			return prev.Low, true
		}
		return 0, false
	}
	fallback := bid <= cur.Low
	if !fallback && cur.LastTick-cur.Start < 1 {
		fallback = d(bid).Sub(d(cur.Low)).LessThanOrEqual(cent)
	}
	if fallback && hasPrev {
		return prev.Low, true
	}
	return cur.Low, true
}
