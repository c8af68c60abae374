package risk

import (
	"math"
	"sort"

	"equity-terminal/internal/market"
)

// TrailWindow is how many completed bars feed the trailing statistics.
const TrailWindow = 5

// TrailStats derives the trailing distances from the last completed bars.
// half is the second-largest high−low range of the last five bars, or half
// the range when only one bar exists; all = max(1.25 × half, minAll).
func TrailStats(bars []market.Bar, minAll float64) (half, all float64, ok bool) {
	if len(bars) == 0 {
		return 0, 0, false
	}
	if len(bars) > TrailWindow {
		bars = bars[len(bars)-TrailWindow:]
	}
	ranges := make([]float64, len(bars))
	for i, b := range bars {
		ranges[i] = b.Range()
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(ranges)))
	if len(ranges) == 1 {
		half = ranges[0] / 2
	} else {
		half = ranges[1]
	}
	all = math.Max(half*1.25, minAll)
	return half, all, true
}

// TrailAction is the exit a trailing stop asks for.
type TrailAction int

const (
	TrailNone TrailAction = iota
	TrailExitHalf
	TrailExitAll
)

func (a TrailAction) String() string {
	switch a {
	case TrailExitHalf:
		return "half"
	case TrailExitAll:
		return "all"
	default:
		return "none"
	}
}

// EvaluateTrail checks price against the post-entry high. The full exit wins
// over the half exit; the half exit fires at most once per high.
func EvaluateTrail(high, price, half, all float64, halfFired bool) TrailAction {
	if high <= 0 || price <= 0 {
		return TrailNone
	}
	if all > 0 && price < high-all {
		return TrailExitAll
	}
	if !halfFired && half > 0 && price < high-half {
		return TrailExitHalf
	}
	return TrailNone
}
