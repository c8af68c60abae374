package indicators

import "math"

// Mean returns the arithmetic mean, zero for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// EMA seeds with the mean of the first period values and applies
// ema = (v - ema) * 2/(period+1) + ema afterwards. With fewer than period
// values it is the mean of what is available.
func EMA(values []float64, period int) float64 {
	if period <= 0 || len(values) == 0 {
		return 0
	}
	if len(values) < period {
		return Mean(values)
	}
	ema := Mean(values[:period])
	k := 2.0 / float64(period+1)
	for _, v := range values[period:] {
		ema = (v-ema)*k + ema
	}
	return ema
}

// Wilder seeds with the mean of the first period samples and smooths with
// x = (x*(period-1) + v)/period. With fewer than period samples it is their mean.
func Wilder(values []float64, period int) float64 {
	if period <= 0 || len(values) == 0 {
		return 0
	}
	if len(values) < period {
		return Mean(values)
	}
	x := Mean(values[:period])
	for _, v := range values[period:] {
		x = (x*float64(period-1) + v) / float64(period)
	}
	return x
}

// TrueRange is max(high-low, |high-prevClose|, |low-prevClose|); without a
// previous close it is high-low.
func TrueRange(high, low, prevClose float64, hasPrev bool) float64 {
	tr := high - low
	if !hasPrev {
		return tr
	}
	return math.Max(tr, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
}
