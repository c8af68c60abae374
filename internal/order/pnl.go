package order

import "math"

// CalculatePnL computes realized P&L for a flattening fill of a long (side "B")
// or short position, net of fee.
func CalculatePnL(side string, qty, entry, exit float64, fee float64) float64 {
	q := math.Abs(qty)
	if q == 0 {
		return 0
	}
	var pnl float64
	if side == "B" {
		pnl = (exit - entry) * q
	} else {
		pnl = (entry - exit) * q
	}
	return pnl - fee
}
