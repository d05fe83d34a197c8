// Package sizer converts a recommendation's position_target_pct into an
// integer share count, respecting available cash. Pure function of
// (equity, entry price, target pct, cash, fee) — no I/O, no engine state
// mutation.
package sizer

import "math"

// Fee is a flat per-trade fee applied symmetrically to entries and exits.
type Fee int64

// Size computes qty = floor(positionTargetPct * equity / entryPrice),
// rejecting (qty=0) if the resulting cost would exceed availableCash or if
// the computed quantity rounds to zero.
func Size(equity int64, entryPrice, positionTargetPct float64, availableCash int64, fee Fee) (qty int64, cost int64, ok bool) {
	if entryPrice <= 0 || positionTargetPct <= 0 || equity <= 0 {
		return 0, 0, false
	}
	raw := positionTargetPct * float64(equity) / entryPrice
	qty = int64(math.Floor(raw))
	if qty <= 0 {
		return 0, 0, false
	}
	cost = int64(math.Round(float64(qty)*entryPrice)) + int64(fee)
	if cost > availableCash {
		return 0, 0, false
	}
	return qty, cost, true
}

// Clamp restricts v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
