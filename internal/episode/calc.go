package episode

// calculateVWAP computes the size-weighted average price across fills.
// Size is always taken as the fill's unsigned magnitude: direction is
// tracked separately by the episode, not by the sign of an individual
// fill's contribution to VWAP.
func calculateVWAP(fills []Fill) float64 {
	var notional, size float64
	for _, f := range fills {
		notional += f.Price * f.Size
		size += f.Size
	}
	if size == 0 {
		return 0
	}
	return notional / size
}

// calculateStopPrice derives the stop price from entry VWAP and a stop
// fraction, below entry for longs and above entry for shorts.
func calculateStopPrice(direction Direction, entryVWAP, stopFraction float64) float64 {
	if direction == Short {
		return entryVWAP * (1 + stopFraction)
	}
	return entryVWAP * (1 - stopFraction)
}

// calculateStopBps expresses the entry-to-stop distance in basis points.
func calculateStopBps(entryVWAP, stopPrice float64) float64 {
	if entryVWAP == 0 {
		return 0
	}
	d := entryVWAP - stopPrice
	if d < 0 {
		d = -d
	}
	return d / entryVWAP * 10000
}

// calculateR returns both the clamped and unclamped R-multiple for a
// realized P&L against a risk amount. The unclamped value is retained for
// audit even though downstream consumers only ever see the clamped one.
func calculateR(pnl, riskAmount, rMin, rMax float64) (clamped, unclamped float64) {
	if riskAmount == 0 {
		return 0, 0
	}
	unclamped = pnl / riskAmount
	clamped = unclamped
	if clamped < rMin {
		clamped = rMin
	}
	if clamped > rMax {
		clamped = rMax
	}
	return clamped, unclamped
}

func signOf(x float64) int {
	switch {
	case x > PositionEpsilon:
		return 1
	case x < -PositionEpsilon:
		return -1
	default:
		return 0
	}
}

func directionOf(signed float64) Direction {
	if signed < 0 {
		return Short
	}
	return Long
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
