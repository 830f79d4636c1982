// Package fillfilter pre-screens raw trader fills for high-frequency /
// market-making noise before they ever reach the episode tracker: traders
// placing an implausible number of orders per day are excluded from
// episode tracking and Scorer consideration entirely.
package fillfilter

import "time"

// HFTOrdersPerDayThreshold is the orders/day rate above which a trader is
// classified as HFT/market-making noise.
const HFTOrdersPerDayThreshold = 100.0

// MinSpanForRate is the minimum time span a trader's fills must cover
// before an orders/day rate is considered meaningful; below this span the
// rate is reported as 0 rather than an extrapolated (and misleading)
// figure.
const MinSpanForRate = 15 * time.Minute

var btcEthAssets = map[string]bool{"BTC": true, "ETH": true}

// RawFill is the minimal shape fillfilter needs from a raw venue fill —
// distinct from episode.Fill, since this runs upstream of fill_id
// normalization.
type RawFill struct {
	OrderID string
	Asset   string
	Ts      time.Time
}

// Activity summarizes one trader's recent fill behavior.
type Activity struct {
	OrdersPerDay float64
	HasBTCETH    bool
	FillCount    int
	IsHFT        bool
}

// Classify groups fills by order id and estimates an orders-per-day rate,
// flagging the trader as HFT when that rate exceeds HFTOrdersPerDayThreshold.
func Classify(fills []RawFill) Activity {
	if len(fills) == 0 {
		return Activity{}
	}

	orderIDs := make(map[string]struct{})
	var minTs, maxTs time.Time
	hasBTCETH := false

	for i, f := range fills {
		orderIDs[f.OrderID] = struct{}{}
		if btcEthAssets[f.Asset] {
			hasBTCETH = true
		}
		if i == 0 || f.Ts.Before(minTs) {
			minTs = f.Ts
		}
		if i == 0 || f.Ts.After(maxTs) {
			maxTs = f.Ts
		}
	}

	span := maxTs.Sub(minTs)
	var ordersPerDay float64
	if span >= MinSpanForRate {
		spanDays := span.Hours() / 24
		ordersPerDay = float64(len(orderIDs)) / spanDays
	}

	return Activity{
		OrdersPerDay: ordersPerDay,
		HasBTCETH:    hasBTCETH,
		FillCount:    len(fills),
		IsHFT:        ordersPerDay > HFTOrdersPerDayThreshold,
	}
}
