package consensus

import (
	"fmt"
	"time"
)

// Input bundles everything one asset's evaluation needs beyond the votes
// themselves: the current mark price, the ATR reading used for the price
// band and stop fraction, correlation lookups for effective-K, and the
// venue-specific cost terms the EV gate nets against.
type Input struct {
	Asset          string
	Votes          []Vote
	CurrentPrice   float64
	Now            time.Time
	ATRPct         float64
	ATRMultiplier  float64
	ATRIsFallback  bool
	StopFraction   float64
	Correlation    func(a, b string) float64
	ExpectedMoveR  float64
	FeesBps        float64
	FundingBps     float64
	SlippageBps    float64
}

// Detector evaluates consensus gates in the fixed order the spec defines;
// any failing gate short-circuits the remaining gates with a skip.
type Detector struct {
	cfg Config
}

// NewDetector constructs a Detector with the given gate configuration.
func NewDetector(cfg Config) *Detector {
	return &Detector{cfg: cfg}
}

// Evaluate runs every gate in order and returns either a passing Decision
// or nil, plus the full per-gate trail for logging regardless of outcome.
func (d *Detector) Evaluate(in Input) (*Decision, []GateResult) {
	var results []GateResult

	// Gate 1: min_traders
	minTraders := GateResult{Name: "min_traders", Threshold: float64(d.cfg.MinTraders), Value: float64(len(in.Votes))}
	minTraders.Passed = len(in.Votes) >= d.cfg.MinTraders
	minTraders.Detail = fmt.Sprintf("%d traders, need %d", len(in.Votes), d.cfg.MinTraders)
	results = append(results, minTraders)
	if !minTraders.Passed {
		return nil, results
	}

	majorityDir, agreement := majorityAgreement(in.Votes)

	// Gate 2: supermajority
	supermajority := GateResult{Name: "supermajority", Threshold: d.cfg.SupermajorityThreshold, Value: agreement}
	supermajority.Passed = agreement >= d.cfg.SupermajorityThreshold
	supermajority.Detail = fmt.Sprintf("%.0f%% agreement, need %.0f%%", agreement*100, d.cfg.SupermajorityThreshold*100)
	results = append(results, supermajority)
	if !supermajority.Passed {
		return nil, results
	}

	majorityVotes := votesInDirection(in.Votes, majorityDir)
	effK := effectiveK(majorityVotes, in.Correlation)

	// Gate 3: effective_K
	effKGate := GateResult{Name: "effective_k", Threshold: d.cfg.MinEffectiveK, Value: effK}
	effKGate.Passed = effK >= d.cfg.MinEffectiveK
	effKGate.Detail = fmt.Sprintf("effective-K %.2f, need %.2f", effK, d.cfg.MinEffectiveK)
	results = append(results, effKGate)
	if !effKGate.Passed {
		return nil, results
	}

	// Gate 4: freshness
	maxAge := oldestAge(majorityVotes, in.Now)
	freshness := GateResult{Name: "freshness", Threshold: d.cfg.FreshnessMax.Seconds(), Value: maxAge.Seconds()}
	freshness.Passed = maxAge <= d.cfg.FreshnessMax
	freshness.Detail = fmt.Sprintf("signal %.0fs stale, max %.0fs", maxAge.Seconds(), d.cfg.FreshnessMax.Seconds())
	results = append(results, freshness)
	if !freshness.Passed {
		return nil, results
	}

	entryRef := weightedVWAP(majorityVotes)

	// Gate 5: price_band
	var priceBandValue float64
	denom := in.ATRPct / 100 * in.ATRMultiplier
	if denom > 0 && entryRef > 0 {
		priceBandValue = absf(in.CurrentPrice-entryRef) / entryRef / denom
	}
	priceBand := GateResult{Name: "price_band", Threshold: d.cfg.PriceBandFraction, Value: priceBandValue}
	priceBand.Passed = priceBandValue <= d.cfg.PriceBandFraction
	priceBand.Detail = fmt.Sprintf("price %.4f ATR-bands from entry, max %.2f", priceBandValue, d.cfg.PriceBandFraction)
	results = append(results, priceBand)
	if !priceBand.Passed {
		return nil, results
	}

	// Gate 6: atr_validity
	atrValidity := GateResult{Name: "atr_validity", Threshold: 0, Value: boolToF(in.ATRIsFallback)}
	atrValidity.Passed = !d.cfg.StrictATR || !in.ATRIsFallback
	atrValidity.Detail = "ATR source is fallback"
	if atrValidity.Passed {
		atrValidity.Detail = "ATR source acceptable"
	}
	results = append(results, atrValidity)
	if !atrValidity.Passed {
		return nil, results
	}

	// Gate 7: ev_gate
	stopBps := in.StopFraction * 10000
	var evR float64
	if stopBps > 0 {
		costBps := in.FeesBps + absf(in.FundingBps) + in.SlippageBps
		evR = in.ExpectedMoveR - costBps/stopBps
	}
	evGate := GateResult{Name: "ev_gate", Threshold: d.cfg.EVMinR, Value: evR}
	evGate.Passed = evR >= d.cfg.EVMinR
	evGate.Detail = fmt.Sprintf("EV_R %.2f, need %.2f", evR, d.cfg.EVMinR)
	results = append(results, evGate)
	if !evGate.Passed {
		return nil, results
	}

	addrs := make([]string, 0, len(majorityVotes))
	for _, v := range majorityVotes {
		addrs = append(addrs, v.Address)
	}

	return &Decision{
		Asset:                 in.Asset,
		Direction:             majorityDir,
		EntryRef:              entryRef,
		StopFraction:          in.StopFraction,
		EffK:                  effK,
		EVR:                   evR,
		ContributingAddresses: addrs,
	}, results
}

func boolToF(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func absf(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
