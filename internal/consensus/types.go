// Package consensus aggregates live per-trader votes on an asset into a
// weighted supermajority decision, gated by agreement strength,
// correlation-adjusted independence, freshness, price proximity, ATR
// validity, and expected value net of costs.
package consensus

import (
	"time"

	"github.com/alpha-pool/decision-core/internal/episode"
)

// Vote is the input contract this package consumes; it is
// episode.Vote's shape, kept as a distinct alias so consensus doesn't
// force every caller to import episode just to build one.
type Vote = episode.Vote

// GateResult is the structured, uniform report every gate produces
// regardless of pass/fail, so the decision log can render a single
// sentence identifying the first failing gate and its numeric margin.
type GateResult struct {
	Name      string
	Passed    bool
	Value     float64
	Threshold float64
	Detail    string
}

// Decision is the output of a passing evaluation.
type Decision struct {
	Asset                 string
	Direction              episode.Direction
	EntryRef               float64 // weighted VWAP of contributing entries
	StopFraction           float64
	EffK                   float64
	EVR                    float64
	ContributingAddresses  []string
}

// Config holds the consensus detector's tunable gate thresholds.
type Config struct {
	MinTraders             int
	SupermajorityThreshold float64
	MinEffectiveK          float64
	FreshnessMax           time.Duration
	PriceBandFraction      float64
	EVMinR                 float64
	StrictATR              bool
}

// DefaultConfig matches the thresholds in the component design.
func DefaultConfig() Config {
	return Config{
		MinTraders:             3,
		SupermajorityThreshold: 0.70,
		MinEffectiveK:          2.0,
		FreshnessMax:           150 * time.Second,
		PriceBandFraction:      0.25,
		EVMinR:                 0.20,
		StrictATR:              false,
	}
}
