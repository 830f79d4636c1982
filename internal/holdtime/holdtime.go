// Package holdtime estimates the expected hold duration of a position,
// used to scale funding cost over the expected hold for the consensus
// detector's EV gate.
package holdtime

import (
	"sort"
	"sync"
	"time"
)

// DefaultHoldHours is the fallback used when too little history exists.
const DefaultHoldHours = 24.0

// MinEpisodesForEstimate is the minimum closed-episode sample size before
// the historical median is trusted over the default.
const MinEpisodesForEstimate = 10

// LookbackDays bounds how far back closed episodes are considered.
const LookbackDays = 30

// CacheTTL governs how often the base (asset, regime) estimate is
// recomputed from storage.
const CacheTTL = 300 * time.Second

// Regime classifies the recent market condition for an asset.
type Regime string

const (
	RegimeTrending Regime = "trending"
	RegimeRanging  Regime = "ranging"
	RegimeVolatile Regime = "volatile"
	RegimeUnknown  Regime = "unknown"
)

var regimeMultiplier = map[Regime]float64{
	RegimeTrending: 1.25,
	RegimeRanging:  1.0,
	RegimeVolatile: 0.75,
	RegimeUnknown:  1.0,
}

var venueMultiplier = map[string]float64{
	"hyperliquid": 1.0,
	"bybit":       0.85,
	"aster":       0.85,
}

const defaultVenueMultiplier = 0.85

// HistorySource supplies the closed-episode hold durations (in hours) an
// Estimator medians over; its concrete implementation reads
// position_signals from internal/storage.
type HistorySource interface {
	ClosedHoldHours(asset string, since time.Time) ([]float64, error)
}

type baseCacheEntry struct {
	hours    float64
	cachedAt time.Time
}

// Estimator caches the venue-agnostic (asset, regime) base estimate and
// applies the target venue's multiplier fresh on every read — this two-
// layer cache is what lets one cached base estimate serve every venue
// without the venue adjustment going stale at a different cadence than
// the base estimate itself.
type Estimator struct {
	mu      sync.Mutex
	history HistorySource
	base    map[string]baseCacheEntry
}

// NewEstimator constructs an Estimator; history may be nil, in which case
// every call falls back to DefaultHoldHours.
func NewEstimator(history HistorySource) *Estimator {
	return &Estimator{history: history, base: make(map[string]baseCacheEntry)}
}

func baseKey(asset string, regime Regime) string {
	return asset + "|" + string(regime)
}

// GetHoldTime returns the expected hold time in hours for asset under
// regime, adjusted for venue: h = base * regime_multiplier * venue_multiplier.
func (e *Estimator) GetHoldTime(asset string, regime Regime, venue string, now time.Time) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	base := e.baseEstimate(asset, regime, now)
	rm, ok := regimeMultiplier[regime]
	if !ok {
		rm = regimeMultiplier[RegimeUnknown]
	}
	vm, ok := venueMultiplier[venue]
	if !ok {
		vm = defaultVenueMultiplier
	}
	return base * rm * vm
}

func (e *Estimator) baseEstimate(asset string, regime Regime, now time.Time) float64 {
	k := baseKey(asset, regime)
	if entry, ok := e.base[k]; ok && now.Sub(entry.cachedAt) < CacheTTL {
		return entry.hours
	}

	hours := e.computeBase(asset, now)
	e.base[k] = baseCacheEntry{hours: hours, cachedAt: now}
	return hours
}

func (e *Estimator) computeBase(asset string, now time.Time) float64 {
	if e.history == nil {
		return DefaultHoldHours
	}
	since := now.Add(-LookbackDays * 24 * time.Hour)
	samples, err := e.history.ClosedHoldHours(asset, since)
	if err != nil || len(samples) < MinEpisodesForEstimate {
		return DefaultHoldHours
	}
	return median(samples)
}

func median(xs []float64) float64 {
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
