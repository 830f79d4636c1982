// Package atr computes and caches per-asset volatility estimates (Average
// True Range on 1-minute candles) and derives ATR-multiplied stop
// distances for the episode tracker and consensus detector.
package atr

import (
	"math"
	"sync"
	"time"
)

// Period is the number of candles Wilder's smoothing averages over.
const Period = 14

// CacheTTL is how long a computed or DB-sourced ATR reading is reused
// before a refresh is attempted.
const CacheTTL = 60 * time.Second

// StalenessThreshold marks a reading stale regardless of source once it
// ages past this point.
const StalenessThreshold = 300 * time.Second

// multiplierByAsset maps an asset to its ATR stop-distance multiplier;
// anything unlisted uses the BTC multiplier as a conservative default.
var multiplierByAsset = map[string]float64{
	"BTC": 2.0,
	"ETH": 1.5,
}

// fallbackPctByAsset is the static ATR percent used when no candle data is
// available at all.
var fallbackPctByAsset = map[string]float64{
	"BTC": 0.4,
	"ETH": 0.6,
}

const defaultFallbackPct = 0.5

// Source discriminates where an ATRData reading came from.
type Source string

const (
	SourceDB         Source = "db"
	SourceCalculated Source = "calculated"
	SourceFallback   Source = "fallback"
)

// Candle is one 1-minute OHLC bar as read from the marks_1m table.
type Candle struct {
	Ts    time.Time
	Mid   float64
	High  float64
	Low   float64
	Close float64
	ATR14 *float64
}

// CandleRepository is the read path ATRProvider consumes; its concrete
// implementation lives in internal/storage against the marks_1m table.
type CandleRepository interface {
	LatestCandles(asset string, n int) ([]Candle, error)
}

// Data is the cached, consumer-facing ATR reading for one asset.
type Data struct {
	Asset             string
	ATR               float64
	ATRPct            float64
	Price             float64
	Multiplier        float64
	StopDistancePct   float64
	Timestamp         time.Time
	Source            Source
}

// IsStale reports whether this reading should be treated as unreliable:
// any fallback reading is always stale, and any reading ages out past
// StalenessThreshold.
func (d Data) IsStale(now time.Time) bool {
	if d.Source == SourceFallback {
		return true
	}
	return now.Sub(d.Timestamp) > StalenessThreshold
}

// AgeSeconds is the age of the reading in seconds, for logging.
func (d Data) AgeSeconds(now time.Time) float64 {
	return now.Sub(d.Timestamp).Seconds()
}

type cacheEntry struct {
	data      Data
	cachedAt  time.Time
}

// Provider serves cached ATR readings per asset, recomputing against a
// fresh price on every read while only refreshing the underlying ATR
// value once per CacheTTL.
type Provider struct {
	mu    sync.Mutex
	repo  CandleRepository
	cache map[string]cacheEntry
}

// NewProvider constructs a Provider; repo may be nil in tests that never
// exercise the DB/compute path (asset-specific fallback always works).
func NewProvider(repo CandleRepository) *Provider {
	return &Provider{repo: repo, cache: make(map[string]cacheEntry)}
}

// Get returns the ATR reading for asset, given the current mark price and
// wall time. When a cache entry is still within CacheTTL, its atr_pct and
// stop_distance_pct are recomputed against the fresh price without
// touching the entry's timestamp or source — matching the original
// get_atr's live-price recompute-on-cache-hit behavior.
func (p *Provider) Get(asset string, price float64, now time.Time) Data {
	p.mu.Lock()
	defer p.mu.Unlock()

	asset = normalizeAsset(asset)

	if entry, ok := p.cache[asset]; ok && now.Sub(entry.cachedAt) < CacheTTL {
		entry.data.Price = price
		entry.data.ATRPct = entry.data.ATR / price * 100
		entry.data.StopDistancePct = entry.data.ATRPct * entry.data.Multiplier
		return entry.data
	}

	data := p.fetch(asset, price, now)
	p.cache[asset] = cacheEntry{data: data, cachedAt: now}
	return data
}

func (p *Provider) fetch(asset string, price float64, now time.Time) Data {
	multiplier := multiplierFor(asset)

	if p.repo != nil {
		if candles, err := p.repo.LatestCandles(asset, Period+5); err == nil && len(candles) > 0 {
			if last := candles[len(candles)-1]; last.ATR14 != nil {
				return buildData(asset, *last.ATR14, price, multiplier, now, SourceDB)
			}
			if atrVal, ok := computeATR(candles); ok {
				return buildData(asset, atrVal, price, multiplier, now, SourceCalculated)
			}
		}
	}

	return fallbackData(asset, price, multiplier, now)
}

func buildData(asset string, atrVal, price, multiplier float64, now time.Time, source Source) Data {
	atrPct := 0.0
	if price != 0 {
		atrPct = atrVal / price * 100
	}
	return Data{
		Asset:           asset,
		ATR:             atrVal,
		ATRPct:          atrPct,
		Price:           price,
		Multiplier:      multiplier,
		StopDistancePct: atrPct * multiplier,
		Timestamp:       now,
		Source:          source,
	}
}

func fallbackData(asset string, price, multiplier float64, now time.Time) Data {
	pct, ok := fallbackPctByAsset[asset]
	if !ok {
		pct = defaultFallbackPct
	}
	return Data{
		Asset:           asset,
		ATR:             price * pct / 100,
		ATRPct:          pct,
		Price:           price,
		Multiplier:      multiplier,
		StopDistancePct: pct * multiplier,
		Timestamp:       now,
		Source:          SourceFallback,
	}
}

// GetStopFraction converts a reading's stop_distance_pct into the
// fractional stop distance EpisodeTracker consumes, clamped to
// [0.001, 0.10].
func GetStopFraction(d Data) float64 {
	frac := d.StopDistancePct / 100
	if frac < 0.001 {
		return 0.001
	}
	if frac > 0.10 {
		return 0.10
	}
	return frac
}

func multiplierFor(asset string) float64 {
	if m, ok := multiplierByAsset[asset]; ok {
		return m
	}
	return multiplierByAsset["BTC"]
}

func normalizeAsset(asset string) string {
	out := make([]byte, len(asset))
	for i := 0; i < len(asset); i++ {
		c := asset[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

// trueRange computes True Range for one candle against the prior close.
// The very first candle in a series has no prior close, so TR collapses
// to high-low.
func trueRange(high, low, prevClose float64, hasPrev bool) float64 {
	if !hasPrev {
		return high - low
	}
	hl := high - low
	hc := math.Abs(high - prevClose)
	lc := math.Abs(low - prevClose)
	tr := hl
	if hc > tr {
		tr = hc
	}
	if lc > tr {
		tr = lc
	}
	return tr
}

// computeATR applies Wilder's smoothing over candles: seed is the mean of
// the first Period true ranges, then each subsequent TR folds in via
// ATR <- ((Period-1)*ATR + TR) / Period.
func computeATR(candles []Candle) (float64, bool) {
	if len(candles) < Period+1 {
		return 0, false
	}

	trs := make([]float64, 0, len(candles))
	for i, c := range candles {
		if i == 0 {
			trs = append(trs, trueRange(c.High, c.Low, 0, false))
			continue
		}
		trs = append(trs, trueRange(c.High, c.Low, candles[i-1].Close, true))
	}

	var seedSum float64
	for i := 0; i < Period; i++ {
		seedSum += trs[i]
	}
	atrVal := seedSum / float64(Period)

	for i := Period; i < len(trs); i++ {
		atrVal = (float64(Period-1)*atrVal + trs[i]) / float64(Period)
	}
	return atrVal, true
}
