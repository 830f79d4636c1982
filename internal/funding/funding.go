// Package funding serves cached per-(venue,asset) funding rates and
// derives the signed funding cost of holding a position for a given
// number of hours.
package funding

import (
	"sync"
	"time"
)

// CacheTTL is how long a fetched or fallback funding reading is reused.
const CacheTTL = 300 * time.Second

// DefaultIntervalHours is used when a venue's API doesn't report its own
// funding interval.
const DefaultIntervalHours = 8.0

// GenericFallbackBps is the conservative fallback rate used only when
// neither the venue API nor the per-venue static table has an entry for
// this (exchange, asset).
const GenericFallbackBps = 8.0

// Source discriminates where a FundingData reading came from.
type Source string

const (
	SourceAPI    Source = "api"
	SourceStatic Source = "static"
	SourceCached Source = "cached"
)

// staticRates is the per-exchange, per-asset static fallback table used
// when the venue's funding API is unavailable.
var staticRates = map[string]map[string]float64{
	"hyperliquid": {"BTC": 1.25, "ETH": 10.0},
	"aster":       {"BTC": 8.0, "ETH": 10.0},
	"bybit":       {"BTC": 5.0, "ETH": 7.0},
}

// Data is the consumer-facing funding reading for one (venue, asset).
type Data struct {
	Asset           string
	Exchange        string
	RateBps         float64
	IntervalHours   float64
	NextFundingTime *time.Time
	Source          Source
}

// CostForHoldTime returns the signed funding cost, in bps, of holding a
// position of the given side for hours. Longs pay positive rates; shorts
// receive the mirror image.
func (d Data) CostForHoldTime(hours float64, side string) float64 {
	periods := hours / d.IntervalHours
	cost := d.RateBps * periods
	if side == "short" {
		return -cost
	}
	return cost
}

// VenueFetcher is the live funding-rate source, implemented by a
// VenueClient adapter (out of scope here — only its contract).
type VenueFetcher interface {
	FetchFunding(exchange, asset string) (rateBps float64, intervalHours float64, next *time.Time, err error)
}

type cacheEntry struct {
	data     Data
	cachedAt time.Time
}

// Provider caches funding readings per (exchange, asset) for CacheTTL and
// dispatches to the venue API, then the static table, then the generic
// conservative fallback.
type Provider struct {
	mu      sync.Mutex
	fetcher VenueFetcher
	cache   map[string]cacheEntry
}

// NewProvider constructs a Provider; fetcher may be nil in tests and
// environments that only want the static/fallback table.
func NewProvider(fetcher VenueFetcher) *Provider {
	return &Provider{fetcher: fetcher, cache: make(map[string]cacheEntry)}
}

func key(exchange, asset string) string {
	return exchange + "|" + asset
}

// Get returns the funding reading for (exchange, asset), refreshing from
// the venue API at most once per CacheTTL.
func (p *Provider) Get(exchange, asset string, now time.Time) Data {
	p.mu.Lock()
	defer p.mu.Unlock()

	k := key(exchange, asset)
	if entry, ok := p.cache[k]; ok && now.Sub(entry.cachedAt) < CacheTTL {
		cached := entry.data
		cached.Source = SourceCached
		return cached
	}

	data := p.fetch(exchange, asset)
	p.cache[k] = cacheEntry{data: data, cachedAt: now}
	return data
}

func (p *Provider) fetch(exchange, asset string) Data {
	if p.fetcher != nil {
		if rate, interval, next, err := p.fetcher.FetchFunding(exchange, asset); err == nil {
			if interval <= 0 {
				interval = DefaultIntervalHours
			}
			return Data{Asset: asset, Exchange: exchange, RateBps: rate, IntervalHours: interval, NextFundingTime: next, Source: SourceAPI}
		}
	}

	if byAsset, ok := staticRates[exchange]; ok {
		if rate, ok := byAsset[asset]; ok {
			return Data{Asset: asset, Exchange: exchange, RateBps: rate, IntervalHours: DefaultIntervalHours, Source: SourceStatic}
		}
	}

	return Data{Asset: asset, Exchange: exchange, RateBps: GenericFallbackBps, IntervalHours: DefaultIntervalHours, Source: SourceStatic}
}
