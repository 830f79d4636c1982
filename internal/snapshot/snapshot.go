// Package snapshot runs the nightly selection job: a skill p-value per
// tracked address, a stored-seed Thompson draw, drawdown/inactivity event
// classification, and Benjamini-Hochberg FDR-controlled selection across
// the whole tracked universe.
package snapshot

import (
	"fmt"
	"sort"
	"time"

	"github.com/alpha-pool/decision-core/internal/episode"
	"github.com/alpha-pool/decision-core/internal/posterior"
)

// MinEpisodes is the minimum closed-episode count before a skill p-value
// is computed for an address; below this the t-test has too few degrees
// of freedom to mean anything.
const MinEpisodes = 20

// FDRAlpha is the Benjamini-Hochberg false discovery rate the nightly
// selection controls for.
const FDRAlpha = 0.10

// RoundTripCostBps is the assumed round-trip trading cost, expressed the
// same way the consensus detector's ev_gate expresses cost: in bps to be
// converted to R via a stop-distance denominator.
const RoundTripCostBps = 30.0

// DrawdownDeathThreshold is the fraction of running peak R-sum an
// address's cumulative result can give back before it is classified dead.
const DrawdownDeathThreshold = 0.80

// CensorInactivityDays is how long an address can go without a closed
// episode before it is classified censored rather than active.
const CensorInactivityDays = 30

// SelectionVersion tags which selection procedure produced a snapshot, so
// a future procedure change doesn't silently reinterpret old rows.
const SelectionVersion = 1

// EventType classifies a snapshot's trader-lifecycle state.
type EventType string

const (
	EventActive   EventType = "active"
	EventDeath    EventType = "death"
	EventCensored EventType = "censored"
)

const (
	DeathTypeDrawdown80   = "drawdown_80"
	CensorTypeInactive30d = "inactive_30d"
	CensorTypeVoluntary   = "voluntary"
)

// Snapshot is one address's immutable daily selection record.
type Snapshot struct {
	Address              string
	SnapshotDate         time.Time
	SelectionVersion     int
	Posterior            posterior.TraderPosteriorNIG
	ThompsonDraw         *float64
	ThompsonSeed         *int64
	EpisodeCount         int
	AvgRGross            *float64
	AvgRNet              *float64
	SkillPValue          *float64
	FDRQualified         bool
	IsLeaderboardScanned bool
	IsPoolSelected       bool
	EventType            EventType
	DeathType            *string
	CensorType           *string
}

// HistorySource supplies an address's full closed-episode history,
// ordered oldest first.
type HistorySource interface {
	ClosedForAddress(address string) ([]*episode.Episode, error)
}

// PosteriorLookup resolves an address's current NIG posterior; ok is
// false for an address the Scorer has never updated.
type PosteriorLookup func(address string) (p posterior.TraderPosteriorNIG, ok bool)

// VoluntaryCensorHook reports whether address explicitly left tracking
// (operator or leaderboard-driven removal) rather than simply going
// quiet; nil always reports false, so every long-inactive address is
// classified inactive rather than voluntary.
type VoluntaryCensorHook func(address string) bool

// Config bundles an Engine's dependencies.
type Config struct {
	History         HistorySource
	Posteriors      PosteriorLookup
	VoluntaryCensor VoluntaryCensorHook
}

// Engine runs the nightly snapshot job over a supplied address universe.
type Engine struct {
	cfg     Config
	sampler posterior.ThompsonSampler
}

// NewEngine constructs an Engine.
func NewEngine(cfg Config) *Engine {
	if cfg.VoluntaryCensor == nil {
		cfg.VoluntaryCensor = func(string) bool { return false }
	}
	return &Engine{cfg: cfg}
}

// Run produces one Snapshot per address in addresses, then applies
// Benjamini-Hochberg selection across every address with a computed
// skill p-value.
func (e *Engine) Run(now time.Time, addresses []string) ([]Snapshot, error) {
	dateInt := dateIntFor(now)

	snapshots := make([]Snapshot, 0, len(addresses))
	for _, addr := range addresses {
		episodes, err := e.cfg.History.ClosedForAddress(addr)
		if err != nil {
			return nil, fmt.Errorf("snapshot: load history for %s: %w", addr, err)
		}
		snapshots = append(snapshots, e.buildSnapshot(addr, episodes, now, dateInt))
	}

	var entries []PValueEntry
	for _, s := range snapshots {
		if s.SkillPValue != nil {
			entries = append(entries, PValueEntry{Address: s.Address, PValue: *s.SkillPValue})
		}
	}
	selected := make(map[string]bool)
	for _, addr := range BenjaminiHochbergSelect(entries, FDRAlpha) {
		selected[addr] = true
	}

	for i := range snapshots {
		if selected[snapshots[i].Address] {
			snapshots[i].FDRQualified = true
			snapshots[i].IsPoolSelected = true
		}
	}
	return snapshots, nil
}

func (e *Engine) buildSnapshot(address string, episodes []*episode.Episode, now time.Time, dateInt int64) Snapshot {
	snap := Snapshot{
		Address:              address,
		SnapshotDate:         now,
		SelectionVersion:     SelectionVersion,
		EpisodeCount:         len(episodes),
		IsLeaderboardScanned: true,
		EventType:            EventActive,
	}

	if p, ok := e.cfg.Posteriors(address); ok {
		snap.Posterior = p
		seed := posterior.SeedForDate(dateInt, address)
		draw := e.sampler.SampleMu(p, seed)
		snap.ThompsonSeed = &seed
		snap.ThompsonDraw = &draw
	}

	if len(episodes) > 0 {
		gross := averageR(episodes)
		snap.AvgRGross = &gross
		net := gross - EstimateCostR(averageStopBps(episodes))
		snap.AvgRNet = &net

		e.classifyEvent(&snap, address, episodes, now)
	}

	if len(episodes) >= MinEpisodes {
		values := make([]float64, len(episodes))
		for i, ep := range episodes {
			values[i] = posterior.Winsorize(ep.ResultRUnclamped)
		}
		if p := computeSkillPValue(values); p != nil {
			snap.SkillPValue = p
		}
	}

	return snap
}

func (e *Engine) classifyEvent(snap *Snapshot, address string, episodes []*episode.Episode, now time.Time) {
	last := episodes[len(episodes)-1].ExitTs
	inactiveDays := now.Sub(last).Hours() / 24
	if inactiveDays >= CensorInactivityDays {
		snap.EventType = EventCensored
		ct := CensorTypeInactive30d
		if e.cfg.VoluntaryCensor(address) {
			ct = CensorTypeVoluntary
		}
		snap.CensorType = &ct
		return
	}

	if maxDrawdownFraction(episodes) > DrawdownDeathThreshold {
		snap.EventType = EventDeath
		dt := DeathTypeDrawdown80
		snap.DeathType = &dt
	}
}

// maxDrawdownFraction walks episodes (already ordered oldest-first) as a
// running R-sum and returns the largest fractional giveback from the
// running peak.
func maxDrawdownFraction(episodes []*episode.Episode) float64 {
	var runningSum, peak, maxDD float64
	for _, ep := range episodes {
		runningSum += ep.ResultR
		if runningSum > peak {
			peak = runningSum
		}
		if peak > 0 {
			dd := (peak - runningSum) / peak
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

func averageR(episodes []*episode.Episode) float64 {
	var sum float64
	for _, ep := range episodes {
		sum += ep.ResultR
	}
	return sum / float64(len(episodes))
}

func averageStopBps(episodes []*episode.Episode) float64 {
	var sum float64
	for _, ep := range episodes {
		sum += ep.StopBps
	}
	return sum / float64(len(episodes))
}

// EstimateCostR converts the assumed round-trip cost in bps into an
// R-multiple via the stop distance, the same bps/stopBps-to-R conversion
// the consensus detector's ev_gate uses. A non-positive stop distance
// (no episodes, or a zero stop) costs nothing rather than dividing by
// zero.
func EstimateCostR(avgStopBps float64) float64 {
	if avgStopBps <= 0 {
		return 0
	}
	return RoundTripCostBps / avgStopBps
}

func dateIntFor(now time.Time) int64 {
	y, m, d := now.UTC().Date()
	return int64(y)*10000 + int64(m)*100 + int64(d)
}

// PValueEntry pairs an address with its computed skill p-value, the unit
// Benjamini-Hochberg selection operates over.
type PValueEntry struct {
	Address string
	PValue  float64
}

// BenjaminiHochbergSelect finds k* = max{i : p(i) <= (i/n)*alpha} over
// entries sorted ascending by p-value (NOT the first failing index; a
// later, lower p-value can still qualify after an earlier one fails) and
// returns the addresses of the first k* entries in that order. No entry
// satisfying the inequality selects none.
func BenjaminiHochbergSelect(entries []PValueEntry, alpha float64) []string {
	if len(entries) == 0 {
		return nil
	}
	sorted := make([]PValueEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PValue < sorted[j].PValue })

	n := len(sorted)
	kStar := 0
	for i := 1; i <= n; i++ {
		threshold := (float64(i) / float64(n)) * alpha
		if sorted[i-1].PValue <= threshold {
			kStar = i
		}
	}
	if kStar == 0 {
		return nil
	}

	out := make([]string, kStar)
	for i := 0; i < kStar; i++ {
		out[i] = sorted[i].Address
	}
	return out
}
