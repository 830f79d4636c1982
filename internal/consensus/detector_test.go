package consensus

import (
	"testing"
	"time"

	"github.com/alpha-pool/decision-core/internal/episode"
)

func scenarioVotes(now time.Time, ages []time.Duration) []Vote {
	dirs := []episode.Direction{episode.Long, episode.Long, episode.Long, episode.Long, episode.Short}
	weights := []float64{0.4, 0.3, 0.2, 0.05, 0.05}
	votes := make([]Vote, len(weights))
	for i := range weights {
		votes[i] = Vote{
			Address:   string(rune('a' + i)),
			Direction: dirs[i],
			EntryVWAP: 100,
			EntryTs:   now.Add(-ages[i]),
			Weight:    weights[i],
		}
	}
	return votes
}

func TestConsensusPass(t *testing.T) {
	now := time.Now()
	ages := []time.Duration{30 * time.Second, 30 * time.Second, 30 * time.Second, 30 * time.Second, 30 * time.Second}
	votes := scenarioVotes(now, ages)

	d := NewDetector(DefaultConfig())
	decision, results := d.Evaluate(Input{
		Asset:         "BTC",
		Votes:         votes,
		CurrentPrice:  100.5,
		Now:           now,
		ATRPct:        1.0,
		ATRMultiplier: 2.0,
		StopFraction:  0.02,
		Correlation:   func(a, b string) float64 { return 0.1 },
		ExpectedMoveR: 1.0,
		FeesBps:       5,
		FundingBps:    2,
		SlippageBps:   3,
	})

	if decision == nil {
		t.Fatalf("expected a passing decision, gates: %+v", results)
	}
	if decision.Direction != episode.Long {
		t.Errorf("direction = %v, want long", decision.Direction)
	}
	if decision.EffK < 2.0 {
		t.Errorf("effK = %v, want >= 2.0", decision.EffK)
	}
}

func TestConsensusSkipOnStaleFreshness(t *testing.T) {
	now := time.Now()
	ages := []time.Duration{200 * time.Second, 30 * time.Second, 30 * time.Second, 30 * time.Second, 30 * time.Second}
	votes := scenarioVotes(now, ages)

	d := NewDetector(DefaultConfig())
	decision, results := d.Evaluate(Input{
		Asset:         "BTC",
		Votes:         votes,
		CurrentPrice:  100.5,
		Now:           now,
		ATRPct:        1.0,
		ATRMultiplier: 2.0,
		StopFraction:  0.02,
		Correlation:   func(a, b string) float64 { return 0.1 },
		ExpectedMoveR: 1.0,
		FeesBps:       5,
		FundingBps:    2,
		SlippageBps:   3,
	})

	if decision != nil {
		t.Fatalf("expected a skip on stale freshness, got a decision")
	}
	last := results[len(results)-1]
	if last.Name != "freshness" || last.Passed {
		t.Errorf("expected freshness to be the failing gate, got %+v", last)
	}
}

func TestMinTradersGateShortCircuits(t *testing.T) {
	now := time.Now()
	votes := []Vote{
		{Address: "a", Direction: episode.Long, EntryVWAP: 100, EntryTs: now, Weight: 0.5},
		{Address: "b", Direction: episode.Long, EntryVWAP: 100, EntryTs: now, Weight: 0.5},
	}
	d := NewDetector(DefaultConfig())
	decision, results := d.Evaluate(Input{Asset: "BTC", Votes: votes, Now: now})
	if decision != nil {
		t.Fatal("expected skip below min_traders")
	}
	if len(results) != 1 || results[0].Name != "min_traders" {
		t.Errorf("expected only min_traders gate to run, got %+v", results)
	}
}
