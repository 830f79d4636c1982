package orchestrator

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/alpha-pool/decision-core/internal/atr"
	"github.com/alpha-pool/decision-core/internal/bus"
	"github.com/alpha-pool/decision-core/internal/consensus"
	"github.com/alpha-pool/decision-core/internal/correlation"
	"github.com/alpha-pool/decision-core/internal/episode"
	"github.com/alpha-pool/decision-core/internal/funding"
	"github.com/alpha-pool/decision-core/internal/holdtime"
	"github.com/alpha-pool/decision-core/internal/posterior"
	"github.com/alpha-pool/decision-core/internal/risk"
	"github.com/alpha-pool/decision-core/internal/statestore"
)

func testOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	state := statestore.New(statestore.RedisConfig{Enabled: false})
	t.Cleanup(state.Close)

	tracker := episode.NewEpisodeTracker(episode.DefaultConfig(), nil, zerolog.Nop())

	return New(Config{
		Bus:             bus.New(),
		Tracker:         tracker,
		ATRProvider:     atr.NewProvider(nil),
		FundingProvider: funding.NewProvider(nil),
		HoldEstimator:   holdtime.NewEstimator(nil),
		Correlation:     correlation.NewProvider(),
		Detector:        consensus.NewDetector(consensus.DefaultConfig()),
		Governor:        risk.NewGovernor(risk.DefaultConfig()),
		State:           state,
	})
}

func TestHandleCandidateSeedsPosteriorAndTracksAddress(t *testing.T) {
	o := testOrchestrator(t)
	o.HandleCandidate(bus.CandidateEvent{
		Address: "0xabc",
		Meta: bus.CandidateMeta{
			Leaderboard: bus.LeaderboardMeta{Weight: 0.5, Rank: 3, PeriodDays: 30},
		},
	})

	if _, ok := o.state.GetTrackedAddress("0xabc"); !ok {
		t.Fatal("expected candidate address to be tracked in state store")
	}

	o.posteriorsMu.Lock()
	p, ok := o.posteriors["0xabc"]
	o.posteriorsMu.Unlock()
	if !ok {
		t.Fatal("expected posterior seeded for new candidate")
	}
	if p.Kappa != 1.0 {
		t.Errorf("seeded posterior kappa = %v, want prior kappa 1.0", p.Kappa)
	}
}

func TestHandleCandidateDoesNotResetExistingPosterior(t *testing.T) {
	o := testOrchestrator(t)
	ev := bus.CandidateEvent{Address: "0xabc", Meta: bus.CandidateMeta{Leaderboard: bus.LeaderboardMeta{Weight: 0.5}}}
	o.HandleCandidate(ev)

	o.posteriorsMu.Lock()
	o.posteriors["0xabc"] = o.posteriors["0xabc"].Update(1.0)
	o.posteriorsMu.Unlock()

	o.HandleCandidate(ev)

	o.posteriorsMu.Lock()
	kappa := o.posteriors["0xabc"].Kappa
	o.posteriorsMu.Unlock()
	if kappa != 2.0 {
		t.Errorf("re-registering a known candidate must not reset its posterior, got kappa=%v", kappa)
	}
}

func fill(id, address, side string, size, price float64, ts time.Time) bus.FillEvent {
	return bus.FillEvent{
		FillID:        id,
		Address:       address,
		Asset:         "BTC",
		Side:          side,
		Size:          size,
		Price:         price,
		Ts:            ts,
		StartPosition: 0,
	}
}

func TestHandleFillClosesEpisodeAndUpdatesPosterior(t *testing.T) {
	o := testOrchestrator(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	o.HandleFill(fill("f1", "0xabc", "buy", 1.0, 100, base))
	o.HandleFill(fill("f2", "0xabc", "sell", 1.0, 110, base.Add(time.Minute)))

	o.posteriorsMu.Lock()
	p, ok := o.posteriors["0xabc"]
	o.posteriorsMu.Unlock()
	if !ok {
		t.Fatal("expected a posterior for 0xabc after its episode closed")
	}
	if p.Kappa != 2.0 {
		t.Errorf("posterior kappa after one closed episode = %v, want 2.0 (prior 1.0 + 1 update)", p.Kappa)
	}

	if _, open := o.tracker.GetOpenEpisode("0xabc", "BTC"); open {
		t.Error("episode should be closed after the full exit fill")
	}
}

func TestHandleFillDropsSubsequentFillsFromHFTAddress(t *testing.T) {
	o := testOrchestrator(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	// Drive the address's fillFilterState straight into HFT classification
	// without going through HandleFill's episode side effects, so this test
	// only exercises the pre-screen gate.
	for i := 0; i < 150; i++ {
		o.fillFilter.classify(bus.FillEvent{
			Address: "0xhft",
			Asset:   "BTC",
			FillID:  fastFillID(i),
			Ts:      base.Add(time.Duration(i) * 18 * time.Second),
		})
	}

	o.HandleFill(fill("after", "0xhft", "buy", 1.0, 100, base.Add(time.Hour)))

	if _, open := o.tracker.GetOpenEpisode("0xhft", "BTC"); open {
		t.Error("fill from an HFT-classified address must never reach the episode tracker")
	}
}

func fastFillID(i int) string {
	return "hft-" + strconv.Itoa(i)
}

func TestPublishScoresAssignsDescendingRanks(t *testing.T) {
	o := testOrchestrator(t)
	o.posteriorsMu.Lock()
	o.posteriors["0xhigh"] = posterior.TraderPosteriorNIG{M: 3.0, Kappa: 40.0, Alpha: 40.0, Beta: 5.0}
	o.posteriors["0xlow"] = posterior.TraderPosteriorNIG{M: -3.0, Kappa: 40.0, Alpha: 40.0, Beta: 5.0}
	o.posteriorsMu.Unlock()

	o.PublishScores(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	top := o.TopScores(2)
	if len(top) != 2 {
		t.Fatalf("got %d ranked scores, want 2", len(top))
	}
	if top[0].Address != "0xhigh" {
		t.Errorf("top score address = %q, want 0xhigh (m=3 should outscore m=-3)", top[0].Address)
	}
	if top[0].Score <= top[1].Score {
		t.Errorf("ranks must be sorted descending by score: %v vs %v", top[0].Score, top[1].Score)
	}
}

func TestTopScoresTruncatesToRequestedCount(t *testing.T) {
	o := testOrchestrator(t)
	o.posteriorsMu.Lock()
	o.posteriors["0xa"] = posterior.TraderPosteriorNIG{M: 1.0, Kappa: 40.0, Alpha: 40.0, Beta: 5.0}
	o.posteriors["0xb"] = posterior.TraderPosteriorNIG{M: 2.0, Kappa: 40.0, Alpha: 40.0, Beta: 5.0}
	o.posteriorsMu.Unlock()
	o.PublishScores(time.Now())

	if got := o.TopScores(1); len(got) != 1 {
		t.Errorf("TopScores(1) returned %d entries, want 1", len(got))
	}
}

func TestHealthCheckNilDBReturnsNil(t *testing.T) {
	o := testOrchestrator(t)
	if err := o.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck with no db wired should be nil, got %v", err)
	}
}

func TestRecordPositionSignalsNilRepoIsNoop(t *testing.T) {
	o := testOrchestrator(t)
	o.HandleFill(fill("f1", "0xabc", "buy", 1.0, 100, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))

	// No PositionSignals repository wired; this must not panic.
	o.recordPositionSignals("BTC", time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC))
}

func TestDateIntForUsesUTCCalendarDay(t *testing.T) {
	ts := time.Date(2026, 3, 7, 23, 0, 0, 0, time.UTC)
	if got := dateIntFor(ts); got != 20260307 {
		t.Errorf("dateIntFor = %d, want 20260307", got)
	}
}

func TestProposedPositionNotionalScalesWithAccountAndStop(t *testing.T) {
	got := proposedPositionNotional(100000, 0.02)
	want := 100000 * riskPerTradePct / 0.02
	if got != want {
		t.Errorf("proposedPositionNotional = %v, want %v", got, want)
	}
}

func TestProposedPositionNotionalZeroStopFractionIsZero(t *testing.T) {
	if got := proposedPositionNotional(100000, 0); got != 0 {
		t.Errorf("proposedPositionNotional with zero stop fraction = %v, want 0", got)
	}
}
