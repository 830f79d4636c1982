// Package orchestrator binds the three bus subjects to the decision
// engine's components: inbound candidates grow the tracked-address set,
// inbound fills drive the episode tracker and NIG posterior updates, and
// a periodic job Thompson-samples every tracked trader's posterior into
// an outbound score event. It also runs the consensus detector over each
// asset's live votes whenever an episode changes, logging the resulting
// decision or skip.
package orchestrator

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alpha-pool/decision-core/internal/atr"
	"github.com/alpha-pool/decision-core/internal/bus"
	"github.com/alpha-pool/decision-core/internal/consensus"
	"github.com/alpha-pool/decision-core/internal/correlation"
	"github.com/alpha-pool/decision-core/internal/episode"
	"github.com/alpha-pool/decision-core/internal/fillfilter"
	"github.com/alpha-pool/decision-core/internal/funding"
	"github.com/alpha-pool/decision-core/internal/holdtime"
	"github.com/alpha-pool/decision-core/internal/httpapi"
	"github.com/alpha-pool/decision-core/internal/logging"
	"github.com/alpha-pool/decision-core/internal/posterior"
	"github.com/alpha-pool/decision-core/internal/risk"
	"github.com/alpha-pool/decision-core/internal/statestore"
	"github.com/alpha-pool/decision-core/internal/storage"
)

// maxRawFillHistory bounds the per-address ring buffer fillfilter
// classification reads from; fills beyond this are dropped, oldest first.
const maxRawFillHistory = 500

// ScorePublishInterval is the cadence of the Thompson-sampling score
// publish job.
const ScorePublishInterval = 30 * time.Second

// TimeoutSweepInterval is the cadence of the episode timeout sweep: an
// episode that stops receiving fills entirely (an abandoned position)
// only ages out via this periodic check, since ProcessFill's own timeout
// check never runs without a new fill to trigger it.
const TimeoutSweepInterval = 5 * time.Minute

// AccountStateSource supplies the live account state RunAllChecks gates
// on; a nil source means no decision is ever risk-checked against live
// account data (tests, or a venue not yet wired in).
type AccountStateSource interface {
	AccountState() (risk.State, error)
}

// Orchestrator owns every long-lived component and the bus subscriptions
// that feed them.
type Orchestrator struct {
	bus *bus.Bus

	fillFilter     *fillFilterState
	tracker        *episode.EpisodeTracker
	atrProvider    *atr.Provider
	fundingProvider *funding.Provider
	holdEstimator  *holdtime.Estimator
	correlation    *correlation.Provider
	detector       *consensus.Detector
	governor       *risk.Governor
	state          *statestore.StateStore
	trackedRepo    *storage.TrackedAddressRepository
	positionSignals *storage.PositionSignalRepository
	db             *storage.DB

	account AccountStateSource

	posteriorsMu sync.Mutex
	posteriors   map[string]posterior.TraderPosteriorNIG
	ranksMu      sync.Mutex
	ranks        map[string]float64

	venueByAddress func(address string) string

	logger *logging.Logger
}

// Config bundles every already-constructed component an Orchestrator
// binds together; each is built and tested independently in its own
// package.
type Config struct {
	Bus             *bus.Bus
	Tracker         *episode.EpisodeTracker
	ATRProvider     *atr.Provider
	FundingProvider *funding.Provider
	HoldEstimator   *holdtime.Estimator
	Correlation     *correlation.Provider
	Detector        *consensus.Detector
	Governor        *risk.Governor
	State           *statestore.StateStore
	TrackedRepo     *storage.TrackedAddressRepository
	// PositionSignals records each open episode's point-in-time state
	// whenever the consensus detector re-evaluates an asset; nil skips
	// the write (tests, or a deployment running without Postgres).
	PositionSignals *storage.PositionSignalRepository
	DB              *storage.DB
	Account         AccountStateSource
	// VenueByAddress resolves which venue a tracked address trades on, for
	// funding-rate lookups; a nil func defaults every address to
	// hyperliquid.
	VenueByAddress func(address string) string
}

// New constructs an Orchestrator; call Start to subscribe its bus
// handlers and begin the periodic score-publish job.
func New(cfg Config) *Orchestrator {
	venueFn := cfg.VenueByAddress
	if venueFn == nil {
		venueFn = func(string) string { return "hyperliquid" }
	}
	return &Orchestrator{
		bus:             cfg.Bus,
		fillFilter:      newFillFilterState(),
		tracker:         cfg.Tracker,
		atrProvider:     cfg.ATRProvider,
		fundingProvider: cfg.FundingProvider,
		holdEstimator:   cfg.HoldEstimator,
		correlation:     cfg.Correlation,
		detector:        cfg.Detector,
		governor:        cfg.Governor,
		state:           cfg.State,
		trackedRepo:     cfg.TrackedRepo,
		positionSignals: cfg.PositionSignals,
		db:              cfg.DB,
		account:         cfg.Account,
		posteriors:      make(map[string]posterior.TraderPosteriorNIG),
		ranks:           make(map[string]float64),
		venueByAddress:  venueFn,
		logger:          logging.Default().WithComponent("orchestrator"),
	}
}

// Start subscribes the candidate and fill handlers and launches the
// periodic score-publish job. It returns immediately; the publish job
// runs until ctx is cancelled.
func (o *Orchestrator) Start(ctx context.Context) {
	o.bus.Subscribe(bus.SubjectCandidates, func(msg bus.Message) {
		ev, ok := msg.Payload.(bus.CandidateEvent)
		if !ok {
			return
		}
		o.HandleCandidate(ev)
	})
	o.bus.Subscribe(bus.SubjectFills, func(msg bus.Message) {
		ev, ok := msg.Payload.(bus.FillEvent)
		if !ok {
			return
		}
		o.HandleFill(ev)
	})

	go o.runScorePublishLoop(ctx)
	go o.runTimeoutSweepLoop(ctx)
}

// HandleCandidate registers a leaderboard-proposed address for tracking,
// seeding its posterior if this is the first time it has been seen.
func (o *Orchestrator) HandleCandidate(ev bus.CandidateEvent) {
	now := time.Now().UTC()

	o.state.PutTrackedAddress(context.Background(), statestore.TrackedAddress{
		Address: ev.Address,
		Weight:  ev.Meta.Leaderboard.Weight,
		Rank:    ev.Meta.Leaderboard.Rank,
		Period:  ev.Meta.Leaderboard.PeriodDays,
	}, now)

	if o.trackedRepo != nil {
		if err := o.trackedRepo.Upsert(storage.TrackedAddress{
			Address:   ev.Address,
			Weight:    ev.Meta.Leaderboard.Weight,
			Rank:      ev.Meta.Leaderboard.Rank,
			Period:    ev.Meta.Leaderboard.PeriodDays,
			UpdatedAt: now,
		}); err != nil {
			o.logger.WithErrKind(err).Error("failed to persist tracked address", "address", ev.Address)
		}
	}

	o.posteriorsMu.Lock()
	if _, ok := o.posteriors[ev.Address]; !ok {
		o.posteriors[ev.Address] = posterior.NewPrior()
	}
	o.posteriorsMu.Unlock()

	o.logger.Info("candidate registered", "address", ev.Address, "rank", ev.Meta.Leaderboard.Rank)
}

// HandleFill pre-screens a fill for HFT/noise activity, then applies it
// to the episode tracker. A closed episode feeds the trader's NIG
// posterior; any change to the asset's open episodes re-runs the
// consensus detector.
func (o *Orchestrator) HandleFill(ev bus.FillEvent) {
	if o.fillFilter.classify(ev) {
		o.logger.Warn("dropping fill from HFT-classified address", "address", ev.Address, "asset", ev.Asset)
		return
	}

	fill := episode.Fill{
		FillID:        ev.FillID,
		Source:        ev.Source,
		Address:       ev.Address,
		Asset:         ev.Asset,
		Side:          ev.Side,
		Size:          ev.Size,
		Price:         ev.Price,
		Ts:            ev.Ts,
		StartPosition: ev.StartPosition,
		RealizedPnL:   ev.RealizedPnL,
		Fees:          ev.Fees,
	}

	atrData := o.atrProvider.Get(ev.Asset, ev.Price, ev.Ts)
	stopFraction := atr.GetStopFraction(atrData)

	closed, err := o.tracker.ProcessFill(fill, stopFraction)
	if err != nil {
		o.logger.WithErrKind(err).Error("failed to process fill", "address", ev.Address, "asset", ev.Asset)
		return
	}
	if closed != nil {
		o.onEpisodeClosed(closed)
	}

	o.evaluateConsensus(ev.Asset, atrData, ev.Price, ev.Ts)
}

// onEpisodeClosed applies the winsorized result_r to the trader's NIG
// posterior.
func (o *Orchestrator) onEpisodeClosed(ep *episode.Episode) {
	x := posterior.Winsorize(ep.ResultR)

	o.posteriorsMu.Lock()
	p, ok := o.posteriors[ep.Address]
	if !ok {
		p = posterior.NewPrior()
	}
	updated := p.Update(x)
	o.posteriors[ep.Address] = updated
	o.posteriorsMu.Unlock()

	o.logger.Info("episode closed", "address", ep.Address, "asset", ep.Asset,
		"result_r", ep.ResultR, "reason", string(ep.ClosedReason))
}

// evaluateConsensus re-runs the consensus detector over asset's current
// open-episode votes and logs the outcome — a passing decision with its
// contributing addresses, or the first failing gate's reason.
func (o *Orchestrator) evaluateConsensus(asset string, atrData atr.Data, currentPrice float64, now time.Time) {
	votes := episode.VotesForAsset(o.tracker.OpenEpisodes(), asset)
	if len(votes) == 0 {
		return
	}

	o.recordPositionSignals(asset, now)

	venueName := o.venueByAddress(votes[0].Address)
	fundingData := o.fundingProvider.Get(venueName, asset, now)
	holdHours := o.holdEstimator.GetHoldTime(asset, holdtime.RegimeUnknown, venueName, now)

	rho := func(a, b string) float64 {
		return o.correlation.GetWithDecay(a, b, venueName, now)
	}

	decision, gates := o.detector.Evaluate(consensus.Input{
		Asset:         asset,
		Votes:         votes,
		CurrentPrice:  currentPrice,
		Now:           now,
		ATRPct:        atrData.ATRPct,
		ATRMultiplier: atrData.Multiplier,
		ATRIsFallback: atrData.Source == atr.SourceFallback,
		StopFraction:  atr.GetStopFraction(atrData),
		Correlation:   rho,
		ExpectedMoveR: expectedMoveR(fundingData, holdHours),
		FeesBps:       defaultFeesBps,
		FundingBps:    fundingData.CostForHoldTime(holdHours, string(votes[0].Direction)),
		SlippageBps:   defaultSlippageBps,
	})

	if decision == nil {
		last := gates[len(gates)-1]
		o.logger.Info("consensus skip", "asset", asset, "gate", last.Name, "detail", last.Detail)
		return
	}

	if o.account != nil {
		acct, err := o.account.AccountState()
		if err == nil {
			proposedNotional := proposedPositionNotional(acct.AccountValue, atr.GetStopFraction(atrData))
			check := o.governor.RunAllChecks(acct, proposedNotional, acct.TotalExposure, now)
			if !check.Allowed {
				o.logger.Info("decision blocked by risk governor", "asset", asset, "reason", check.Reason)
				return
			}
		}
	}

	o.logger.Info("consensus decision", "asset", asset, "direction", string(decision.Direction),
		"entry_ref", decision.EntryRef, "eff_k", decision.EffK, "ev_r", decision.EVR,
		"contributors", len(decision.ContributingAddresses))
}

// recordPositionSignals writes one position_signals row per open episode
// on asset, rows that storage.PositionSignalRepository.TopByAsset reads
// back; GET /ranks/top is served from the in-memory ranks (TopScores)
// and does not read them. A nil repository
// (tests, or a deployment without Postgres) is a no-op.
func (o *Orchestrator) recordPositionSignals(asset string, now time.Time) {
	if o.positionSignals == nil {
		return
	}
	for _, ep := range o.tracker.OpenEpisodes() {
		if ep.Asset != asset {
			continue
		}
		holdSecs := now.Sub(ep.EntryTs).Seconds()
		if err := o.positionSignals.Record(storage.PositionSignal{
			Address:  ep.Address,
			Asset:    ep.Asset,
			Status:   string(ep.Status),
			HoldSecs: &holdSecs,
			EntryTs:  ep.EntryTs,
		}); err != nil {
			o.logger.WithErrKind(err).Warn("failed to record position signal", "address", ep.Address, "asset", ep.Asset)
		}
	}
}

// expectedMoveR is a conservative placeholder expected-move estimate: the
// EV gate nets this against funding/fee/slippage cost-in-R. A live
// deployment would source this from the majority votes' own historical
// R distribution; absent that input here, a flat estimate keeps the gate
// exercised without fabricating trader-specific alpha.
const expectedMoveREstimate = 0.5

func expectedMoveR(funding.Data, float64) float64 { return expectedMoveREstimate }

const (
	defaultFeesBps     = 4.0
	defaultSlippageBps = 2.0
)

// riskPerTradePct is the fraction of account value this module risks on
// the position size it proposes to the risk governor, fixed-fractional
// sizing grounded on spec.md §4.1's risk_amount = entry_notional ·
// stop_fraction: solving that for notional given a fixed risk budget
// yields notional = risk_amount / stop_fraction.
const riskPerTradePct = 0.01

// proposedPositionNotional converts the fixed per-trade risk budget into
// a dollar notional using the live stop distance, so the position_size
// and total_exposure gates see an actual trade-size number instead of a
// raw price delta. A zero or negative stop fraction has no meaningful
// inverse, so it proposes nothing.
func proposedPositionNotional(accountValue, stopFraction float64) float64 {
	if stopFraction <= 0 {
		return 0
	}
	return accountValue * riskPerTradePct / stopFraction
}

// runScorePublishLoop ticks every ScorePublishInterval and Thompson-
// samples every tracked trader's posterior into an outbound ScoreEvent.
func (o *Orchestrator) runScorePublishLoop(ctx context.Context) {
	ticker := time.NewTicker(ScorePublishInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.PublishScores(time.Now().UTC())
		}
	}
}

// runTimeoutSweepLoop ticks every TimeoutSweepInterval and closes any
// open episode that has aged past its timeout without a new fill to
// trigger the check inline.
func (o *Orchestrator) runTimeoutSweepLoop(ctx context.Context) {
	ticker := time.NewTicker(TimeoutSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, ep := range o.tracker.SweepTimedOut(time.Now().UTC()) {
				o.logger.Info("episode timed out", "address", ep.Address, "asset", ep.Asset, "episode_id", ep.ID)
			}
		}
	}
}

// PublishScores Thompson-samples every tracked trader's posterior and
// publishes a ScoreEvent for each, also refreshing the in-memory rank
// table TopScores serves.
func (o *Orchestrator) PublishScores(now time.Time) {
	sampler := posterior.ThompsonSampler{}

	o.posteriorsMu.Lock()
	snapshot := make(map[string]posterior.TraderPosteriorNIG, len(o.posteriors))
	for addr, p := range o.posteriors {
		snapshot[addr] = p
	}
	o.posteriorsMu.Unlock()

	type scored struct {
		address string
		score   float64
		weight  float64
		kappa   float64
		effN    float64
	}
	all := make([]scored, 0, len(snapshot))

	dateInt := dateIntFor(now)
	for addr, p := range snapshot {
		seed := posterior.SeedForDate(dateInt, addr)
		mu := sampler.SampleMu(p, seed)
		all = append(all, scored{
			address: addr,
			score:   clamp(mu, -1, 1),
			weight:  clamp(p.Weight(), 0.05, 1.0),
			kappa:   p.Kappa,
			effN:    p.EffectiveSamples(),
		})
	}

	sort.Slice(all, func(i, j int) bool { return all[i].score > all[j].score })

	o.ranksMu.Lock()
	o.ranks = make(map[string]float64, len(all))
	for _, s := range all {
		o.ranks[s.address] = s.score
	}
	o.ranksMu.Unlock()

	for i, s := range all {
		o.state.PutScore(s.address, s.score, now)
		o.bus.PublishScore(bus.ScoreEvent{
			Address: s.address,
			Score:   s.score,
			Weight:  s.weight,
			Rank:    i + 1,
			WindowS: int(ScorePublishInterval.Seconds()),
			Ts:      now,
			Meta:    map[string]interface{}{"kappa": s.kappa, "effective_samples": s.effN},
		})
	}
}

// dateIntFor converts now to the YYYYMMDD integer SeedForDate expects,
// in UTC so a replay run and a live run agree on the same wall-clock day.
func dateIntFor(now time.Time) int64 {
	y, m, d := now.UTC().Date()
	return int64(y)*10000 + int64(m)*100 + int64(d)
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// TopScores implements httpapi.ScoreRanker.
func (o *Orchestrator) TopScores(n int) []httpapi.RankedScore {
	o.ranksMu.Lock()
	defer o.ranksMu.Unlock()

	out := make([]httpapi.RankedScore, 0, len(o.ranks))
	for addr, score := range o.ranks {
		out = append(out, httpapi.RankedScore{Address: addr, Score: score})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if n < len(out) {
		out = out[:n]
	}
	return out
}

// HealthCheck implements httpapi.HealthSource.
func (o *Orchestrator) HealthCheck(ctx context.Context) error {
	if o.db == nil {
		return nil
	}
	return o.db.HealthCheck(ctx)
}
