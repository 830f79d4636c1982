package episode

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Repository persists open episodes for crash recovery and writes closed
// episodes for downstream consumption (posterior updates, snapshots). A
// nil Repository is valid for tests: the tracker simply keeps no durable
// copy.
type Repository interface {
	SaveOpen(ep *Episode) error
	SaveClosed(ep *Episode) error
	DeleteOpen(key string) error
	LoadOpen() ([]*Episode, error)
}

// ShardKey is the identity an EpisodeTracker partitions state by: a fill
// for (address, asset) is only ever handled by the shard its key maps to,
// and the caller is responsible for not processing two fills of the same
// shard concurrently.
func ShardKey(address, asset string) string {
	return strings.ToLower(address) + "|" + strings.ToUpper(asset)
}

// EpisodeTracker owns every open episode in the process. Closed episodes
// are hand off to Repository.SaveClosed and dropped from the open map —
// the tracker never retains history of its own.
type EpisodeTracker struct {
	mu     sync.RWMutex
	cfg    Config
	repo   Repository
	logger zerolog.Logger

	open   map[string]*Episode
	seen   map[string]map[string]struct{} // shard key -> fill key -> seen
}

// NewEpisodeTracker constructs a tracker over an empty open set; call
// LoadOpen to restore state from Repository on startup.
func NewEpisodeTracker(cfg Config, repo Repository, logger zerolog.Logger) *EpisodeTracker {
	return &EpisodeTracker{
		cfg:    cfg,
		repo:   repo,
		logger: logger.With().Str("component", "episode_tracker").Logger(),
		open:   make(map[string]*Episode),
		seen:   make(map[string]map[string]struct{}),
	}
}

// LoadOpen restores in-flight episodes from Repository, used at process
// startup to recover state after a restart.
func (t *EpisodeTracker) LoadOpen() error {
	if t.repo == nil {
		return nil
	}
	eps, err := t.repo.LoadOpen()
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ep := range eps {
		key := ShardKey(ep.Address, ep.Asset)
		t.open[key] = ep
		shardSeen := make(map[string]struct{}, len(ep.EntryFills)+len(ep.ExitFills))
		for _, f := range ep.EntryFills {
			shardSeen[f.Key()] = struct{}{}
		}
		for _, f := range ep.ExitFills {
			shardSeen[f.Key()] = struct{}{}
		}
		t.seen[key] = shardSeen
	}
	return nil
}

// GetOpenEpisode returns the current open episode for (address, asset), if
// any.
func (t *EpisodeTracker) GetOpenEpisode(address, asset string) (*Episode, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ep, ok := t.open[ShardKey(address, asset)]
	return ep, ok
}

// OpenEpisodes returns a snapshot of every currently open episode, used by
// the vote generator and the consensus detector.
func (t *EpisodeTracker) OpenEpisodes() []*Episode {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Episode, 0, len(t.open))
	for _, ep := range t.open {
		out = append(out, ep)
	}
	return out
}

// alreadySeen reports and records whether this shard has processed
// fillKey before — the bus delivers at-least-once, so reprocessing the
// same fill_id must be a no-op.
func (t *EpisodeTracker) alreadySeen(shardKey, fillKey string) bool {
	shardSeen, ok := t.seen[shardKey]
	if !ok {
		shardSeen = make(map[string]struct{})
		t.seen[shardKey] = shardSeen
	}
	if _, ok := shardSeen[fillKey]; ok {
		return true
	}
	shardSeen[fillKey] = struct{}{}
	return false
}

// ProcessFill applies one fill to its (address, asset) shard, returning a
// closed episode when the fill caused a close (full close, direction
// flip, or a timeout that preceded it). stopFraction is normally sourced
// from ATRProvider.GetStopFraction; callers without a volatility estimate
// pass cfg.DefaultStopFraction.
func (t *EpisodeTracker) ProcessFill(fill Fill, stopFraction float64) (*Episode, error) {
	key := ShardKey(fill.Address, fill.Asset)
	fillKey := fill.Key()

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.alreadySeen(key, fillKey) {
		t.logger.Debug().Str("fill_id", fillKey).Msg("duplicate fill, skipping")
		return nil, nil
	}

	cur := t.open[key]

	var timedOut *Episode
	if cur != nil && fill.Ts.Sub(cur.EntryTs).Hours() >= t.cfg.TimeoutHours {
		timedOut = t.closeTimedOutEpisode(cur)
		delete(t.open, key)
		cur = nil
	}

	prevPosition := 0.0
	if cur != nil {
		prevPosition = cur.NetPosition()
	}
	newPosition := prevPosition + fill.SignedSize()

	prevSign := signOf(prevPosition)
	newSign := signOf(newPosition)

	switch {
	case prevSign == 0 && newSign != 0:
		// Flat -> open a new episode.
		ep := t.openEpisode(fill, newPosition, stopFraction)
		t.open[key] = ep
		t.persistOpen(ep)
		return timedOut, nil

	case prevSign != 0 && newSign == prevSign && abs(newPosition) > abs(prevPosition):
		// Adding to the existing position.
		cur.EntryFills = append(cur.EntryFills, fill)
		t.recomputeEntry(cur, stopFraction)
		t.persistOpen(cur)
		return timedOut, nil

	case prevSign != 0 && newSign == prevSign && abs(newPosition) < abs(prevPosition) && newSign != 0:
		// Partial close.
		cur.ExitFills = append(cur.ExitFills, fill)
		cur.ExitSize += fill.Size
		t.persistOpen(cur)
		return timedOut, nil

	case prevSign != 0 && newSign != 0 && newSign != prevSign:
		// Direction flip: close the old episode with the flip-closing
		// portion of this fill, then open a new one from the residual.
		closingSize := abs(prevPosition)
		residualSize := abs(newPosition)

		var closingPnL *float64
		if fill.RealizedPnL != nil && fill.Size > 0 {
			portion := *fill.RealizedPnL * (closingSize / fill.Size)
			closingPnL = &portion
		}
		closingFill := Fill{
			FillID:      fillKey + "-close",
			Source:      fill.Source,
			Address:     fill.Address,
			Asset:       fill.Asset,
			Side:        fill.Side,
			Size:        closingSize,
			Price:       fill.Price,
			Ts:          fill.Ts,
			RealizedPnL: closingPnL,
			Fees:        fill.Fees * (closingSize / fill.Size),
		}
		cur.ExitFills = append(cur.ExitFills, closingFill)
		cur.ExitSize += closingSize
		closed := t.closeEpisode(cur, cur.ExitFills, ReasonDirectionFlip)
		delete(t.open, key)

		var residualPnL *float64
		if fill.RealizedPnL != nil && fill.Size > 0 {
			portion := *fill.RealizedPnL * (residualSize / fill.Size)
			residualPnL = &portion
		}
		openingFill := Fill{
			FillID:      fillKey + "-open",
			Source:      fill.Source,
			Address:     fill.Address,
			Asset:       fill.Asset,
			Side:        fill.Side,
			Size:        residualSize,
			Price:       fill.Price,
			Ts:          fill.Ts,
			RealizedPnL: residualPnL,
			Fees:        fill.Fees * (residualSize / fill.Size),
		}
		ep := t.openEpisode(openingFill, newPosition, stopFraction)
		t.open[key] = ep
		t.persistOpen(ep)

		if closed != nil {
			return closed, nil
		}
		return timedOut, nil

	case newSign == 0:
		// Full close.
		if cur == nil {
			return timedOut, nil
		}
		closingSize := abs(prevPosition)
		cur.ExitFills = append(cur.ExitFills, fill)
		cur.ExitSize += closingSize
		closed := t.closeEpisode(cur, cur.ExitFills, ReasonFullClose)
		delete(t.open, key)
		if closed != nil {
			return closed, nil
		}
		return timedOut, nil

	default:
		return timedOut, nil
	}
}

// openEpisode creates the episode for a flat->non-flat transition caused
// by fill, whose signed contribution to the shard equals newPosition.
func (t *EpisodeTracker) openEpisode(fill Fill, newPosition, stopFraction float64) *Episode {
	ep := &Episode{
		ID:         uuid.NewString(),
		Address:    fill.Address,
		Asset:      fill.Asset,
		Direction:  directionOf(newPosition),
		Status:     StatusOpen,
		EntryFills: []Fill{fill},
		EntryTs:    fill.Ts,
	}
	t.recomputeEntry(ep, stopFraction)
	return ep
}

// recomputeEntry refreshes VWAP, size, notional, stop price, stop bps and
// risk amount from the episode's current EntryFills.
func (t *EpisodeTracker) recomputeEntry(ep *Episode, stopFraction float64) {
	if stopFraction <= 0 {
		stopFraction = t.cfg.DefaultStopFraction
	}
	ep.EntryVWAP = calculateVWAP(ep.EntryFills)
	size := 0.0
	for _, f := range ep.EntryFills {
		size += f.Size
	}
	ep.EntrySize = size
	ep.EntryNotional = ep.EntryVWAP * ep.EntrySize
	ep.StopPrice = calculateStopPrice(ep.Direction, ep.EntryVWAP, stopFraction)
	ep.StopBps = calculateStopBps(ep.EntryVWAP, ep.StopPrice)
	ep.RiskAmount = ep.EntryNotional * stopFraction
}

// closeEpisode finalizes exit VWAP, realized P&L and the clamped R
// multiple, marks the episode closed, and persists it. It returns nil
// (not an error) only when the episode has no exit fills to close with,
// which should not happen given the call sites above.
func (t *EpisodeTracker) closeEpisode(ep *Episode, exitFills []Fill, reason ClosedReason) *Episode {
	if len(exitFills) == 0 {
		return nil
	}
	ep.ExitFills = exitFills
	ep.ExitVWAP = calculateVWAP(exitFills)
	ep.ExitTs = exitFills[len(exitFills)-1].Ts
	ep.ExitSize = ep.EntrySize
	ep.Status = StatusClosed
	ep.ClosedReason = reason

	ep.RealizedPnL = t.realizedPnL(ep, exitFills)
	ep.ResultR, ep.ResultRUnclamped = calculateR(ep.RealizedPnL, ep.RiskAmount, t.cfg.RMin, t.cfg.RMax)

	if t.repo != nil {
		if err := t.repo.SaveClosed(ep); err != nil {
			t.logger.Error().Err(err).Str("episode_id", ep.ID).Msg("failed to persist closed episode")
		}
		if err := t.repo.DeleteOpen(ShardKey(ep.Address, ep.Asset)); err != nil {
			t.logger.Error().Err(err).Str("episode_id", ep.ID).Msg("failed to delete open episode row")
		}
	}
	return ep
}

// realizedPnL prefers the venue-supplied realized_pnl summed across exit
// fills; when absent it falls back to VWAP arithmetic, negated for
// shorts.
func (t *EpisodeTracker) realizedPnL(ep *Episode, exitFills []Fill) float64 {
	var sum float64
	var anyVenuePnL bool
	for _, f := range exitFills {
		if f.RealizedPnL != nil {
			sum += *f.RealizedPnL
			anyVenuePnL = true
		}
	}
	if anyVenuePnL {
		return sum
	}
	diff := ep.ExitVWAP - ep.EntryVWAP
	pnl := diff * ep.ExitSize
	if ep.Direction == Short {
		pnl = -pnl
	}
	return pnl
}

// closeTimedOutEpisode closes an episode that aged past cfg.TimeoutHours
// without a fresh price observation to mark it against. It appends a
// synthetic exit at the episode's own entry VWAP, which adds no pnl of its
// own: the resulting pnl and R come only from partial exits taken before
// the timeout, and are 0 when there were none.
func (t *EpisodeTracker) closeTimedOutEpisode(ep *Episode) *Episode {
	synthetic := Fill{
		FillID:  ep.ID + "-timeout",
		Address: ep.Address,
		Asset:   ep.Asset,
		Size:    ep.EntrySize,
		Price:   ep.EntryVWAP,
		Ts:      ep.EntryTs.Add(time.Duration(t.cfg.TimeoutHours) * time.Hour),
	}
	return t.closeEpisode(ep, append(ep.ExitFills, synthetic), ReasonTimeout)
}

// SweepTimedOut closes every open episode whose age has reached
// cfg.TimeoutHours as of now, independent of whether a new fill ever
// arrives for its shard — the case a fill-triggered timeout check alone
// can never catch is an abandoned position that stops receiving fills
// entirely. Callers run this on a periodic ticker (see
// orchestrator.runTimeoutSweepLoop); it returns every episode it closed.
func (t *EpisodeTracker) SweepTimedOut(now time.Time) []*Episode {
	t.mu.Lock()
	defer t.mu.Unlock()

	var closed []*Episode
	for key, ep := range t.open {
		if now.Sub(ep.EntryTs).Hours() < t.cfg.TimeoutHours {
			continue
		}
		if timedOut := t.closeTimedOutEpisode(ep); timedOut != nil {
			closed = append(closed, timedOut)
		}
		delete(t.open, key)
	}
	return closed
}

func (t *EpisodeTracker) persistOpen(ep *Episode) {
	if t.repo == nil {
		return
	}
	if err := t.repo.SaveOpen(ep); err != nil {
		t.logger.Error().Err(err).Str("episode_id", ep.ID).Msg("failed to persist open episode")
	}
}
