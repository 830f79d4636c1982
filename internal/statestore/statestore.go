package statestore

import (
	"context"
	"time"
)

// TrackedAddress is the bounded-LRU representation of one candidate
// trader's current leaderboard membership.
type TrackedAddress struct {
	Address   string
	Weight    float64
	Rank      int
	Period    int
	UpdatedAt time.Time
}

// RestoredAddress is the minimal shape a Postgres row is converted into
// before being loaded into the tracked_addresses LRU; callers adapt
// storage.TrackedAddress into this at the orchestrator wiring layer so
// this package never needs to import the storage package directly.
type RestoredAddress struct {
	Address   string
	Weight    float64
	Rank      int
	Period    int
	UpdatedAt time.Time
}

// StateStore holds the two bounded LRU maps spec.md §4.11 names: live
// Scorer output (scores) and current leaderboard membership
// (tracked_addresses), the latter mirrored to Redis on every write.
type StateStore struct {
	scores           *lru
	trackedAddresses *lru
	mirror           *redisMirror

	stop chan struct{}
}

// New builds a StateStore and starts its periodic staleness-eviction
// loop. Call Close to stop it.
func New(redisCfg RedisConfig) *StateStore {
	s := &StateStore{
		scores:           newLRU(ScoresCapacity),
		trackedAddresses: newLRU(TrackedAddressesCapacity),
		mirror:           newRedisMirror(redisCfg),
		stop:             make(chan struct{}),
	}
	go s.evictionLoop()
	return s
}

// RestoreCutoff is the age boundary a caller should apply when querying
// Postgres for rows to feed into Restore.
func RestoreCutoff(now time.Time) time.Time {
	return now.Add(-StaleAge)
}

// Restore rebuilds the tracked_addresses LRU from already-queried
// Postgres rows (see RestoreCutoff), run once at process startup before
// the bus starts delivering candidate events.
func (s *StateStore) Restore(rows []RestoredAddress) {
	for _, row := range rows {
		s.trackedAddresses.Put(row.Address, TrackedAddress{
			Address: row.Address, Weight: row.Weight, Rank: row.Rank,
			Period: row.Period, UpdatedAt: row.UpdatedAt,
		}, row.UpdatedAt)
	}
}

// PutScore records a trader's latest score, evicting the least-recently
// used entry once the bound of 500 is exceeded.
func (s *StateStore) PutScore(address string, score float64, now time.Time) {
	s.scores.Put(address, score, now)
}

// GetScore returns a trader's most recently recorded score.
func (s *StateStore) GetScore(address string) (float64, bool) {
	v, ok := s.scores.Get(address)
	if !ok {
		return 0, false
	}
	return v.(float64), true
}

// PutTrackedAddress records or refreshes a candidate's leaderboard
// membership, evicting the least-recently-used entry past 1000, and
// mirrors the write to Redis.
func (s *StateStore) PutTrackedAddress(ctx context.Context, a TrackedAddress, now time.Time) {
	s.trackedAddresses.Put(a.Address, a, now)
	s.mirror.Mirror(ctx, a.Address, a)
}

// GetTrackedAddress returns a candidate's current leaderboard membership.
func (s *StateStore) GetTrackedAddress(address string) (TrackedAddress, bool) {
	v, ok := s.trackedAddresses.Get(address)
	if !ok {
		return TrackedAddress{}, false
	}
	return v.(TrackedAddress), true
}

// RemoveTrackedAddress drops a candidate from both the LRU and its
// mirrored Redis entry.
func (s *StateStore) RemoveTrackedAddress(ctx context.Context, address string) {
	s.trackedAddresses.Delete(address)
	s.mirror.Forget(ctx, address)
}

// ScoreCount and TrackedAddressCount expose live occupancy for /healthz.
func (s *StateStore) ScoreCount() int           { return s.scores.Len() }
func (s *StateStore) TrackedAddressCount() int  { return s.trackedAddresses.Len() }

func (s *StateStore) evictionLoop() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			s.scores.EvictStale(now, StaleAge)
			s.trackedAddresses.EvictStale(now, StaleAge)
		case <-s.stop:
			return
		}
	}
}

// Close stops the eviction loop.
func (s *StateStore) Close() {
	close(s.stop)
}
