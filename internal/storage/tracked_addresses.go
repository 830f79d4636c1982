package storage

import (
	"context"
	"encoding/json"
	"time"
)

// TrackedAddress mirrors one row of sage_tracked_addresses: the current
// leaderboard membership and weight for a candidate trader.
type TrackedAddress struct {
	Address  string
	Weight   float64
	Rank     int
	Period   int
	Position json.RawMessage
	UpdatedAt time.Time
}

// TrackedAddressRepository persists the candidate pool's current
// leaderboard snapshot.
type TrackedAddressRepository struct {
	db *DB
}

// NewTrackedAddressRepository builds a TrackedAddressRepository bound to db.
func NewTrackedAddressRepository(db *DB) *TrackedAddressRepository {
	return &TrackedAddressRepository{db: db}
}

// Upsert records or refreshes a tracked address's leaderboard membership.
func (r *TrackedAddressRepository) Upsert(a TrackedAddress) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO sage_tracked_addresses (address, weight, rank, period, position, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (address) DO UPDATE SET
			weight = EXCLUDED.weight, rank = EXCLUDED.rank,
			period = EXCLUDED.period, position = EXCLUDED.position, updated_at = now()
	`, a.Address, a.Weight, a.Rank, a.Period, a.Position)
	return wrapIO("Upsert", err)
}

// Prune removes addresses whose leaderboard entry hasn't been refreshed
// since cutoff, keeping the bounded pool in sync with the upstream feed.
func (r *TrackedAddressRepository) Prune(cutoff time.Time) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := r.db.Pool.Exec(ctx, `DELETE FROM sage_tracked_addresses WHERE updated_at < $1`, cutoff)
	return wrapIO("Prune", err)
}

// All returns every tracked address, ordered by rank.
func (r *TrackedAddressRepository) All() ([]TrackedAddress, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, `
		SELECT address, weight, rank, period, position, updated_at
		FROM sage_tracked_addresses
		ORDER BY rank ASC NULLS LAST
	`)
	if err != nil {
		return nil, wrapIO("All", err)
	}
	defer rows.Close()

	var out []TrackedAddress
	for rows.Next() {
		var a TrackedAddress
		if err := rows.Scan(&a.Address, &a.Weight, &a.Rank, &a.Period, &a.Position, &a.UpdatedAt); err != nil {
			return nil, wrapIO("All", err)
		}
		out = append(out, a)
	}
	return out, wrapIO("All", rows.Err())
}

// Since returns every tracked address updated at or after cutoff, used by
// statestore.StateStore to restore its in-memory LRU on process startup.
func (r *TrackedAddressRepository) Since(cutoff time.Time) ([]TrackedAddress, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, `
		SELECT address, weight, rank, period, position, updated_at
		FROM sage_tracked_addresses
		WHERE updated_at >= $1
	`, cutoff)
	if err != nil {
		return nil, wrapIO("Since", err)
	}
	defer rows.Close()

	var out []TrackedAddress
	for rows.Next() {
		var a TrackedAddress
		if err := rows.Scan(&a.Address, &a.Weight, &a.Rank, &a.Period, &a.Position, &a.UpdatedAt); err != nil {
			return nil, wrapIO("Since", err)
		}
		out = append(out, a)
	}
	return out, wrapIO("Since", rows.Err())
}
