package storage

import (
	"context"
	"time"
)

// PositionSignal mirrors one row of position_signals: a point-in-time
// record of a tracked trader's position state, read back by TopByAsset.
type PositionSignal struct {
	Address  string
	Asset    string
	Status   string
	HoldSecs *float64
	EntryTs  time.Time
	RClamped *float64
}

// PositionSignalRepository persists position_signals rows.
type PositionSignalRepository struct {
	db *DB
}

// NewPositionSignalRepository builds a PositionSignalRepository bound to db.
func NewPositionSignalRepository(db *DB) *PositionSignalRepository {
	return &PositionSignalRepository{db: db}
}

// Record inserts a new position_signals row reflecting the episode
// tracker's current view of one (address, asset) shard.
func (r *PositionSignalRepository) Record(s PositionSignal) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO position_signals (address, asset, status, hold_secs, entry_ts, r_clamped, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
	`, s.Address, s.Asset, s.Status, s.HoldSecs, s.EntryTs, s.RClamped)
	return wrapIO("Record", err)
}

// TopByAsset returns the most recent signal rows for asset, newest first,
// limited to n. GET /ranks/top does not read it; that endpoint is served
// from the orchestrator's in-memory ranks.
func (r *PositionSignalRepository) TopByAsset(asset string, n int) ([]PositionSignal, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, `
		SELECT address, asset, status, hold_secs, entry_ts, r_clamped
		FROM position_signals
		WHERE asset = $1
		ORDER BY updated_at DESC
		LIMIT $2
	`, asset, n)
	if err != nil {
		return nil, wrapIO("TopByAsset", err)
	}
	defer rows.Close()

	var out []PositionSignal
	for rows.Next() {
		var s PositionSignal
		if err := rows.Scan(&s.Address, &s.Asset, &s.Status, &s.HoldSecs, &s.EntryTs, &s.RClamped); err != nil {
			return nil, wrapIO("TopByAsset", err)
		}
		out = append(out, s)
	}
	return out, wrapIO("TopByAsset", rows.Err())
}
