package storage

import (
	"context"
	"time"
)

// HistoryRepository implements holdtime.HistorySource against
// closed_episodes.
type HistoryRepository struct {
	db *DB
}

// NewHistoryRepository builds a HistoryRepository bound to db.
func NewHistoryRepository(db *DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// ClosedHoldHours returns the hold duration, in hours, of every episode
// for asset entered at or after since.
func (r *HistoryRepository) ClosedHoldHours(asset string, since time.Time) ([]float64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, `
		SELECT hold_secs
		FROM closed_episodes
		WHERE asset = $1 AND entry_ts >= $2 AND hold_secs IS NOT NULL
	`, asset, since)
	if err != nil {
		return nil, wrapIO("ClosedHoldHours", err)
	}
	defer rows.Close()

	var hours []float64
	for rows.Next() {
		var secs float64
		if err := rows.Scan(&secs); err != nil {
			return nil, wrapIO("ClosedHoldHours", err)
		}
		hours = append(hours, secs/3600.0)
	}
	return hours, wrapIO("ClosedHoldHours", rows.Err())
}
