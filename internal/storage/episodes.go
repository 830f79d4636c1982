package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/alpha-pool/decision-core/internal/episode"
)

// EpisodeRepository implements episode.Repository against open_episodes
// (crash recovery) and closed_episodes (write-only history).
type EpisodeRepository struct {
	db *DB
}

// NewEpisodeRepository builds an EpisodeRepository bound to db.
func NewEpisodeRepository(db *DB) *EpisodeRepository {
	return &EpisodeRepository{db: db}
}

// SaveOpen upserts an episode's full state keyed by its shard key so a
// restart can rebuild the tracker's in-memory open map.
func (r *EpisodeRepository) SaveOpen(ep *episode.Episode) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	payload, err := json.Marshal(ep)
	if err != nil {
		return wrapIO("SaveOpen", err)
	}
	key := episode.ShardKey(ep.Address, ep.Asset)

	_, err = r.db.Pool.Exec(ctx, `
		INSERT INTO open_episodes (shard_key, address, asset, payload, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (shard_key) DO UPDATE SET
			payload = EXCLUDED.payload, updated_at = now()
	`, key, ep.Address, ep.Asset, payload)
	return wrapIO("SaveOpen", err)
}

// SaveClosed appends a closed episode's terminal record. Closed episodes
// are never updated in place; each close produces one row.
func (r *EpisodeRepository) SaveClosed(ep *episode.Episode) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	payload, err := json.Marshal(ep)
	if err != nil {
		return wrapIO("SaveClosed", err)
	}

	var holdSecs *float64
	if !ep.ExitTs.IsZero() && !ep.EntryTs.IsZero() {
		h := ep.ExitTs.Sub(ep.EntryTs).Seconds()
		holdSecs = &h
	}

	_, err = r.db.Pool.Exec(ctx, `
		INSERT INTO closed_episodes
			(id, address, asset, entry_ts, exit_ts, hold_secs, result_r, result_r_unclamped, closed_reason, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`, ep.ID, ep.Address, ep.Asset, ep.EntryTs, ep.ExitTs, holdSecs,
		ep.ResultR, ep.ResultRUnclamped, string(ep.ClosedReason), payload)
	return wrapIO("SaveClosed", err)
}

// DeleteOpen removes an episode's open-state row once it has closed.
func (r *EpisodeRepository) DeleteOpen(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := r.db.Pool.Exec(ctx, `DELETE FROM open_episodes WHERE shard_key = $1`, key)
	return wrapIO("DeleteOpen", err)
}

// LoadOpen rebuilds every in-flight episode at startup.
func (r *EpisodeRepository) LoadOpen() ([]*episode.Episode, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, `SELECT payload FROM open_episodes`)
	if err != nil {
		return nil, wrapIO("LoadOpen", err)
	}
	defer rows.Close()

	var episodes []*episode.Episode
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, wrapIO("LoadOpen", err)
		}
		var ep episode.Episode
		if err := json.Unmarshal(payload, &ep); err != nil {
			return nil, wrapIO("LoadOpen", err)
		}
		episodes = append(episodes, &ep)
	}
	return episodes, wrapIO("LoadOpen", rows.Err())
}

// ClosedInRange returns address's closed episodes whose entry time falls
// in [start, end), used by walk-forward replay to re-score a past
// selection's realized R over its evaluation window.
func (r *EpisodeRepository) ClosedInRange(address string, start, end time.Time) ([]*episode.Episode, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, `
		SELECT payload FROM closed_episodes
		WHERE address = $1 AND entry_ts >= $2 AND entry_ts < $3
		ORDER BY entry_ts ASC
	`, address, start, end)
	if err != nil {
		return nil, wrapIO("ClosedInRange", err)
	}
	defer rows.Close()

	var episodes []*episode.Episode
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, wrapIO("ClosedInRange", err)
		}
		var ep episode.Episode
		if err := json.Unmarshal(payload, &ep); err != nil {
			return nil, wrapIO("ClosedInRange", err)
		}
		episodes = append(episodes, &ep)
	}
	return episodes, wrapIO("ClosedInRange", rows.Err())
}

// ClosedForAddress returns every closed episode recorded for address,
// ordered by exit time, used by the nightly snapshot job to compute skill
// p-values, average R, and drawdown/inactivity events.
func (r *EpisodeRepository) ClosedForAddress(address string) ([]*episode.Episode, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, `
		SELECT payload FROM closed_episodes WHERE address = $1 ORDER BY exit_ts ASC
	`, address)
	if err != nil {
		return nil, wrapIO("ClosedForAddress", err)
	}
	defer rows.Close()

	var episodes []*episode.Episode
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, wrapIO("ClosedForAddress", err)
		}
		var ep episode.Episode
		if err := json.Unmarshal(payload, &ep); err != nil {
			return nil, wrapIO("ClosedForAddress", err)
		}
		episodes = append(episodes, &ep)
	}
	return episodes, wrapIO("ClosedForAddress", rows.Err())
}
