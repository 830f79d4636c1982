package storage

import (
	"context"
	"time"
)

// TraderSnapshot mirrors one row of trader_snapshots: a trader's posterior
// state and FDR-selection verdict as of a given daily snapshot.
type TraderSnapshot struct {
	Address              string
	SnapshotDate         time.Time
	SelectionVersion      int
	M, Kappa, Alpha, Beta float64
	ThompsonDraw         *float64
	ThompsonSeed         *int64
	EpisodeCount         int
	AvgRGross            *float64
	AvgRNet              *float64
	SkillPValue          *float64
	FDRQualified         bool
	IsLeaderboardScanned bool
	IsPoolSelected       bool
	EventType            string
	DeathType            *string
	CensorType           *string
}

// SnapshotRepository persists the daily selection snapshot.
type SnapshotRepository struct {
	db *DB
}

// NewSnapshotRepository builds a SnapshotRepository bound to db.
func NewSnapshotRepository(db *DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// Insert records one trader's snapshot row for the given date. Snapshot
// rows are immutable once written; re-running a date is a conflict.
func (r *SnapshotRepository) Insert(s TraderSnapshot) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO trader_snapshots (
			address, snapshot_date, selection_version, m, kappa, alpha, beta,
			thompson_draw, thompson_seed, episode_count, avg_r_gross, avg_r_net,
			skill_p_value, fdr_qualified, is_leaderboard_scanned, is_pool_selected,
			event_type, death_type, censor_type
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (address, snapshot_date) DO NOTHING
	`, s.Address, s.SnapshotDate, s.SelectionVersion, s.M, s.Kappa, s.Alpha, s.Beta,
		s.ThompsonDraw, s.ThompsonSeed, s.EpisodeCount, s.AvgRGross, s.AvgRNet,
		s.SkillPValue, s.FDRQualified, s.IsLeaderboardScanned, s.IsPoolSelected,
		s.EventType, s.DeathType, s.CensorType)
	return wrapIO("Insert", err)
}

// ForDate returns every trader's snapshot for date, used by walk-forward
// replay to re-evaluate a past selection.
func (r *SnapshotRepository) ForDate(date time.Time) ([]TraderSnapshot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, `
		SELECT address, snapshot_date, selection_version, m, kappa, alpha, beta,
			thompson_draw, thompson_seed, episode_count, avg_r_gross, avg_r_net,
			skill_p_value, fdr_qualified, is_leaderboard_scanned, is_pool_selected,
			event_type, death_type, censor_type
		FROM trader_snapshots
		WHERE snapshot_date = $1
	`, date)
	if err != nil {
		return nil, wrapIO("ForDate", err)
	}
	defer rows.Close()

	var out []TraderSnapshot
	for rows.Next() {
		var s TraderSnapshot
		if err := rows.Scan(&s.Address, &s.SnapshotDate, &s.SelectionVersion, &s.M, &s.Kappa, &s.Alpha, &s.Beta,
			&s.ThompsonDraw, &s.ThompsonSeed, &s.EpisodeCount, &s.AvgRGross, &s.AvgRNet,
			&s.SkillPValue, &s.FDRQualified, &s.IsLeaderboardScanned, &s.IsPoolSelected,
			&s.EventType, &s.DeathType, &s.CensorType); err != nil {
			return nil, wrapIO("ForDate", err)
		}
		out = append(out, s)
	}
	return out, wrapIO("ForDate", rows.Err())
}

// Latest returns a trader's most recent snapshot, used to seed a fresh
// posterior.TraderPosteriorNIG on process restart.
func (r *SnapshotRepository) Latest(address string) (*TraderSnapshot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var s TraderSnapshot
	err := r.db.Pool.QueryRow(ctx, `
		SELECT address, snapshot_date, selection_version, m, kappa, alpha, beta,
			thompson_draw, thompson_seed, episode_count, avg_r_gross, avg_r_net,
			skill_p_value, fdr_qualified, is_leaderboard_scanned, is_pool_selected,
			event_type, death_type, censor_type
		FROM trader_snapshots
		WHERE address = $1
		ORDER BY snapshot_date DESC
		LIMIT 1
	`, address).Scan(&s.Address, &s.SnapshotDate, &s.SelectionVersion, &s.M, &s.Kappa, &s.Alpha, &s.Beta,
		&s.ThompsonDraw, &s.ThompsonSeed, &s.EpisodeCount, &s.AvgRGross, &s.AvgRNet,
		&s.SkillPValue, &s.FDRQualified, &s.IsLeaderboardScanned, &s.IsPoolSelected,
		&s.EventType, &s.DeathType, &s.CensorType)
	if err != nil {
		return nil, wrapIO("Latest", err)
	}
	return &s, nil
}
