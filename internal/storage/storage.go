// Package storage wraps the Postgres connection pool and the repository
// implementations the rest of the decision core reads and writes
// through: tracked addresses, 1-minute candles, position-signal history,
// daily trader snapshots, and open-episode crash recovery.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alpha-pool/decision-core/internal/errkind"
	"github.com/alpha-pool/decision-core/internal/logging"
)

// wrapIO classifies a query/exec/scan failure as TransientIO, the kind a
// caller should retry with backoff rather than treat as a domain fault.
// nil passes through unchanged so call sites can wrap unconditionally.
func wrapIO(op string, err error) error {
	if err == nil {
		return nil
	}
	return errkind.Wrap(errkind.TransientIO, "storage."+op, err)
}

// Config holds the Postgres connection parameters.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// DB wraps the pgx connection pool shared read-mostly across every
// repository in this package; writes are idempotent upserts keyed by
// natural keys, matching the concurrency model's shared-resource policy.
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB parses cfg into a DSN, configures pool sizing the same way the
// teacher's database layer does, and verifies connectivity.
func NewDB(cfg Config) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errkind.Wrap(errkind.FatalStartup, "storage.NewDB", fmt.Errorf("unable to parse database config: %w", err))
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, errkind.Wrap(errkind.FatalStartup, "storage.NewDB", fmt.Errorf("unable to create connection pool: %w", err))
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, errkind.Wrap(errkind.FatalStartup, "storage.NewDB", fmt.Errorf("unable to ping database: %w", err))
	}

	logging.Default().WithComponent("storage").Info("connected to postgres", "database", cfg.Database)

	return &DB{Pool: pool}, nil
}

// Close releases the pool.
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

// HealthCheck pings the pool, used by the /healthz handler.
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// RunMigrations applies every table/index statement idempotently, in the
// same []string + Pool.Exec loop style as the teacher's database layer.
func (db *DB) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sage_tracked_addresses (
			address VARCHAR(66) PRIMARY KEY,
			weight DOUBLE PRECISION NOT NULL DEFAULT 0,
			rank INTEGER,
			period INTEGER,
			position JSONB,
			updated_at TIMESTAMP NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tracked_addresses_updated_at ON sage_tracked_addresses(updated_at)`,

		`CREATE TABLE IF NOT EXISTS position_signals (
			id BIGSERIAL PRIMARY KEY,
			address VARCHAR(66) NOT NULL,
			asset VARCHAR(20) NOT NULL,
			status VARCHAR(20) NOT NULL,
			hold_secs DOUBLE PRECISION,
			entry_ts TIMESTAMP NOT NULL,
			r_clamped DOUBLE PRECISION,
			updated_at TIMESTAMP NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_position_signals_asset ON position_signals(asset)`,
		`CREATE INDEX IF NOT EXISTS idx_position_signals_entry_ts ON position_signals(entry_ts)`,

		`CREATE TABLE IF NOT EXISTS marks_1m (
			asset VARCHAR(20) NOT NULL,
			ts TIMESTAMP NOT NULL,
			mid DOUBLE PRECISION NOT NULL,
			high DOUBLE PRECISION NOT NULL,
			low DOUBLE PRECISION NOT NULL,
			close DOUBLE PRECISION NOT NULL,
			atr14 DOUBLE PRECISION,
			PRIMARY KEY (asset, ts)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_marks_1m_asset_ts ON marks_1m(asset, ts)`,

		`CREATE TABLE IF NOT EXISTS trader_snapshots (
			address VARCHAR(66) NOT NULL,
			snapshot_date DATE NOT NULL,
			selection_version INTEGER NOT NULL,
			m DOUBLE PRECISION NOT NULL,
			kappa DOUBLE PRECISION NOT NULL,
			alpha DOUBLE PRECISION NOT NULL,
			beta DOUBLE PRECISION NOT NULL,
			thompson_draw DOUBLE PRECISION,
			thompson_seed BIGINT,
			episode_count INTEGER NOT NULL,
			avg_r_gross DOUBLE PRECISION,
			avg_r_net DOUBLE PRECISION,
			skill_p_value DOUBLE PRECISION,
			fdr_qualified BOOLEAN NOT NULL DEFAULT FALSE,
			is_leaderboard_scanned BOOLEAN NOT NULL DEFAULT FALSE,
			is_pool_selected BOOLEAN NOT NULL DEFAULT FALSE,
			event_type VARCHAR(20) NOT NULL DEFAULT 'active',
			death_type VARCHAR(20),
			censor_type VARCHAR(20),
			PRIMARY KEY (address, snapshot_date)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trader_snapshots_date ON trader_snapshots(snapshot_date)`,

		// Open-episode crash recovery; closed_episodes is write-only history
		// consumed by the posterior update and the hold-time estimator.
		`CREATE TABLE IF NOT EXISTS open_episodes (
			shard_key VARCHAR(128) PRIMARY KEY,
			address VARCHAR(66) NOT NULL,
			asset VARCHAR(20) NOT NULL,
			payload JSONB NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS closed_episodes (
			id UUID PRIMARY KEY,
			address VARCHAR(66) NOT NULL,
			asset VARCHAR(20) NOT NULL,
			entry_ts TIMESTAMP NOT NULL,
			exit_ts TIMESTAMP,
			hold_secs DOUBLE PRECISION,
			result_r DOUBLE PRECISION NOT NULL,
			result_r_unclamped DOUBLE PRECISION NOT NULL,
			closed_reason VARCHAR(20) NOT NULL,
			payload JSONB NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_closed_episodes_address ON closed_episodes(address)`,
		`CREATE INDEX IF NOT EXISTS idx_closed_episodes_asset_entry_ts ON closed_episodes(asset, entry_ts)`,
	}

	for _, stmt := range migrations {
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			return errkind.Wrap(errkind.FatalStartup, "storage.RunMigrations", fmt.Errorf("migration failed: %w", err))
		}
	}
	return nil
}
