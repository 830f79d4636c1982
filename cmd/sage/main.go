// Command sage runs the nightly selection batch: a skill snapshot per
// tracked address, Benjamini-Hochberg FDR selection across the universe,
// and a 30-day walk-forward replay of past selections for the operator
// dashboard.
package main

import (
	"encoding/json"
	"log"
	"time"

	"github.com/alpha-pool/decision-core/config"
	"github.com/alpha-pool/decision-core/internal/logging"
	"github.com/alpha-pool/decision-core/internal/posterior"
	"github.com/alpha-pool/decision-core/internal/snapshot"
	"github.com/alpha-pool/decision-core/internal/storage"
	"github.com/alpha-pool/decision-core/internal/walkforward"
)

// replayWindowDays is how far back the nightly job replays past
// selections to keep the operator dashboard's survival/performance
// metrics current.
const replayWindowDays = 30

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := logging.New(&logging.Config{
		Level:      cfg.Logging.Level,
		Output:     cfg.Logging.Output,
		JSONFormat: cfg.Logging.JSONFormat,
		Component:  "sage",
	})
	logging.SetDefault(logger)
	logger.Info("nightly selection job starting")

	db, err := storage.NewDB(storage.Config{
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		Database: cfg.Postgres.Database,
		SSLMode:  cfg.Postgres.SSLMode,
	})
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer db.Close()

	episodeRepo := storage.NewEpisodeRepository(db)
	snapshotRepo := storage.NewSnapshotRepository(db)
	trackedRepo := storage.NewTrackedAddressRepository(db)

	engine := snapshot.NewEngine(snapshot.Config{
		History:    episodeRepo,
		Posteriors: posteriorLookup(snapshotRepo),
	})

	tracked, err := trackedRepo.All()
	if err != nil {
		log.Fatalf("failed to load tracked addresses: %v", err)
	}
	addresses := make([]string, len(tracked))
	for i, t := range tracked {
		addresses[i] = t.Address
	}

	now := time.Now().UTC()
	snapshots, err := engine.Run(now, addresses)
	if err != nil {
		log.Fatalf("snapshot engine run failed: %v", err)
	}

	qualified := 0
	for _, s := range snapshots {
		if err := snapshotRepo.Insert(toStoredSnapshot(s)); err != nil {
			logger.WithErrKind(err).Warn("failed to persist snapshot", "address", s.Address)
			continue
		}
		if s.FDRQualified {
			qualified++
		}
	}
	logger.Info("snapshot run complete", "universe_size", len(snapshots), "fdr_qualified", qualified)

	replayer := walkforward.NewReplayer(snapshotRepo, episodeRepo)
	summary, err := replayer.Run(now.AddDate(0, 0, -replayWindowDays), now)
	if err != nil {
		logger.WithErrKind(err).Warn("walk-forward replay failed")
		return
	}

	formatted := walkforward.FormatReplaySummary(summary)
	body, err := json.Marshal(formatted)
	if err != nil {
		logger.Warn("failed to marshal replay summary", "error", err)
		return
	}
	logger.Info("walk-forward replay complete",
		"periods", summary.Periods, "sharpe_gross", summary.SharpeGross,
		"win_rate", summary.WinRate, "summary", string(body))
}

// posteriorLookup rehydrates a trader's last known NIG posterior from its
// most recent stored snapshot row, since this batch process runs
// independently of the orchestrator's in-memory posterior map.
func posteriorLookup(repo *storage.SnapshotRepository) snapshot.PosteriorLookup {
	return func(address string) (posterior.TraderPosteriorNIG, bool) {
		row, err := repo.Latest(address)
		if err != nil || row == nil {
			return posterior.TraderPosteriorNIG{}, false
		}
		return posterior.TraderPosteriorNIG{M: row.M, Kappa: row.Kappa, Alpha: row.Alpha, Beta: row.Beta}, true
	}
}

func toStoredSnapshot(s snapshot.Snapshot) storage.TraderSnapshot {
	return storage.TraderSnapshot{
		Address:              s.Address,
		SnapshotDate:         s.SnapshotDate,
		SelectionVersion:     s.SelectionVersion,
		M:                    s.Posterior.M,
		Kappa:                s.Posterior.Kappa,
		Alpha:                s.Posterior.Alpha,
		Beta:                 s.Posterior.Beta,
		ThompsonDraw:         s.ThompsonDraw,
		ThompsonSeed:         s.ThompsonSeed,
		EpisodeCount:         s.EpisodeCount,
		AvgRGross:            s.AvgRGross,
		AvgRNet:              s.AvgRNet,
		SkillPValue:          s.SkillPValue,
		FDRQualified:         s.FDRQualified,
		IsLeaderboardScanned: s.IsLeaderboardScanned,
		IsPoolSelected:       s.IsPoolSelected,
		EventType:            string(s.EventType),
		DeathType:            s.DeathType,
		CensorType:           s.CensorType,
	}
}
