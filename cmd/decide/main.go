package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/alpha-pool/decision-core/config"
	"github.com/alpha-pool/decision-core/internal/atr"
	"github.com/alpha-pool/decision-core/internal/bus"
	"github.com/alpha-pool/decision-core/internal/consensus"
	"github.com/alpha-pool/decision-core/internal/correlation"
	"github.com/alpha-pool/decision-core/internal/episode"
	"github.com/alpha-pool/decision-core/internal/funding"
	"github.com/alpha-pool/decision-core/internal/holdtime"
	"github.com/alpha-pool/decision-core/internal/httpapi"
	"github.com/alpha-pool/decision-core/internal/logging"
	"github.com/alpha-pool/decision-core/internal/opauth"
	"github.com/alpha-pool/decision-core/internal/orchestrator"
	"github.com/alpha-pool/decision-core/internal/risk"
	"github.com/alpha-pool/decision-core/internal/secrets"
	"github.com/alpha-pool/decision-core/internal/statestore"
	"github.com/alpha-pool/decision-core/internal/storage"
	"github.com/alpha-pool/decision-core/internal/walkforward"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := logging.New(&logging.Config{
		Level:      cfg.Logging.Level,
		Output:     cfg.Logging.Output,
		JSONFormat: cfg.Logging.JSONFormat,
		Component:  "decide",
	})
	logging.SetDefault(logger)
	logger.Info("decision core starting")

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
	candleRepo := storage.NewCandleRepository(db)
	historyRepo := storage.NewHistoryRepository(db)
	trackedRepo := storage.NewTrackedAddressRepository(db)
	positionSignalRepo := storage.NewPositionSignalRepository(db)
	snapshotRepo := storage.NewSnapshotRepository(db)

	hotLogger := zerolog.New(os.Stdout).With().Timestamp().Str("component", "episode").Logger()
	tracker := episode.NewEpisodeTracker(episode.DefaultConfig(), episodeRepo, hotLogger)

	if err := tracker.LoadOpen(); err != nil {
		logger.WithErrKind(err).Warn("failed to load open episodes at startup")
	} else {
		logger.Info("loaded open episodes from crash recovery", "count", len(tracker.OpenEpisodes()))
	}

	atrProvider := atr.NewProvider(candleRepo)
	fundingProvider := funding.NewProvider(nil)
	holdEstimator := holdtime.NewEstimator(historyRepo)
	correlationProvider := correlation.NewProvider()

	detector := consensus.NewDetector(consensus.Config{
		MinTraders:             cfg.Consensus.MinTraders,
		SupermajorityThreshold: cfg.Consensus.SupermajorityThreshold,
		MinEffectiveK:          cfg.Consensus.MinEffectiveK,
		FreshnessMax:           cfg.Consensus.FreshnessMax,
		PriceBandFraction:      cfg.Consensus.PriceBandFraction,
		EVMinR:                 cfg.Consensus.EVMinR,
		StrictATR:              cfg.Consensus.StrictATR,
	})

	governor := risk.NewGovernor(risk.Config{
		EquityFloor:         cfg.Risk.EquityFloor,
		MaxPositionSizePct:  cfg.Risk.MaxPositionSizePct,
		MaxTotalExposurePct: cfg.Risk.MaxTotalExposurePct,
		KillSwitchCooldown:  cfg.Risk.KillSwitchCooldown,
	})

	state := statestore.New(statestore.RedisConfig{
		Enabled:  cfg.Redis.Enabled,
		Address:  cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	defer state.Close()

	secretStore, err := secrets.NewStore(secrets.Config{
		Enabled:    cfg.Vault.Enabled,
		Address:    cfg.Vault.Address,
		Token:      cfg.Vault.Token,
		MountPath:  cfg.Vault.MountPath,
		SecretPath: cfg.Vault.SecretPath,
	})
	if err != nil {
		logger.Warn("venue credential store unavailable, continuing without it", "error", err)
	}
	_ = secretStore

	operator, err := opauth.NewManager(opauth.Config{
		JWTSecret:        cfg.Operator.JWTSecret,
		TokenDuration:    cfg.Operator.TokenDuration,
		OperatorPassword: cfg.Operator.OperatorPassword,
	})
	if err != nil {
		log.Fatalf("failed to initialize operator auth: %v", err)
	}

	eventBus := bus.New()

	orch := orchestrator.New(orchestrator.Config{
		Bus:             eventBus,
		Tracker:         tracker,
		ATRProvider:     atrProvider,
		FundingProvider: fundingProvider,
		HoldEstimator:   holdEstimator,
		Correlation:     correlationProvider,
		Detector:        detector,
		Governor:        governor,
		State:           state,
		TrackedRepo:     trackedRepo,
		PositionSignals: positionSignalRepo,
		DB:              db,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	orch.Start(ctx)
	logger.Info("orchestrator started", "score_publish_interval", orchestrator.ScorePublishInterval)

	server := httpapi.NewServer(httpapi.Config{
		Port:           cfg.Server.Port,
		Host:           cfg.Server.Host,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		ProductionMode: cfg.Logging.Level != "DEBUG",
	}, orch, state, orch, governor, operator, func(start, end time.Time) (any, error) {
		replayer := walkforward.NewReplayer(snapshotRepo, episodeRepo)
		summary, err := replayer.Run(start, end)
		if err != nil {
			return nil, err
		}
		return walkforward.FormatReplaySummary(summary), nil
	})
	server.InitStream(eventBus)

	go func() {
		if err := server.Start(); err != nil {
			log.Fatalf("http server failed: %v", err)
		}
	}()
	logger.Info("http server listening", "host", cfg.Server.Host, "port", cfg.Server.Port)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error shutting down http server", "error", err)
	}
}
