package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaultsWithoutEnv(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Postgres.Port != 5432 {
		t.Errorf("postgres port = %d, want 5432", cfg.Postgres.Port)
	}
	if cfg.Consensus.MinTraders != 3 {
		t.Errorf("min traders = %d, want 3", cfg.Consensus.MinTraders)
	}
	if cfg.Consensus.FreshnessMax != 150*time.Second {
		t.Errorf("freshness max = %v, want 150s", cfg.Consensus.FreshnessMax)
	}
	if cfg.Risk.EquityFloor != 10_000.0 {
		t.Errorf("equity floor = %v, want 10000", cfg.Risk.EquityFloor)
	}
	if cfg.Bus.FillsSubject != "c.fills.v1" {
		t.Errorf("fills subject = %q, want c.fills.v1", cfg.Bus.FillsSubject)
	}
}

func TestLoadOverridesFromEnv(t *testing.T) {
	os.Setenv("POSTGRES_PORT", "5433")
	os.Setenv("CONSENSUS_MIN_TRADERS", "5")
	os.Setenv("REDIS_ENABLED", "true")
	defer os.Unsetenv("POSTGRES_PORT")
	defer os.Unsetenv("CONSENSUS_MIN_TRADERS")
	defer os.Unsetenv("REDIS_ENABLED")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Postgres.Port != 5433 {
		t.Errorf("postgres port = %d, want 5433", cfg.Postgres.Port)
	}
	if cfg.Consensus.MinTraders != 5 {
		t.Errorf("min traders = %d, want 5", cfg.Consensus.MinTraders)
	}
	if !cfg.Redis.Enabled {
		t.Error("expected redis enabled override to take effect")
	}
}

func TestLoadIgnoresMalformedNumericEnv(t *testing.T) {
	os.Setenv("POSTGRES_PORT", "not-a-number")
	defer os.Unsetenv("POSTGRES_PORT")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Postgres.Port != 5432 {
		t.Errorf("expected malformed env to fall back to default, got %d", cfg.Postgres.Port)
	}
}
