// Package config loads the decision core's runtime configuration from
// environment variables, following the same flat section-struct +
// getEnvOrDefault pattern the teacher's configuration loader uses.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config composes every section of the decision core's runtime settings.
type Config struct {
	Postgres  PostgresConfig  `json:"postgres"`
	Redis     RedisConfig     `json:"redis"`
	Vault     VaultConfig     `json:"vault"`
	Bus       BusConfig       `json:"bus"`
	Server    ServerConfig    `json:"server"`
	Scorer    ScorerConfig    `json:"scorer"`
	Consensus ConsensusConfig `json:"consensus"`
	Risk      RiskConfig      `json:"risk"`
	Logging   LoggingConfig   `json:"logging"`
	Operator  OperatorConfig  `json:"operator"`
}

// PostgresConfig is the primary datastore connection.
type PostgresConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// RedisConfig configures the StateStore's write-through mirror.
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// VaultConfig configures the per-venue credential store.
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"`
}

// BusConfig names the three wire subjects the orchestrator binds.
type BusConfig struct {
	CandidatesSubject string `json:"candidates_subject"`
	FillsSubject      string `json:"fills_subject"`
	ScoresSubject     string `json:"scores_subject"`
}

// ServerConfig is the operator/observability HTTP surface.
type ServerConfig struct {
	Port           int    `json:"port"`
	Host           string `json:"host"`
	AllowedOrigins string `json:"allowed_origins"`
}

// ScorerConfig tunes the posterior update and Thompson sampling path.
type ScorerConfig struct {
	WinsorMin float64 `json:"winsor_min"`
	WinsorMax float64 `json:"winsor_max"`
}

// ConsensusConfig tunes the detector's gate thresholds.
type ConsensusConfig struct {
	MinTraders             int           `json:"min_traders"`
	SupermajorityThreshold float64       `json:"supermajority_threshold"`
	MinEffectiveK          float64       `json:"min_effective_k"`
	FreshnessMax           time.Duration `json:"freshness_max"`
	PriceBandFraction      float64       `json:"price_band_fraction"`
	EVMinR                 float64       `json:"ev_min_r"`
	StrictATR              bool          `json:"strict_atr"`
}

// RiskConfig tunes the risk governor's gates.
type RiskConfig struct {
	EquityFloor         float64       `json:"equity_floor"`
	MaxPositionSizePct  float64       `json:"max_position_size_pct"`
	MaxTotalExposurePct float64       `json:"max_total_exposure_pct"`
	KillSwitchCooldown  time.Duration `json:"kill_switch_cooldown"`
}

// LoggingConfig controls the hand-rolled HTTP-layer logger.
type LoggingConfig struct {
	Level       string `json:"level"`
	Output      string `json:"output"`
	JSONFormat  bool   `json:"json_format"`
	IncludeFile bool   `json:"include_file"`
}

// OperatorConfig seeds the single-operator auth manager.
type OperatorConfig struct {
	JWTSecret        string        `json:"jwt_secret"`
	TokenDuration    time.Duration `json:"token_duration"`
	OperatorPassword string        `json:"-"`
}

// Load reads every section from the environment, falling back to the
// documented defaults (spec.md §4) where unset.
func Load() (*Config, error) {
	cfg := &Config{
		Postgres: PostgresConfig{
			Host:     getEnvOrDefault("POSTGRES_HOST", "localhost"),
			Port:     getEnvIntOrDefault("POSTGRES_PORT", 5432),
			User:     getEnvOrDefault("POSTGRES_USER", "decision_core"),
			Password: getEnvOrDefault("POSTGRES_PASSWORD", ""),
			Database: getEnvOrDefault("POSTGRES_DATABASE", "decision_core"),
			SSLMode:  getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Enabled:  getEnvOrDefault("REDIS_ENABLED", "false") == "true",
			Address:  getEnvOrDefault("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getEnvIntOrDefault("REDIS_DB", 0),
			PoolSize: getEnvIntOrDefault("REDIS_POOL_SIZE", 10),
		},
		Vault: VaultConfig{
			Enabled:    getEnvOrDefault("VAULT_ENABLED", "false") == "true",
			Address:    getEnvOrDefault("VAULT_ADDRESS", "http://127.0.0.1:8200"),
			Token:      getEnvOrDefault("VAULT_TOKEN", ""),
			MountPath:  getEnvOrDefault("VAULT_MOUNT_PATH", "secret"),
			SecretPath: getEnvOrDefault("VAULT_SECRET_PATH", "decision-core/venues"),
		},
		Bus: BusConfig{
			CandidatesSubject: getEnvOrDefault("BUS_CANDIDATES_SUBJECT", "a.candidates.v1"),
			FillsSubject:      getEnvOrDefault("BUS_FILLS_SUBJECT", "c.fills.v1"),
			ScoresSubject:     getEnvOrDefault("BUS_SCORES_SUBJECT", "b.scores.v1"),
		},
		Server: ServerConfig{
			Port:           getEnvIntOrDefault("SERVER_PORT", 8080),
			Host:           getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			AllowedOrigins: getEnvOrDefault("SERVER_ALLOWED_ORIGINS", "*"),
		},
		Scorer: ScorerConfig{
			WinsorMin: getEnvFloatOrDefault("SCORER_WINSOR_MIN", -3.0),
			WinsorMax: getEnvFloatOrDefault("SCORER_WINSOR_MAX", 3.0),
		},
		Consensus: ConsensusConfig{
			MinTraders:             getEnvIntOrDefault("CONSENSUS_MIN_TRADERS", 3),
			SupermajorityThreshold: getEnvFloatOrDefault("CONSENSUS_SUPERMAJORITY_THRESHOLD", 0.70),
			MinEffectiveK:          getEnvFloatOrDefault("CONSENSUS_MIN_EFFECTIVE_K", 2.0),
			FreshnessMax:           getEnvDurationOrDefault("CONSENSUS_FRESHNESS_MAX", 150*time.Second),
			PriceBandFraction:      getEnvFloatOrDefault("CONSENSUS_PRICE_BAND_FRACTION", 0.25),
			EVMinR:                 getEnvFloatOrDefault("CONSENSUS_EV_MIN_R", 0.20),
			StrictATR:              getEnvOrDefault("CONSENSUS_STRICT_ATR", "false") == "true",
		},
		Risk: RiskConfig{
			EquityFloor:         getEnvFloatOrDefault("RISK_EQUITY_FLOOR", 10_000.0),
			MaxPositionSizePct:  getEnvFloatOrDefault("RISK_MAX_POSITION_SIZE_PCT", 0.10),
			MaxTotalExposurePct: getEnvFloatOrDefault("RISK_MAX_TOTAL_EXPOSURE_PCT", 0.50),
			KillSwitchCooldown:  getEnvDurationOrDefault("RISK_KILL_SWITCH_COOLDOWN", time.Hour),
		},
		Logging: LoggingConfig{
			Level:       getEnvOrDefault("LOG_LEVEL", "INFO"),
			Output:      getEnvOrDefault("LOG_OUTPUT", "stdout"),
			JSONFormat:  getEnvOrDefault("LOG_JSON", "true") == "true",
			IncludeFile: getEnvOrDefault("LOG_INCLUDE_FILE", "false") == "true",
		},
		Operator: OperatorConfig{
			JWTSecret:        getEnvOrDefault("OPERATOR_JWT_SECRET", ""),
			TokenDuration:    getEnvDurationOrDefault("OPERATOR_TOKEN_DURATION", 12*time.Hour),
			OperatorPassword: getEnvOrDefault("OPERATOR_PASSWORD", ""),
		},
	}

	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
