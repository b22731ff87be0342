// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/swap2you/chakraops-sub000/internal/domain"
)

// Config holds process-level configuration read from the environment.
// Strategy thresholds live in the separate evaluation config file (see
// strategy.go); this struct covers deployment and lifecycle concerns only.
type Config struct {
	DataDir            string // Base directory for databases and archives (always absolute)
	OutDir             string // Decision artifact output directory
	SnapshotCSVPath    string // External CSV snapshot source
	EvaluationConfig   string // Path to evaluation.yaml
	FixtureUniverse    string // Optional YAML universe fixture (dev mode only)
	LogLevel           string
	LogPretty          bool
	Port               int
	DevMode            bool
	SnapshotTruncate   bool // wipe snapshot history before each build (dev mode only)
	RunMode            domain.RunMode
	UIAPIKey           string
	BenchmarkSymbols   []string
	HeartbeatInterval  int // seconds
	RegimeStaleMinutes int
	RemovalCooldownHrs int
	RetentionDays      int

	ChainProviderURL     string
	ChainProviderTimeout int // seconds

	EODFreezeCronEnabled bool

	Archive ArchiveConfig
}

// ArchiveConfig holds the optional S3-compatible offsite archive target.
// Upload is disabled unless endpoint, bucket, and credentials are all set.
type ArchiveConfig struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

// Enabled reports whether the archive uploader should be wired at all.
func (a ArchiveConfig) Enabled() bool {
	return a.Endpoint != "" && a.Bucket != "" && a.AccessKey != "" && a.SecretKey != ""
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, &domain.ConfigError{Key: "DATA_DIR", Reason: fmt.Sprintf("cannot resolve: %v", err)}
	}
	if err := os.MkdirAll(absDataDir, 0o755); err != nil {
		return nil, &domain.ConfigError{Key: "DATA_DIR", Reason: fmt.Sprintf("cannot create: %v", err)}
	}

	outDir := getEnv("OUT_DIR", "./out/decision")
	absOutDir, err := filepath.Abs(outDir)
	if err != nil {
		return nil, &domain.ConfigError{Key: "OUT_DIR", Reason: fmt.Sprintf("cannot resolve: %v", err)}
	}
	if err := os.MkdirAll(absOutDir, 0o755); err != nil {
		return nil, &domain.ConfigError{Key: "OUT_DIR", Reason: fmt.Sprintf("cannot create: %v", err)}
	}

	cfg := &Config{
		DataDir:            absDataDir,
		OutDir:             absOutDir,
		SnapshotCSVPath:    getEnv("SNAPSHOT_CSV_PATH", filepath.Join(absDataDir, "market_snapshot.csv")),
		EvaluationConfig:   getEnv("EVALUATION_CONFIG_PATH", "./evaluation.yaml"),
		FixtureUniverse:    getEnv("FIXTURE_UNIVERSE_PATH", ""),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogPretty:          getEnvAsBool("LOG_PRETTY", true),
		Port:               getEnvAsInt("PORT", 8090),
		DevMode:            getEnvAsTruthy("CHAKRA_DEV_MODE"),
		SnapshotTruncate:   getEnvAsTruthy("SNAPSHOT_TRUNCATE"),
		RunMode:            domain.ParseRunMode(getEnv("RUN_MODE", "DRY_RUN")),
		UIAPIKey:           getEnv("UI_API_KEY", ""),
		BenchmarkSymbols:   parseSymbolList(getEnv("BENCHMARK_SYMBOLS", "SPY,QQQ")),
		HeartbeatInterval:  getEnvAsInt("HEARTBEAT_INTERVAL_SECONDS", 60),
		RegimeStaleMinutes: getEnvAsInt("REGIME_STALE_MINUTES", 30),
		RemovalCooldownHrs: getEnvAsInt("CANDIDATE_REMOVAL_ALERT_COOLDOWN_HOURS", 6),
		RetentionDays:      getEnvAsInt("HISTORY_RETENTION_DAYS", 30),

		ChainProviderURL:     getEnv("CHAIN_PROVIDER_URL", ""),
		ChainProviderTimeout: getEnvAsInt("CHAIN_PROVIDER_TIMEOUT_SECONDS", 10),

		EODFreezeCronEnabled: getEnvAsBool("EOD_FREEZE_CRON_ENABLED", true),

		Archive: ArchiveConfig{
			Endpoint:  getEnv("ARCHIVE_S3_ENDPOINT", ""),
			Bucket:    getEnv("ARCHIVE_S3_BUCKET", ""),
			Region:    getEnv("ARCHIVE_S3_REGION", "auto"),
			AccessKey: getEnv("ARCHIVE_S3_ACCESS_KEY", ""),
			SecretKey: getEnv("ARCHIVE_S3_SECRET_KEY", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks for contradictions that must stop startup.
func (c *Config) Validate() error {
	if c.HeartbeatInterval <= 0 {
		return &domain.ConfigError{Key: "HEARTBEAT_INTERVAL_SECONDS", Reason: "must be positive"}
	}
	if c.ChainProviderTimeout <= 0 {
		return &domain.ConfigError{Key: "CHAIN_PROVIDER_TIMEOUT_SECONDS", Reason: "must be positive"}
	}
	if c.RunMode == domain.RunModeLive && c.ChainProviderURL == "" {
		return &domain.ConfigError{Key: "CHAIN_PROVIDER_URL", Reason: "required when RUN_MODE=LIVE"}
	}
	if c.FixtureUniverse != "" && !c.DevMode {
		return &domain.ConfigError{Key: "FIXTURE_UNIVERSE_PATH", Reason: "fixture universe requires CHAKRA_DEV_MODE"}
	}
	if len(c.BenchmarkSymbols) == 0 {
		return &domain.ConfigError{Key: "BENCHMARK_SYMBOLS", Reason: "at least one benchmark symbol is required"}
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvAsTruthy implements the development-flag contract: only the literal
// values "1", "true", and "yes" (case-insensitive) enable the flag.
func getEnvAsTruthy(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

func parseSymbolList(s string) []string {
	return domain.NormalizeSymbols(strings.Split(s, ","))
}
