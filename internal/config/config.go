// Package config loads the router's runtime configuration from the
// environment, following the teacher's flat Load()/getEnv approach but
// grouping fields the way forma's nested config records do.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/querymesh/router/internal/routererr"
)

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port           string
	AllowedOrigins []string
}

// CacheConfig mirrors C9's construction-time parameters.
type CacheConfig struct {
	Enabled     bool
	Capacity    int
	TTLSeconds  int
	TrackMtimes bool
}

// EngineProfileConfig is the appendable, explicit record form of an
// engine profile (spec.md §9's "adding a new engine means appending a
// profile" design note).
type EngineProfileConfig struct {
	ID                 string
	ScanRateGBPerSec   float64
	FixedOverheadSec   float64
	MaxMemoryGB        float64 // 0 means unbounded
	MemoryFactor       float64
	MinEfficientSizeGB float64
	OpCostJoin         float64
	OpCostAgg          float64
	OpCostWindow       float64
	StrengthDesc       string
}

// Config is the orchestrator's full configuration record.
type Config struct {
	DataRoot           string
	SQLDialect         string
	PartitionFileExt   string
	PartitionKey       string
	MaxRows            int
	DistributedWorkers int
	ClickHouseDSN      string
	DuckDBPath         string

	Cache   CacheConfig
	Server  ServerConfig
	Engines []EngineProfileConfig

	LogLevel string
}

// Load reads Config from the environment, applying godotenv-populated
// values if a .env file was loaded by the caller (main does this, matching
// the teacher's main.go).
func Load() (*Config, error) {
	cfg := &Config{
		DataRoot:           getEnv("ROUTER_DATA_ROOT", "./data"),
		SQLDialect:         getEnv("ROUTER_SQL_DIALECT", "postgres"),
		PartitionFileExt:   getEnv("ROUTER_PARTITION_EXT", "parquet"),
		PartitionKey:       getEnv("ROUTER_PARTITION_KEY", "dt"),
		ClickHouseDSN:      getEnv("ROUTER_CLICKHOUSE_DSN", "clickhouse://localhost:9000/default"),
		DuckDBPath:         getEnv("ROUTER_DUCKDB_PATH", ""),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		Server: ServerConfig{
			Port:           getEnv("ROUTER_PORT", "8088"),
			AllowedOrigins: strings.Split(getEnv("ROUTER_ALLOWED_ORIGINS", "http://localhost:3000"), ","),
		},
		Cache: CacheConfig{
			Enabled:     getEnvBool("ROUTER_CACHE_ENABLED", true),
			TrackMtimes: getEnvBool("ROUTER_CACHE_TRACK_MTIMES", true),
		},
	}

	maxRows, err := getEnvInt("ROUTER_MAX_ROWS", 1_000_000)
	if err != nil {
		return nil, routererr.Config("invalid ROUTER_MAX_ROWS", err)
	}
	cfg.MaxRows = maxRows

	workers, err := getEnvInt("ROUTER_DISTRIBUTED_WORKERS", 4)
	if err != nil {
		return nil, routererr.Config("invalid ROUTER_DISTRIBUTED_WORKERS", err)
	}
	if workers < 1 {
		return nil, routererr.Config("ROUTER_DISTRIBUTED_WORKERS must be >= 1", nil)
	}
	cfg.DistributedWorkers = workers

	capacity, err := getEnvInt("ROUTER_CACHE_CAPACITY", 256)
	if err != nil {
		return nil, routererr.Config("invalid ROUTER_CACHE_CAPACITY", err)
	}
	if capacity < 0 {
		return nil, routererr.Config("ROUTER_CACHE_CAPACITY must be >= 0", nil)
	}
	cfg.Cache.Capacity = capacity

	ttl, err := getEnvInt("ROUTER_CACHE_TTL_SECONDS", 300)
	if err != nil {
		return nil, routererr.Config("invalid ROUTER_CACHE_TTL_SECONDS", err)
	}
	if ttl < 0 {
		return nil, routererr.Config("ROUTER_CACHE_TTL_SECONDS must be >= 0", nil)
	}
	cfg.Cache.TTLSeconds = ttl

	cfg.Engines = DefaultEngineProfiles()

	return cfg, nil
}

// DefaultEngineProfiles returns the three engine profiles declared in
// spec.md §6. Callers may append further profiles without touching the
// selector or cost estimator.
func DefaultEngineProfiles() []EngineProfileConfig {
	return []EngineProfileConfig{
		{
			ID:                 "single-columnar",
			ScanRateGBPerSec:   2.0,
			FixedOverheadSec:   0.1,
			MaxMemoryGB:        32,
			MemoryFactor:       3.0,
			MinEfficientSizeGB: 0,
			OpCostJoin:         1.0,
			OpCostAgg:          0.5,
			OpCostWindow:       2.0,
			StrengthDesc:       "single-node embedded columnar engine",
		},
		{
			ID:                 "parallel",
			ScanRateGBPerSec:   1.8,
			FixedOverheadSec:   0.2,
			MaxMemoryGB:        64,
			MemoryFactor:       2.5,
			MinEfficientSizeGB: 0,
			OpCostJoin:         0.8,
			OpCostAgg:          0.4,
			OpCostWindow:       1.5,
			StrengthDesc:       "multi-threaded single-node engine",
		},
		{
			ID:                 "distributed",
			ScanRateGBPerSec:   1.5,
			FixedOverheadSec:   15.0,
			MaxMemoryGB:        0, // unbounded: effectively max_mem/4 per node, modeled as uncapped here
			MemoryFactor:       0.25,
			MinEfficientSizeGB: 10.0,
			OpCostJoin:         0.6,
			OpCostAgg:          0.3,
			OpCostWindow:       1.0,
			StrengthDesc:       "fan-out distributed engine, quartered per-node memory",
		},
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}
