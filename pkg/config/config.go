// Package config loads application configuration from YAML files with
// environment-variable overrides; loaded values are not validated. It
// provides typed structs for every subsystem (backing store, cube store,
// invalidator, cluster bus, telemetry, admin API, logging, metrics).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	BackingStore BackingStoreConfig `yaml:"backing_store"`
	CubeStore    CubeStoreConfig    `yaml:"cube_store"`
	Invalidator  InvalidatorConfig  `yaml:"invalidator"`
	Hypercube    HypercubeConfig    `yaml:"hypercube"`
	ClusterBus   ClusterBusConfig   `yaml:"cluster_bus"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
	Admin        AdminConfig        `yaml:"admin"`
	Logging      LoggingConfig      `yaml:"logging"`
	Metrics      MetricsConfig      `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// BackingStoreConfig holds the relational source-of-truth connection
// parameters.
type BackingStoreConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// CubeStoreConfig controls the embedded columnar engine that materializes
// and serves hypercubes.
type CubeStoreConfig struct {
	MemoryLimit       string `yaml:"memory_limit"`
	Threads           int    `yaml:"threads"`
	CacheTTLSeconds   int    `yaml:"cache_ttl_seconds"`
	PersistentEnabled bool   `yaml:"persistent_enabled"`
	PersistentPath    string `yaml:"persistent_path"`
}

// TTL returns the configured cache entry lifetime.
func (c CubeStoreConfig) TTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// InvalidatorConfig controls the periodic probe-query invalidation task.
type InvalidatorConfig struct {
	Enabled              bool   `yaml:"enabled"`
	Query                string `yaml:"query"`
	CheckIntervalSeconds int    `yaml:"check_interval_seconds"`
}

// Interval returns the configured probe tick interval.
func (c InvalidatorConfig) Interval() time.Duration {
	return time.Duration(c.CheckIntervalSeconds) * time.Second
}

// HypercubeConfig holds defaults for the convenience cube endpoints.
type HypercubeConfig struct {
	SourceTable string `yaml:"source_table"`
}

// ClusterBusConfig controls cross-replica cache-flush broadcast over Redis
// pub/sub. It never carries cached data, only invalidation signals.
type ClusterBusConfig struct {
	Enabled   bool   `yaml:"enabled"`
	RedisAddr string `yaml:"redis_addr"`
	Password  string `yaml:"password"`
	Channel   string `yaml:"channel"`
}

// TelemetryConfig controls the cache-event observability pipeline.
type TelemetryConfig struct {
	Enabled                 bool     `yaml:"enabled"`
	KafkaBrokers            []string `yaml:"kafka_brokers"`
	Topic                   string   `yaml:"topic"`
	ConsumerGroup           string   `yaml:"consumer_group"`
	SnapshotIntervalSeconds int      `yaml:"snapshot_interval_seconds"`
}

// SnapshotInterval returns the configured snapshot persistence period.
func (c TelemetryConfig) SnapshotInterval() time.Duration {
	return time.Duration(c.SnapshotIntervalSeconds) * time.Second
}

// AdminConfig controls API-key auth on the /admin surface and the per-caller
// rate limit applied to /query, /cube* and /admin.
type AdminConfig struct {
	APIKeyRequired     bool `yaml:"api_key_required"`
	RateLimitPerMinute int  `yaml:"rate_limit_per_minute"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment
// variable overrides. It returns a Config populated with sensible defaults
// for any missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// defaultConfig returns a Config with sane defaults for local development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		BackingStore: BackingStoreConfig{
			DSN:             "host=localhost port=5432 user=hypercube password=localdev dbname=hypercube sslmode=disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		CubeStore: CubeStoreConfig{
			MemoryLimit:       "4GB",
			Threads:           4,
			CacheTTLSeconds:   900,
			PersistentEnabled: false,
			PersistentPath:    "./data/hypercube_snapshot.duckdb",
		},
		Invalidator: InvalidatorConfig{
			Enabled:              false,
			CheckIntervalSeconds: 30,
		},
		Hypercube: HypercubeConfig{
			SourceTable: "public.facts_agg",
		},
		ClusterBus: ClusterBusConfig{
			Enabled:   false,
			RedisAddr: "localhost:6379",
			Channel:   "hypercube:invalidate",
		},
		Telemetry: TelemetryConfig{
			Enabled:                 false,
			KafkaBrokers:            []string{"localhost:9092"},
			Topic:                   "hypercube-cache-events",
			ConsumerGroup:           "hypercube-proxy-telemetry",
			SnapshotIntervalSeconds: 60,
		},
		Admin: AdminConfig{
			APIKeyRequired:     true,
			RateLimitPerMinute: 600,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads HCP_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HCP_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("HCP_BACKING_STORE_DSN"); v != "" {
		cfg.BackingStore.DSN = v
	}
	if v := os.Getenv("HCP_CUBE_STORE_MEMORY_LIMIT"); v != "" {
		cfg.CubeStore.MemoryLimit = v
	}
	if v := os.Getenv("HCP_CUBE_STORE_THREADS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CubeStore.Threads = n
		}
	}
	if v := os.Getenv("HCP_CUBE_STORE_CACHE_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CubeStore.CacheTTLSeconds = n
		}
	}
	if v := os.Getenv("HCP_CUBE_STORE_PERSISTENT_ENABLED"); v != "" {
		cfg.CubeStore.PersistentEnabled = v == "true" || v == "1"
	}
	if v := os.Getenv("HCP_CUBE_STORE_PERSISTENT_PATH"); v != "" {
		cfg.CubeStore.PersistentPath = v
	}
	if v := os.Getenv("HCP_INVALIDATOR_ENABLED"); v != "" {
		cfg.Invalidator.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("HCP_INVALIDATOR_QUERY"); v != "" {
		cfg.Invalidator.Query = v
	}
	if v := os.Getenv("HCP_INVALIDATOR_CHECK_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Invalidator.CheckIntervalSeconds = n
		}
	}
	if v := os.Getenv("HCP_HYPERCUBE_SOURCE_TABLE"); v != "" {
		cfg.Hypercube.SourceTable = v
	}
	if v := os.Getenv("HCP_CLUSTER_BUS_ENABLED"); v != "" {
		cfg.ClusterBus.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("HCP_CLUSTER_BUS_REDIS_ADDR"); v != "" {
		cfg.ClusterBus.RedisAddr = v
	}
	if v := os.Getenv("HCP_CLUSTER_BUS_PASSWORD"); v != "" {
		cfg.ClusterBus.Password = v
	}
	if v := os.Getenv("HCP_TELEMETRY_ENABLED"); v != "" {
		cfg.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("HCP_TELEMETRY_KAFKA_BROKERS"); v != "" {
		cfg.Telemetry.KafkaBrokers = strings.Split(v, ",")
	}
	if v := os.Getenv("HCP_ADMIN_API_KEY_REQUIRED"); v != "" {
		cfg.Admin.APIKeyRequired = v == "true" || v == "1"
	}
	if v := os.Getenv("HCP_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("HCP_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
