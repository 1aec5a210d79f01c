// Package config defines the top-level configuration for the projection
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by POLYARB_* environment variables.
type Config struct {
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Projector  ProjectorConfig  `toml:"projector"`
	Scan       ScanConfig       `toml:"scan"`
	Pipeline   PipelineConfig   `toml:"pipeline"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	RulesDir   string           `toml:"rules_dir"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	PriceTTL     duration `toml:"price_ttl"`
	GroupTTL     duration `toml:"group_ttl"`
	StreamMaxLen int64    `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// PolymarketConfig holds Polymarket API endpoints.
type PolymarketConfig struct {
	GammaHost    string   `toml:"gamma_host"`
	WsHost       string   `toml:"ws_host"`
	RateLimitRPS float64  `toml:"rate_limit_rps"`
	HTTPTimeout  duration `toml:"http_timeout"`
	// CTFOracle is the oracle address used to recompute and verify the
	// condition IDs advertised by the Gamma API. Empty disables the check.
	CTFOracle string `toml:"ctf_oracle"`
}

// ProjectorConfig holds the projection solver parameters.
type ProjectorConfig struct {
	EpsGap            float64  `toml:"eps_gap"`
	MaxIterations     int      `toml:"max_iterations"`
	OracleTimeout     duration `toml:"oracle_timeout"`
	OracleParallelism int      `toml:"oracle_parallelism"`
	Generator         string   `toml:"generator"`
	BarrierEpsilon    float64  `toml:"barrier_epsilon"`
	BarrierFloor      float64  `toml:"barrier_floor"`
	BarrierFactor     float64  `toml:"barrier_factor"`
	GradCeiling       float64  `toml:"grad_ceiling"`
}

// ScanConfig holds the periodic scan parameters.
type ScanConfig struct {
	Interval      duration `toml:"interval"`
	Deadline      duration `toml:"deadline"`
	MinProfit     float64  `toml:"min_profit"`
	HoldTolerance float64  `toml:"hold_tolerance"`
	Debounce      duration `toml:"debounce"`
}

// PipelineConfig holds group-sync and archival parameters.
type PipelineConfig struct {
	Enabled              bool     `toml:"enabled"`
	SyncInterval         duration `toml:"sync_interval"`
	ArchiveInterval      duration `toml:"archive_interval"`
	ArchiveRetentionDays int      `toml:"archive_retention_days"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKeyHash  string   `toml:"api_key_hash"`
	RateLimit   int      `toml:"rate_limit"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			DSN:           "",
			Host:          "localhost",
			Port:          5432,
			Database:      "polyarb",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			DB:           0,
			PoolSize:     20,
			MaxRetries:   3,
			TLSEnabled:   false,
			PriceTTL:     duration{5 * time.Minute},
			GroupTTL:     duration{30 * time.Minute},
			StreamMaxLen: 10_000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "polyarb-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Polymarket: PolymarketConfig{
			GammaHost:    "https://gamma-api.polymarket.com",
			WsHost:       "wss://ws-subscriptions-clob.polymarket.com",
			RateLimitRPS: 5,
			HTTPTimeout:  duration{15 * time.Second},
			CTFOracle:    "0x6A9D222616C90FcA5754cd1333cFD9b7fb6a4F74",
		},
		Projector: ProjectorConfig{
			EpsGap:            1e-6,
			MaxIterations:     150,
			OracleTimeout:     duration{30 * time.Second},
			OracleParallelism: 4,
			Generator:         "neg_entropy",
			BarrierEpsilon:    1e-2,
			BarrierFloor:      1e-6,
			BarrierFactor:     0.9,
			GradCeiling:       1e6,
		},
		Scan: ScanConfig{
			Interval:      duration{1 * time.Minute},
			Deadline:      duration{45 * time.Second},
			MinProfit:     1e-4,
			HoldTolerance: 1e-4,
			Debounce:      duration{5 * time.Second},
		},
		Pipeline: PipelineConfig{
			Enabled:              false,
			SyncInterval:         duration{15 * time.Minute},
			ArchiveInterval:      duration{24 * time.Hour},
			ArchiveRetentionDays: 90,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
		},
		Notify: NotifyConfig{
			Events: []string{"arb_detected", "scan_failed", "error"},
		},
		RulesDir: "rules",
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"scan":   true,
	"serve":  true,
	"report": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validGenerators enumerates the accepted Projector.Generator names.
var validGenerators = map[string]bool{
	"neg_entropy":       true,
	"squared_euclidean": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: scan, serve, report, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}
	if c.Redis.StreamMaxLen < 1 {
		errs = append(errs, "redis: stream_max_len must be >= 1")
	}

	// S3: only the full mode archives, but the section must be coherent when
	// pipeline archival is enabled.
	if c.Pipeline.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when pipeline is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when pipeline is enabled")
		}
		if c.Pipeline.ArchiveRetentionDays < 1 {
			errs = append(errs, "pipeline: archive_retention_days must be >= 1")
		}
	}

	// Polymarket
	if c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty")
	}
	if c.Polymarket.WsHost == "" {
		errs = append(errs, "polymarket: ws_host must not be empty")
	}
	if c.Polymarket.RateLimitRPS <= 0 {
		errs = append(errs, "polymarket: rate_limit_rps must be > 0")
	}

	// Projector
	if c.Projector.EpsGap <= 0 {
		errs = append(errs, "projector: eps_gap must be > 0")
	}
	if c.Projector.MaxIterations < 1 {
		errs = append(errs, "projector: max_iterations must be >= 1")
	}
	if c.Projector.OracleTimeout.Duration <= 0 {
		errs = append(errs, "projector: oracle_timeout must be > 0")
	}
	if c.Projector.OracleParallelism < 1 {
		errs = append(errs, "projector: oracle_parallelism must be >= 1")
	}
	if !validGenerators[strings.ToLower(c.Projector.Generator)] {
		errs = append(errs, fmt.Sprintf("projector: unknown generator %q (valid: neg_entropy, squared_euclidean)", c.Projector.Generator))
	}
	if c.Projector.BarrierEpsilon <= 0 || c.Projector.BarrierEpsilon >= 1 {
		errs = append(errs, "projector: barrier_epsilon must be in (0, 1)")
	}
	if c.Projector.BarrierFactor <= 0 || c.Projector.BarrierFactor >= 1 {
		errs = append(errs, "projector: barrier_factor must be in (0, 1)")
	}
	if c.Projector.BarrierFloor <= 0 || c.Projector.BarrierFloor > c.Projector.BarrierEpsilon {
		errs = append(errs, "projector: barrier_floor must be in (0, barrier_epsilon]")
	}

	// Scan
	if c.Scan.Interval.Duration <= 0 {
		errs = append(errs, "scan: interval must be > 0")
	}
	if c.Scan.Deadline.Duration <= 0 {
		errs = append(errs, "scan: deadline must be > 0")
	}
	if c.Scan.Deadline.Duration >= c.Scan.Interval.Duration {
		errs = append(errs, "scan: deadline must be shorter than interval")
	}
	if c.Scan.MinProfit < 0 {
		errs = append(errs, "scan: min_profit must be >= 0")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 1 {
			errs = append(errs, "server: rate_limit must be >= 1")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
