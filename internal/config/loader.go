package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies POLYARB_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known POLYARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "POLYARB_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "POLYARB_POSTGRES_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "POLYARB_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POLYARB_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POLYARB_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POLYARB_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POLYARB_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POLYARB_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POLYARB_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POLYARB_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POLYARB_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "POLYARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLYARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLYARB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POLYARB_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POLYARB_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POLYARB_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.PriceTTL, "POLYARB_REDIS_PRICE_TTL")
	setDuration(&cfg.Redis.GroupTTL, "POLYARB_REDIS_GROUP_TTL")
	setInt64(&cfg.Redis.StreamMaxLen, "POLYARB_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "POLYARB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POLYARB_S3_REGION")
	setStr(&cfg.S3.Bucket, "POLYARB_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "POLYARB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POLYARB_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "POLYARB_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "POLYARB_S3_FORCE_PATH_STYLE")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.GammaHost, "POLYARB_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.WsHost, "POLYARB_POLYMARKET_WS_HOST")
	setFloat64(&cfg.Polymarket.RateLimitRPS, "POLYARB_POLYMARKET_RATE_LIMIT_RPS")
	setDuration(&cfg.Polymarket.HTTPTimeout, "POLYARB_POLYMARKET_HTTP_TIMEOUT")
	setStr(&cfg.Polymarket.CTFOracle, "POLYARB_POLYMARKET_CTF_ORACLE")

	// ── Projector ──
	setFloat64(&cfg.Projector.EpsGap, "POLYARB_PROJECTOR_EPS_GAP")
	setInt(&cfg.Projector.MaxIterations, "POLYARB_PROJECTOR_MAX_ITERATIONS")
	setDuration(&cfg.Projector.OracleTimeout, "POLYARB_PROJECTOR_ORACLE_TIMEOUT")
	setInt(&cfg.Projector.OracleParallelism, "POLYARB_PROJECTOR_ORACLE_PARALLELISM")
	setStr(&cfg.Projector.Generator, "POLYARB_PROJECTOR_GENERATOR")
	setFloat64(&cfg.Projector.BarrierEpsilon, "POLYARB_PROJECTOR_BARRIER_EPSILON")
	setFloat64(&cfg.Projector.BarrierFloor, "POLYARB_PROJECTOR_BARRIER_FLOOR")
	setFloat64(&cfg.Projector.BarrierFactor, "POLYARB_PROJECTOR_BARRIER_FACTOR")
	setFloat64(&cfg.Projector.GradCeiling, "POLYARB_PROJECTOR_GRAD_CEILING")

	// ── Scan ──
	setDuration(&cfg.Scan.Interval, "POLYARB_SCAN_INTERVAL")
	setDuration(&cfg.Scan.Deadline, "POLYARB_SCAN_DEADLINE")
	setFloat64(&cfg.Scan.MinProfit, "POLYARB_SCAN_MIN_PROFIT")
	setFloat64(&cfg.Scan.HoldTolerance, "POLYARB_SCAN_HOLD_TOLERANCE")
	setDuration(&cfg.Scan.Debounce, "POLYARB_SCAN_DEBOUNCE")

	// ── Pipeline ──
	setBool(&cfg.Pipeline.Enabled, "POLYARB_PIPELINE_ENABLED")
	setDuration(&cfg.Pipeline.SyncInterval, "POLYARB_PIPELINE_SYNC_INTERVAL")
	setDuration(&cfg.Pipeline.ArchiveInterval, "POLYARB_PIPELINE_ARCHIVE_INTERVAL")
	setInt(&cfg.Pipeline.ArchiveRetentionDays, "POLYARB_PIPELINE_ARCHIVE_RETENTION_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "POLYARB_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "POLYARB_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "POLYARB_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKeyHash, "POLYARB_SERVER_API_KEY_HASH")
	setInt(&cfg.Server.RateLimit, "POLYARB_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "POLYARB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POLYARB_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POLYARB_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "POLYARB_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.RulesDir, "POLYARB_RULES_DIR")
	setStr(&cfg.Mode, "POLYARB_MODE")
	setStr(&cfg.LogLevel, "POLYARB_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
