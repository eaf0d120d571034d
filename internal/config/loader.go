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
// built-in defaults, applies FUTURESBOT_* environment variable overrides,
// and returns the final Config. The returned Config has NOT been validated;
// the caller should invoke Config.Validate() after Load.
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

// applyEnvOverrides reads well-known FUTURESBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Venue ──
	setStr(&cfg.Venue.BaseURL, "FUTURESBOT_VENUE_BASE_URL")
	setStr(&cfg.Venue.WsURL, "FUTURESBOT_VENUE_WS_URL")
	setStr(&cfg.Venue.Name, "FUTURESBOT_VENUE_NAME")
	setStr(&cfg.Venue.Password, "FUTURESBOT_VENUE_PASSWORD")
	setStr(&cfg.Venue.AppID, "FUTURESBOT_VENUE_APP_ID")
	setInt(&cfg.Venue.CID, "FUTURESBOT_VENUE_CID")
	setStr(&cfg.Venue.Secret, "FUTURESBOT_VENUE_SECRET")

	// ── Engine ──
	setStr(&cfg.Engine.Contract, "FUTURESBOT_ENGINE_CONTRACT")
	setStringSlice(&cfg.Engine.Timeframes, "FUTURESBOT_ENGINE_TIMEFRAMES")
	setInt(&cfg.Engine.SeedDays, "FUTURESBOT_ENGINE_SEED_DAYS")
	setInt(&cfg.Engine.MaxBars, "FUTURESBOT_ENGINE_MAX_BARS")
	setInt(&cfg.Engine.MaxTicks, "FUTURESBOT_ENGINE_MAX_TICKS")

	// ── Orderbook ──
	setInt(&cfg.Orderbook.MaxTrades, "FUTURESBOT_ORDERBOOK_MAX_TRADES")
	setInt(&cfg.Orderbook.MaxObservations, "FUTURESBOT_ORDERBOOK_MAX_OBSERVATIONS")
	setDuration(&cfg.Orderbook.HistoryWindow, "FUTURESBOT_ORDERBOOK_HISTORY_WINDOW")
	setDuration(&cfg.Orderbook.PruneInterval, "FUTURESBOT_ORDERBOOK_PRUNE_INTERVAL")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "FUTURESBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "FUTURESBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "FUTURESBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "FUTURESBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "FUTURESBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "FUTURESBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "FUTURESBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "FUTURESBOT_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "FUTURESBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "FUTURESBOT_POSTGRES_POOL_MIN_CONNS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "FUTURESBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "FUTURESBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "FUTURESBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FUTURESBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "FUTURESBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "FUTURESBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "FUTURESBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "FUTURESBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "FUTURESBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "FUTURESBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "FUTURESBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "FUTURESBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "FUTURESBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "FUTURESBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "FUTURESBOT_S3_FORCE_PATH_STYLE")
	setDuration(&cfg.S3.FlushInterval, "FUTURESBOT_S3_FLUSH_INTERVAL")
	setInt(&cfg.S3.MaxBatch, "FUTURESBOT_S3_MAX_BATCH")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "FUTURESBOT_LOG_LEVEL")
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
