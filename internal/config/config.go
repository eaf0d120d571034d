// Package config defines the top-level configuration for the trading engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by FUTURESBOT_* environment
// variables.
type Config struct {
	Venue     VenueConfig     `toml:"venue"`
	Engine    EngineConfig    `toml:"engine"`
	Orderbook OrderbookConfig `toml:"orderbook"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	LogLevel  string          `toml:"log_level"`
}

// VenueConfig holds API endpoints and credentials.
type VenueConfig struct {
	BaseURL  string `toml:"base_url"`
	WsURL    string `toml:"ws_url"`
	Name     string `toml:"name"`
	Password string `toml:"password"`
	AppID    string `toml:"app_id"`
	CID      int    `toml:"cid"`
	Secret   string `toml:"secret"`
}

// EngineConfig holds the contract and aggregation parameters.
type EngineConfig struct {
	Contract   string   `toml:"contract"`
	Timeframes []string `toml:"timeframes"`
	SeedDays   int      `toml:"seed_days"`
	MaxBars    int      `toml:"max_bars"`
	MaxTicks   int      `toml:"max_ticks"`
}

// OrderbookConfig holds depth, pruning, and iceberg-detection parameters.
type OrderbookConfig struct {
	MaxTrades       int      `toml:"max_trades"`
	MaxObservations int      `toml:"max_observations"`
	HistoryWindow   duration `toml:"history_window"`
	PruneInterval   duration `toml:"prune_interval"`

	Iceberg IcebergConfig `toml:"iceberg"`
}

// IcebergConfig holds the iceberg detector's gates.
type IcebergConfig struct {
	Window               duration `toml:"window"`
	MinRefreshCount      int      `toml:"min_refresh_count"`
	MinTotalVolume       int64    `toml:"min_total_volume"`
	ConsistencyThreshold float64  `toml:"consistency_threshold"`
}

// PostgresConfig holds connection parameters for the order journal. The
// journal is optional; when disabled the engine keeps no order history.
type PostgresConfig struct {
	Enabled      bool   `toml:"enabled"`
	DSN          string `toml:"dsn"`
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	Database     string `toml:"database"`
	User         string `toml:"user"`
	Password     string `toml:"password"`
	SSLMode      string `toml:"ssl_mode"`
	PoolMaxConns int    `toml:"pool_max_conns"`
	PoolMinConns int    `toml:"pool_min_conns"`
}

// RedisConfig holds connection parameters for the price mirror. Optional.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds object-storage parameters for the tape archiver. Optional.
type S3Config struct {
	Enabled        bool     `toml:"enabled"`
	Endpoint       string   `toml:"endpoint"`
	Region         string   `toml:"region"`
	Bucket         string   `toml:"bucket"`
	AccessKey      string   `toml:"access_key"`
	SecretKey      string   `toml:"secret_key"`
	UseSSL         bool     `toml:"use_ssl"`
	ForcePathStyle bool     `toml:"force_path_style"`
	FlushInterval  duration `toml:"flush_interval"`
	MaxBatch       int      `toml:"max_batch"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
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
func Defaults() Config {
	return Config{
		Venue: VenueConfig{
			BaseURL: "https://demo.tradovateapi.com/v1",
			WsURL:   "wss://md-demo.tradovateapi.com/v1/websocket",
		},
		Engine: EngineConfig{
			Timeframes: []string{"1m", "5m", "15m"},
			SeedDays:   5,
			MaxBars:    1000,
			MaxTicks:   1000,
		},
		Orderbook: OrderbookConfig{
			MaxTrades:       10_000,
			MaxObservations: 500,
			HistoryWindow:   duration{10 * time.Minute},
			PruneInterval:   duration{time.Minute},
			Iceberg: IcebergConfig{
				Window:               duration{10 * time.Minute},
				MinRefreshCount:      5,
				MinTotalVolume:       100,
				ConsistencyThreshold: 0.7,
			},
		},
		Postgres: PostgresConfig{
			Enabled:      false,
			Host:         "localhost",
			Port:         5432,
			Database:     "futuresbot",
			User:         "postgres",
			SSLMode:      "disable",
			PoolMaxConns: 10,
			PoolMinConns: 2,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "futuresbot-tape",
			ForcePathStyle: true,
			FlushInterval:  duration{time.Minute},
			MaxBatch:       5000,
		},
		LogLevel: "info",
	}
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Venue
	if c.Venue.BaseURL == "" {
		errs = append(errs, "venue: base_url must not be empty")
	}
	if c.Venue.WsURL == "" {
		errs = append(errs, "venue: ws_url must not be empty")
	}
	if c.Venue.Name == "" {
		errs = append(errs, "venue: name must not be empty")
	}
	if c.Venue.Password == "" {
		errs = append(errs, "venue: password must not be empty")
	}

	// Engine
	if c.Engine.Contract == "" {
		errs = append(errs, "engine: contract must not be empty")
	}
	if len(c.Engine.Timeframes) == 0 {
		errs = append(errs, "engine: at least one timeframe is required")
	}
	if c.Engine.SeedDays < 1 {
		errs = append(errs, "engine: seed_days must be >= 1")
	}
	if c.Engine.MaxBars < 2 {
		errs = append(errs, "engine: max_bars must be >= 2")
	}
	if c.Engine.MaxTicks < 2 {
		errs = append(errs, "engine: max_ticks must be >= 2")
	}

	// Orderbook
	if c.Orderbook.MaxTrades < 2 {
		errs = append(errs, "orderbook: max_trades must be >= 2")
	}
	if c.Orderbook.HistoryWindow.Duration <= 0 {
		errs = append(errs, "orderbook: history_window must be positive")
	}
	if c.Orderbook.PruneInterval.Duration <= 0 {
		errs = append(errs, "orderbook: prune_interval must be positive")
	}
	if t := c.Orderbook.Iceberg.ConsistencyThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Sprintf("orderbook: iceberg.consistency_threshold must be in [0, 1], got %g", t))
	}

	// Postgres
	if c.Postgres.Enabled {
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
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
		if c.S3.FlushInterval.Duration <= 0 {
			errs = append(errs, "s3: flush_interval must be positive")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
