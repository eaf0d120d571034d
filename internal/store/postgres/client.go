// Package postgres implements the order/fill journal using PostgreSQL via pgx.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ClientConfig holds connection parameters for the PostgreSQL client.
type ClientConfig struct {
	DSN      string
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string
	MaxConns int
	MinConns int
}

// DSN builds a PostgreSQL connection string from the given config.
func DSN(cfg ClientConfig) string {
	if strings.TrimSpace(cfg.DSN) != "" {
		return cfg.DSN
	}

	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, port, cfg.Database, sslMode,
	)
}

// Client wraps a pgxpool.Pool.
type Client struct {
	pool *pgxpool.Pool
}

// New creates a Client with a connection pool configured from cfg.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	poolCfg, err := pgxpool.ParseConfig(DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.MinConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Client{pool: pool}, nil
}

// Pool returns the underlying connection pool.
func (c *Client) Pool() *pgxpool.Pool {
	return c.pool
}

// Close shuts down the connection pool.
func (c *Client) Close() {
	c.pool.Close()
}

// EnsureSchema creates the journal tables when they do not exist. The
// journal is append-only; there is no versioned migration history to manage.
func (c *Client) EnsureSchema(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS order_events (
			seq          BIGSERIAL PRIMARY KEY,
			order_id     TEXT NOT NULL,
			client_id    TEXT NOT NULL DEFAULT '',
			contract     TEXT NOT NULL,
			side         TEXT NOT NULL,
			order_type   TEXT NOT NULL,
			status       TEXT NOT NULL,
			size         BIGINT NOT NULL,
			filled       BIGINT NOT NULL DEFAULT 0,
			limit_ticks  BIGINT NOT NULL DEFAULT 0,
			stop_ticks   BIGINT NOT NULL DEFAULT 0,
			reduce_only  BOOLEAN NOT NULL DEFAULT FALSE,
			reason       TEXT NOT NULL DEFAULT '',
			recorded_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS order_events_order_id_idx
			ON order_events (order_id, seq);

		CREATE TABLE IF NOT EXISTS fills (
			seq          BIGSERIAL PRIMARY KEY,
			order_id     TEXT NOT NULL,
			price_ticks  BIGINT NOT NULL,
			volume       BIGINT NOT NULL,
			executed_at  TIMESTAMPTZ NOT NULL,
			recorded_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS fills_order_id_idx
			ON fills (order_id, seq);`

	if _, err := c.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: ensure schema: %w", err)
	}
	return nil
}
