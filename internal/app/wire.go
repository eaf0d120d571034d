package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/quantfarm/futuresbot/internal/blob/s3"
	"github.com/quantfarm/futuresbot/internal/cache/redis"
	"github.com/quantfarm/futuresbot/internal/config"
	"github.com/quantfarm/futuresbot/internal/domain"
	"github.com/quantfarm/futuresbot/internal/platform/tradovate"
	"github.com/quantfarm/futuresbot/internal/store/postgres"
)

// Dependencies bundles every external dependency the engine needs. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Venue REST client, shared by seeding, instrument lookup, and orders.
	Venue *tradovate.Client

	// Stream is the live market data and order update feed.
	Stream *tradovate.StreamClient

	// Journal is nil when Postgres is disabled; the coordinator then keeps
	// no order history.
	Journal domain.OrderJournal

	// Prices is nil when Redis is disabled; the dispatcher then skips
	// mirroring.
	Prices domain.PriceCache

	// Archiver is nil when S3 is disabled.
	Archiver *s3blob.TapeArchiver
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Venue REST + websocket ---
	venue := tradovate.NewClient(cfg.Venue.BaseURL, tradovate.Credentials{
		Name:     cfg.Venue.Name,
		Password: cfg.Venue.Password,
		AppID:    cfg.Venue.AppID,
		CID:      cfg.Venue.CID,
		Secret:   cfg.Venue.Secret,
	})
	if err := venue.Authenticate(ctx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: venue auth: %w", err)
	}
	deps.Venue = venue

	stream := tradovate.NewStreamClient(cfg.Venue.WsURL, venue.AccessToken)
	closers = append(closers, func() { _ = stream.Close() })
	deps.Stream = stream

	// --- PostgreSQL order journal ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if err := pgClient.EnsureSchema(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres schema: %w", err)
		}
		deps.Journal = postgres.NewJournal(pgClient.Pool())
	}

	// --- Redis price mirror ---
	if cfg.Redis.Enabled {
		prices, err := redis.NewPriceCache(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = prices.Close() })
		deps.Prices = prices
	}

	// --- S3 tape archiver ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewTapeArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.ArchiverConfig{
				FlushInterval: cfg.S3.FlushInterval.Duration,
				MaxBatch:      cfg.S3.MaxBatch,
			},
			logger,
		)
	}

	return deps, cleanup, nil
}
