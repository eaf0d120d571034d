// Package redis mirrors live prices into Redis so other processes can read
// them without touching the venue feed.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quantfarm/futuresbot/internal/domain"
)

// ClientConfig holds connection parameters for the price mirror.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
}

// PriceCache implements domain.PriceCache using Redis hashes. Prices are
// stored as their scaled fixed-point integers, never as floats, so readers in
// other processes see exact values. The last trade lives at "price:{contract}"
// with fields "price" and "ts"; the top of book at "bbo:{contract}" with
// fields "bid", "ask", and "ts".
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache connects to Redis and verifies the connection before
// returning. The caller owns the cache and must Close it.
func NewPriceCache(ctx context.Context, cfg ClientConfig) (*PriceCache, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &PriceCache{rdb: rdb}, nil
}

// Close releases the connection pool.
func (pc *PriceCache) Close() error {
	return pc.rdb.Close()
}

func priceKey(contract string) string {
	return "price:" + contract
}

func bboKey(contract string) string {
	return "bbo:" + contract
}

// SetPrice stores the latest trade price and timestamp for a contract.
func (pc *PriceCache) SetPrice(ctx context.Context, contract string, price domain.Price, ts time.Time) error {
	fields := map[string]interface{}{
		"price": strconv.FormatInt(int64(price), 10),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}
	if err := pc.rdb.HSet(ctx, priceKey(contract), fields).Err(); err != nil {
		return fmt.Errorf("redis: set price %s: %w", contract, err)
	}
	return nil
}

// GetPrice retrieves the latest trade price and timestamp for a contract.
// It returns domain.ErrNotFound when the key does not exist.
func (pc *PriceCache) GetPrice(ctx context.Context, contract string) (domain.Price, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(contract)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", contract, err)
	}
	if len(vals) == 0 {
		return 0, time.Time{}, domain.ErrNotFound
	}

	price, err := parsePriceField(vals, "price")
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: price %s: %w", contract, err)
	}

	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse ts %s: %w", contract, err)
	}
	return price, time.Unix(0, tsNano), nil
}

// SetBBO stores the best bid and ask for a contract.
func (pc *PriceCache) SetBBO(ctx context.Context, contract string, bid, ask domain.Price, ts time.Time) error {
	fields := map[string]interface{}{
		"bid": strconv.FormatInt(int64(bid), 10),
		"ask": strconv.FormatInt(int64(ask), 10),
		"ts":  strconv.FormatInt(ts.UnixNano(), 10),
	}
	if err := pc.rdb.HSet(ctx, bboKey(contract), fields).Err(); err != nil {
		return fmt.Errorf("redis: set bbo %s: %w", contract, err)
	}
	return nil
}

// GetBBO retrieves the best bid and ask for a contract. It returns
// domain.ErrNotFound when the key does not exist.
func (pc *PriceCache) GetBBO(ctx context.Context, contract string) (bid, ask domain.Price, err error) {
	vals, err := pc.rdb.HGetAll(ctx, bboKey(contract)).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("redis: get bbo %s: %w", contract, err)
	}
	if len(vals) == 0 {
		return 0, 0, domain.ErrNotFound
	}

	if bid, err = parsePriceField(vals, "bid"); err != nil {
		return 0, 0, fmt.Errorf("redis: bbo %s: %w", contract, err)
	}
	if ask, err = parsePriceField(vals, "ask"); err != nil {
		return 0, 0, fmt.Errorf("redis: bbo %s: %w", contract, err)
	}
	return bid, ask, nil
}

func parsePriceField(vals map[string]string, field string) (domain.Price, error) {
	raw, ok := vals[field]
	if !ok {
		return 0, domain.ErrNotFound
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", field, err)
	}
	return domain.Price(v), nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
