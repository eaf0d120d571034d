package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantfarm/futuresbot/internal/domain"
)

// Journal implements domain.OrderJournal as an append-only event log. Every
// order lifecycle event is a new row; nothing is ever updated in place, so
// the full history of each order can be replayed from its rows in order.
// Prices are stored as fixed-point ticks.
type Journal struct {
	pool *pgxpool.Pool
}

// NewJournal creates a Journal backed by the given connection pool.
func NewJournal(pool *pgxpool.Pool) *Journal {
	return &Journal{pool: pool}
}

// RecordOrder appends one lifecycle event for an order.
func (j *Journal) RecordOrder(ctx context.Context, o domain.Order) error {
	const query = `
		INSERT INTO order_events (
			order_id, client_id, contract, side, order_type, status,
			size, filled, limit_ticks, stop_ticks, reduce_only, reason
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12
		)`

	_, err := j.pool.Exec(ctx, query,
		o.ID, o.ClientID, o.Contract,
		string(o.Side), string(o.Type), string(o.Status),
		o.Size, o.FilledVolume,
		int64(o.LimitPrice), int64(o.StopPrice),
		o.ReduceOnly, o.Reason,
	)
	if err != nil {
		return fmt.Errorf("postgres: record order %s: %w", o.ID, err)
	}
	return nil
}

// RecordFill appends one execution for an order.
func (j *Journal) RecordFill(ctx context.Context, orderID string, price domain.Price, volume int64, ts time.Time) error {
	const query = `
		INSERT INTO fills (order_id, price_ticks, volume, executed_at)
		VALUES ($1, $2, $3, $4)`

	if _, err := j.pool.Exec(ctx, query, orderID, int64(price), volume, ts); err != nil {
		return fmt.Errorf("postgres: record fill %s: %w", orderID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.OrderJournal = (*Journal)(nil)
