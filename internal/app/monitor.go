package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/quantfarm/futuresbot/internal/marketdata"
	"github.com/quantfarm/futuresbot/internal/orderbook"
	"github.com/quantfarm/futuresbot/internal/orders"
)

// monitorInterval is how often the engine snapshot is logged.
const monitorInterval = time.Minute

// monitor periodically logs an engine snapshot: last price, book analytics,
// open order count, and staleness flags. It is observability only; nothing
// in the engine reads its output.
func (a *App) monitor(ctx context.Context, agg *marketdata.Aggregator, book *orderbook.Book, coord *orders.Coordinator) error {
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()

	icebergParams := orderbook.IcebergParams{
		Window:               a.cfg.Orderbook.Iceberg.Window.Duration,
		MinRefreshCount:      a.cfg.Orderbook.Iceberg.MinRefreshCount,
		MinTotalVolume:       a.cfg.Orderbook.Iceberg.MinTotalVolume,
		ConsistencyThreshold: a.cfg.Orderbook.Iceberg.ConsistencyThreshold,
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			attrs := []any{
				slog.Int("trades", book.TradeCount()),
				slog.Int("open_orders", len(coord.SearchOpenOrders(a.cfg.Engine.Contract))),
				slog.Int64("status_inconsistencies", coord.Inconsistencies()),
				slog.Bool("stale", agg.Stale() || book.Stale()),
			}
			if price, ok := agg.CurrentPrice(); ok {
				attrs = append(attrs, slog.String("last_price", price.String()))
			}
			if bid, ask, hasBid, hasAsk := book.BestBidAsk(); hasBid && hasAsk {
				attrs = append(attrs,
					slog.String("bid", bid.String()),
					slog.String("ask", ask.String()),
				)
			}
			imb := book.Imbalance(5)
			attrs = append(attrs,
				slog.String("imbalance", string(imb.Direction)),
				slog.Float64("imbalance_confidence", imb.Confidence),
			)
			a.logger.InfoContext(ctx, "engine snapshot", attrs...)

			for _, cand := range book.DetectIcebergs(now, icebergParams) {
				a.logger.InfoContext(ctx, "iceberg candidate",
					slog.String("price", cand.Price.String()),
					slog.String("side", string(cand.Side)),
					slog.Int("refresh_count", cand.RefreshCount),
					slog.Int64("est_hidden_size", cand.EstHiddenSize),
					slog.String("confidence", string(cand.Confidence)),
					slog.Float64("score", cand.Score),
				)
			}
		}
	}
}
