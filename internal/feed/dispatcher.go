// Package feed routes venue stream events to the engine components. The
// dispatcher is the only consumer of the stream channel, so the arrival order
// the transport guarantees is preserved all the way into the aggregator,
// order book, and coordinator.
package feed

import (
	"context"
	"log/slog"

	"github.com/quantfarm/futuresbot/internal/domain"
	"github.com/quantfarm/futuresbot/internal/marketdata"
	"github.com/quantfarm/futuresbot/internal/orderbook"
	"github.com/quantfarm/futuresbot/internal/orders"
)

// Dispatcher consumes one venue stream and fans events out by variant. The
// price cache mirror is optional and best-effort; a cache failure never stalls
// the stream.
type Dispatcher struct {
	stream     domain.Stream
	aggregator *marketdata.Aggregator
	book       *orderbook.Book
	coord      *orders.Coordinator
	prices     domain.PriceCache
	logger     *slog.Logger
}

// NewDispatcher wires a stream to the three engine components. The price
// cache may be nil.
func NewDispatcher(stream domain.Stream, agg *marketdata.Aggregator, book *orderbook.Book, coord *orders.Coordinator, prices domain.PriceCache, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		stream:     stream,
		aggregator: agg,
		book:       book,
		coord:      coord,
		prices:     prices,
		logger:     logger.With(slog.String("component", "dispatcher")),
	}
}

// Run consumes stream events until the context is cancelled or the stream
// channel closes.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("dispatcher started")
	defer d.logger.Info("dispatcher stopped")

	events := d.stream.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return domain.ErrStreamClosed
			}
			d.handle(ctx, ev)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, ev domain.StreamEvent) {
	switch e := ev.(type) {
	case domain.TickEvent:
		d.aggregator.IngestTick(e.Price, e.Volume, e.Timestamp)
		d.mirrorPrice(ctx, e.Contract, e.Price, e)
	case domain.QuoteEvent:
		d.aggregator.IngestQuote(e.Bid, e.Ask, e.Timestamp)
		if d.prices != nil {
			if err := d.prices.SetBBO(ctx, e.Contract, e.Bid, e.Ask, e.Timestamp); err != nil {
				d.logger.Debug("bbo mirror failed", slog.String("error", err.Error()))
			}
		}
	case domain.DepthEvent:
		d.book.ApplyDepth(e.Entries, e.Timestamp)
	case domain.OrderUpdateEvent:
		d.coord.OnOrderUpdate(e.Order)
	case domain.PositionUpdateEvent:
		d.coord.OnPositionUpdate(ctx, e.Position)
	case domain.FeedInterruptedEvent:
		d.logger.Warn("feed interrupted", slog.String("reason", e.Reason))
		d.setInterrupted(true)
	case domain.FeedResumedEvent:
		d.logger.Info("feed resumed")
		d.setInterrupted(false)
	}
}

func (d *Dispatcher) mirrorPrice(ctx context.Context, contract string, price domain.Price, ev domain.StreamEvent) {
	if d.prices == nil {
		return
	}
	if err := d.prices.SetPrice(ctx, contract, price, ev.EventTime()); err != nil {
		d.logger.Debug("price mirror failed", slog.String("error", err.Error()))
	}
}

func (d *Dispatcher) setInterrupted(interrupted bool) {
	d.aggregator.SetInterrupted(interrupted)
	d.book.SetInterrupted(interrupted)
	d.coord.SetInterrupted(interrupted)
}
