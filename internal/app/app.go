// Package app provides the top-level application lifecycle management for the
// futures trading engine. It wires together all dependencies (venue clients,
// the journal, caches, blob storage) and runs the engine goroutines until the
// context is cancelled.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/quantfarm/futuresbot/internal/config"
	"github.com/quantfarm/futuresbot/internal/domain"
	"github.com/quantfarm/futuresbot/internal/events"
	"github.com/quantfarm/futuresbot/internal/feed"
	"github.com/quantfarm/futuresbot/internal/marketdata"
	"github.com/quantfarm/futuresbot/internal/orderbook"
	"github.com/quantfarm/futuresbot/internal/orders"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, builds the engine,
// seeds historical bars, attaches the live feed, and blocks until the context
// is cancelled. On return the caller should invoke Close.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting engine",
		slog.String("contract", a.cfg.Engine.Contract),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	timeframes, err := parseTimeframes(a.cfg.Engine.Timeframes)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	bus := events.New(a.logger)

	aggregator := marketdata.New(marketdata.Config{
		Contract:   a.cfg.Engine.Contract,
		Timeframes: timeframes,
		MaxBars:    a.cfg.Engine.MaxBars,
		MaxTicks:   a.cfg.Engine.MaxTicks,
	}, deps.Venue, bus, a.logger)

	bookCfg := orderbook.Config{
		Contract:        a.cfg.Engine.Contract,
		MaxTrades:       a.cfg.Orderbook.MaxTrades,
		HistoryWindow:   a.cfg.Orderbook.HistoryWindow.Duration,
		MaxObservations: a.cfg.Orderbook.MaxObservations,
	}
	if deps.Archiver != nil {
		bookCfg.Archiver = deps.Archiver
	}
	book := orderbook.New(bookCfg, bus, a.logger)

	coordinator := orders.New(deps.Venue, deps.Venue, deps.Journal, bus, a.logger)

	if deps.Archiver != nil {
		bus.OnNewBar(func(e events.NewBar) {
			if e.Finalized != nil {
				deps.Archiver.AddBar(e.Contract, *e.Finalized)
			}
		})
	}

	// Seed bars fail closed: a live feed over an unseeded aggregator would
	// publish bars with holes.
	if err := aggregator.Initialize(ctx, a.cfg.Engine.SeedDays); err != nil {
		return fmt.Errorf("app: seed bars: %w", err)
	}

	if err := deps.Stream.Connect(ctx); err != nil {
		return fmt.Errorf("app: connect stream: %w", err)
	}
	if err := deps.Stream.Subscribe(ctx, a.cfg.Engine.Contract); err != nil {
		return fmt.Errorf("app: subscribe %s: %w", a.cfg.Engine.Contract, err)
	}

	dispatcher := feed.NewDispatcher(deps.Stream, aggregator, book, coordinator, deps.Prices, a.logger)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return dispatcher.Run(ctx)
	})
	g.Go(func() error {
		book.RunPruner(ctx, a.cfg.Orderbook.PruneInterval.Duration)
		return ctx.Err()
	})
	if deps.Archiver != nil {
		g.Go(func() error {
			return deps.Archiver.Run(ctx)
		})
	}
	g.Go(func() error {
		return a.monitor(ctx, aggregator, book, coordinator)
	})

	return g.Wait()
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down engine")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func parseTimeframes(labels []string) ([]domain.Timeframe, error) {
	tfs := make([]domain.Timeframe, 0, len(labels))
	for _, label := range labels {
		tf, err := domain.ParseTimeframe(label)
		if err != nil {
			return nil, fmt.Errorf("timeframe %q: %w", label, err)
		}
		tfs = append(tfs, tf)
	}
	return tfs, nil
}
