// Package marketdata turns the live tick/quote stream into synchronized
// multi-timeframe OHLCV bars. One Aggregator instance tracks one contract.
package marketdata

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quantfarm/futuresbot/internal/domain"
	"github.com/quantfarm/futuresbot/internal/events"
)

const (
	// DefaultMaxBars caps each timeframe's finalized-bar sequence.
	DefaultMaxBars = 1000

	// DefaultMaxTicks caps the diagnostic raw-tick buffer.
	DefaultMaxTicks = 1000
)

// Config holds aggregator construction parameters.
type Config struct {
	Contract   string
	Timeframes []domain.Timeframe
	MaxBars    int
	MaxTicks   int
}

// tickPoint is a raw tick kept only for diagnostics, never used to rebuild
// bars.
type tickPoint struct {
	Price     domain.Price
	Volume    int64
	Timestamp time.Time
}

// series is the bar state for one timeframe.
type series struct {
	tf        domain.Timeframe
	bars      []domain.Bar // finalized, oldest first
	current   *domain.Bar
	curBucket time.Time
}

// Aggregator maintains one bar series per configured timeframe. A single
// mutex covers the entire ingest-and-possibly-finalize step across all
// timeframes, so a reader observing "all timeframes as of now" never sees
// one timeframe mid-update and another already rolled over.
type Aggregator struct {
	mu sync.Mutex

	contract string
	series   map[string]*series
	order    []string // timeframe labels in configured order
	maxBars  int

	ticks    []tickPoint
	maxTicks int

	lastPrice   domain.Price
	hasLast     bool
	lastUpdate  time.Time
	initialized bool
	interrupted bool

	hist   domain.HistoricalSource
	bus    *events.Bus
	logger *slog.Logger
}

// New creates an Aggregator. Initialize must succeed before the live feed is
// attached.
func New(cfg Config, hist domain.HistoricalSource, bus *events.Bus, logger *slog.Logger) *Aggregator {
	maxBars := cfg.MaxBars
	if maxBars <= 0 {
		maxBars = DefaultMaxBars
	}
	maxTicks := cfg.MaxTicks
	if maxTicks <= 0 {
		maxTicks = DefaultMaxTicks
	}

	a := &Aggregator{
		contract: cfg.Contract,
		series:   make(map[string]*series, len(cfg.Timeframes)),
		maxBars:  maxBars,
		maxTicks: maxTicks,
		hist:     hist,
		bus:      bus,
		logger: logger.With(
			slog.String("component", "marketdata"),
			slog.String("contract", cfg.Contract),
		),
	}
	for _, tf := range cfg.Timeframes {
		a.series[tf.Label] = &series{tf: tf}
		a.order = append(a.order, tf.Label)
	}
	return a
}

// Initialize seeds every configured timeframe from the historical source.
// It fails closed: if any timeframe's seed load fails, the whole
// initialization fails and the feed must not be started.
func (a *Aggregator) Initialize(ctx context.Context, seedDays int) error {
	type seeded struct {
		label string
		bars  []domain.Bar
	}
	loads := make([]seeded, 0, len(a.order))

	for _, label := range a.order {
		tf := a.seriesFor(label).tf
		bars, err := a.hist.Bars(ctx, a.contract, tf, seedDays)
		if err != nil {
			return fmt.Errorf("marketdata: seed %s bars: %w", label, err)
		}
		loads = append(loads, seeded{label: label, bars: bars})
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, l := range loads {
		s := a.series[l.label]
		s.bars = append(s.bars[:0], l.bars...)
		// The newest seed bar stays open so live ticks inside its bucket
		// continue it instead of opening a duplicate.
		if n := len(s.bars); n > 0 {
			last := s.bars[n-1]
			s.bars = s.bars[:n-1]
			s.current = &last
			s.curBucket = s.tf.BucketStart(last.OpenTime)
		}
		if over := len(s.bars) - a.maxBars; over > 0 {
			s.bars = append([]domain.Bar(nil), s.bars[over:]...)
		}
		a.logger.Info("timeframe seeded",
			slog.String("timeframe", l.label),
			slog.Int("bars", len(l.bars)),
		)
	}
	a.initialized = true
	return nil
}

func (a *Aggregator) seriesFor(label string) *series {
	return a.series[label]
}

// IngestTick folds one tick into every configured timeframe. For each
// timeframe the bucket boundary is floored; a newer bucket finalizes the
// current bar and opens a new one, an equal bucket updates in place. Ticks
// older than the current bucket are dropped rather than rewriting history.
func (a *Aggregator) IngestTick(price domain.Price, volume int64, ts time.Time) {
	var rolls []events.NewBar

	a.mu.Lock()
	a.lastPrice = price
	a.hasLast = true
	a.lastUpdate = ts

	a.ticks = append(a.ticks, tickPoint{Price: price, Volume: volume, Timestamp: ts})
	if len(a.ticks) > a.maxTicks {
		a.ticks = append([]tickPoint(nil), a.ticks[len(a.ticks)/2:]...)
	}

	for _, label := range a.order {
		s := a.series[label]
		bucket := s.tf.BucketStart(ts)

		switch {
		case s.current == nil:
			s.openBar(bucket, price, volume)
			rolls = append(rolls, events.NewBar{
				Contract:  a.contract,
				Timeframe: label,
				Bar:       *s.current,
			})
		case bucket.After(s.curBucket):
			final := *s.current
			s.bars = append(s.bars, final)
			if len(s.bars) > a.maxBars {
				// Drop the oldest half in one pass to bound amortized
				// cleanup cost.
				s.bars = append([]domain.Bar(nil), s.bars[len(s.bars)/2:]...)
			}
			s.openBar(bucket, price, volume)
			rolls = append(rolls, events.NewBar{
				Contract:  a.contract,
				Timeframe: label,
				Bar:       *s.current,
				Finalized: &final,
			})
		case bucket.Equal(s.curBucket):
			s.current.Update(price, volume)
		default:
			a.logger.Warn("dropped out-of-order tick",
				slog.String("timeframe", label),
				slog.Time("tick_time", ts),
				slog.Time("bucket", s.curBucket),
			)
		}
	}
	a.mu.Unlock()

	// Events dispatch outside the lock: listeners may call back into Bars.
	for _, r := range rolls {
		a.bus.PublishNewBar(r)
	}
	a.bus.PublishTickProcessed(events.TickProcessed{
		Contract:  a.contract,
		Price:     price,
		Volume:    volume,
		Timestamp: ts,
	})
}

func (s *series) openBar(bucket time.Time, price domain.Price, volume int64) {
	s.curBucket = bucket
	s.current = &domain.Bar{
		Timeframe: s.tf.Label,
		OpenTime:  bucket,
		Open:      price,
		High:      price,
		Low:       price,
		Close:     price,
		Volume:    volume,
	}
}

// IngestQuote updates the last observed price with the quote mid. Quotes do
// not open or update bars.
func (a *Aggregator) IngestQuote(bid, ask domain.Price, ts time.Time) {
	a.mu.Lock()
	if bid > 0 && ask > 0 {
		a.lastPrice = domain.Mid(bid, ask)
		a.hasLast = true
		a.lastUpdate = ts
	}
	a.mu.Unlock()
}

// Bars returns the most recent count bars for the timeframe, oldest first,
// including the still-open current bar. Fewer bars than requested are
// returned when the series is shorter.
func (a *Aggregator) Bars(timeframe string, count int) []domain.Bar {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, ok := a.series[timeframe]
	if !ok || count <= 0 {
		return nil
	}

	all := s.bars
	if s.current != nil {
		all = append(append([]domain.Bar(nil), s.bars...), *s.current)
	}
	if len(all) > count {
		all = all[len(all)-count:]
	}
	out := make([]domain.Bar, len(all))
	copy(out, all)
	return out
}

// CurrentPrice returns the last ingested tick or quote mid, independent of
// bar boundaries.
func (a *Aggregator) CurrentPrice() (domain.Price, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastPrice, a.hasLast
}

// Initialized reports whether seeding completed.
func (a *Aggregator) Initialized() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.initialized
}

// SetInterrupted flags the feed as disconnected or restored. The aggregator
// never reconnects itself; it only reflects staleness.
func (a *Aggregator) SetInterrupted(interrupted bool) {
	a.mu.Lock()
	a.interrupted = interrupted
	a.mu.Unlock()
	if interrupted {
		a.logger.Warn("market data feed interrupted")
	} else {
		a.logger.Info("market data feed restored")
	}
}

// Stale reports whether the last price predates a live connection.
func (a *Aggregator) Stale() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.interrupted
}

// TickCount returns the size of the diagnostic tick buffer.
func (a *Aggregator) TickCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.ticks)
}
