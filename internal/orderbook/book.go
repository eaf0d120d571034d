// Package orderbook maintains a consistent Level-2 book from streamed depth
// deltas and derives trade-flow analytics from it: iceberg detection, order
// clustering, support/resistance, volume profile, and imbalance.
package orderbook

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/quantfarm/futuresbot/internal/domain"
	"github.com/quantfarm/futuresbot/internal/events"
)

const (
	// DefaultMaxTrades caps the trade-execution log.
	DefaultMaxTrades = 10_000

	// DefaultHistoryWindow is how long per-level volume observations are
	// retained for the analytics.
	DefaultHistoryWindow = 10 * time.Minute

	// DefaultMaxObservations caps each (price, side) history sequence.
	DefaultMaxObservations = 500
)

// Config holds book construction parameters. Archiver, when set, receives
// every executed trade; it is fixed at construction so ApplyDepth can read
// it without the book lock.
type Config struct {
	Contract        string
	MaxTrades       int
	HistoryWindow   time.Duration
	MaxObservations int
	Archiver        domain.TapeArchiver
}

type levelKey struct {
	price domain.Price
	side  domain.BookSide
}

// observation is one (volume, timestamp) sample of a price level, used only
// for iceberg and cluster statistics.
type observation struct {
	Volume    int64
	Timestamp time.Time
}

// Book is the order book state machine for one contract. One exclusive lock
// covers each depth batch, every analytics query, and pruning, so analytics
// always observe a fully applied batch and never a level whose history was
// evicted mid-calculation.
type Book struct {
	mu sync.Mutex

	contract string
	bids     map[domain.Price]*domain.PriceLevel
	asks     map[domain.Price]*domain.PriceLevel

	trades    []domain.TradeExecution
	maxTrades int

	history    map[levelKey][]observation
	histWindow time.Duration
	maxObs     int

	sessionHigh domain.Price
	sessionLow  domain.Price

	lastUpdate  time.Time
	interrupted bool

	archiver domain.TapeArchiver
	bus      *events.Bus
	logger   *slog.Logger
}

// New creates an empty Book.
func New(cfg Config, bus *events.Bus, logger *slog.Logger) *Book {
	maxTrades := cfg.MaxTrades
	if maxTrades <= 0 {
		maxTrades = DefaultMaxTrades
	}
	window := cfg.HistoryWindow
	if window <= 0 {
		window = DefaultHistoryWindow
	}
	maxObs := cfg.MaxObservations
	if maxObs <= 0 {
		maxObs = DefaultMaxObservations
	}
	return &Book{
		contract:   cfg.Contract,
		bids:       make(map[domain.Price]*domain.PriceLevel),
		asks:       make(map[domain.Price]*domain.PriceLevel),
		maxTrades:  maxTrades,
		history:    make(map[levelKey][]observation),
		histWindow: window,
		maxObs:     maxObs,
		archiver:   cfg.Archiver,
		bus:        bus,
		logger: logger.With(
			slog.String("component", "orderbook"),
			slog.String("contract", cfg.Contract),
		),
	}
}

// ApplyDepth applies one batch of depth entries atomically. Bid/Ask entries
// with zero volume remove the level, nonzero volume inserts or updates it;
// Trade entries are appended to the execution log with book context captured
// at that instant; Reset clears both sides; session markers are recorded.
func (b *Book) ApplyDepth(entries []domain.DepthEntry, ts time.Time) {
	var executed []domain.TradeExecution

	b.mu.Lock()
	for _, e := range entries {
		switch e.Kind {
		case domain.DepthBid:
			b.applyLevelLocked(b.bids, domain.BookSideBid, e, ts)
		case domain.DepthAsk:
			b.applyLevelLocked(b.asks, domain.BookSideAsk, e, ts)
		case domain.DepthTrade:
			executed = append(executed, b.applyTradeLocked(e, ts))
		case domain.DepthReset:
			b.resetLocked()
		case domain.DepthSessionHigh:
			b.sessionHigh = e.Price
		case domain.DepthSessionLow:
			b.sessionLow = e.Price
		}
	}
	b.lastUpdate = ts
	b.mu.Unlock()

	if b.archiver != nil {
		for _, t := range executed {
			b.archiver.AddTrade(b.contract, t)
		}
	}

	b.bus.PublishDepthProcessed(events.DepthProcessed{
		Contract:    b.contract,
		UpdateCount: len(entries),
		Timestamp:   ts,
	})
}

func (b *Book) applyLevelLocked(side map[domain.Price]*domain.PriceLevel, s domain.BookSide, e domain.DepthEntry, ts time.Time) {
	if e.Volume <= 0 {
		delete(side, e.Price)
		delete(b.history, levelKey{price: e.Price, side: s})
		return
	}
	lvl, ok := side[e.Price]
	if !ok {
		lvl = &domain.PriceLevel{Price: e.Price, Side: s}
		side[e.Price] = lvl
	}
	lvl.Volume = e.Volume
	lvl.LastUpdate = ts

	key := levelKey{price: e.Price, side: s}
	obs := append(b.history[key], observation{Volume: e.Volume, Timestamp: ts})
	if len(obs) > b.maxObs {
		obs = append([]observation(nil), obs[len(obs)/2:]...)
	}
	b.history[key] = obs
}

func (b *Book) applyTradeLocked(e domain.DepthEntry, ts time.Time) domain.TradeExecution {
	bid, hasBid := b.bestBidLocked()
	ask, hasAsk := b.bestAskLocked()

	var mid, spread domain.Price
	side := domain.TradeSideUnknown
	if hasBid && hasAsk {
		mid = domain.Mid(bid, ask)
		spread = ask - bid
		// Heuristic only: price above mid is treated as buyer-initiated,
		// below as seller-initiated. Never venue-confirmed.
		switch {
		case e.Price > mid:
			side = domain.TradeSideBuy
		case e.Price < mid:
			side = domain.TradeSideSell
		}
	}

	trade := domain.TradeExecution{
		Price:         e.Price,
		Volume:        e.Volume,
		InferredSide:  side,
		SpreadAtTrade: spread,
		MidAtTrade:    mid,
		Timestamp:     ts,
	}
	b.trades = append(b.trades, trade)
	if len(b.trades) > b.maxTrades {
		b.trades = append([]domain.TradeExecution(nil), b.trades[len(b.trades)/2:]...)
	}
	return trade
}

func (b *Book) resetLocked() {
	b.bids = make(map[domain.Price]*domain.PriceLevel)
	b.asks = make(map[domain.Price]*domain.PriceLevel)
	b.history = make(map[levelKey][]observation)
	b.logger.Info("order book reset")
}

func (b *Book) bestBidLocked() (domain.Price, bool) {
	var best domain.Price
	found := false
	for p := range b.bids {
		if !found || p > best {
			best = p
			found = true
		}
	}
	return best, found
}

func (b *Book) bestAskLocked() (domain.Price, bool) {
	var best domain.Price
	found := false
	for p := range b.asks {
		if !found || p < best {
			best = p
			found = true
		}
	}
	return best, found
}

// BestBidAsk returns the top of each side; the booleans report presence.
func (b *Book) BestBidAsk() (bid, ask domain.Price, hasBid, hasAsk bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bid, hasBid = b.bestBidLocked()
	ask, hasAsk = b.bestAskLocked()
	return bid, ask, hasBid, hasAsk
}

// Depth returns up to n levels per side: bids descending, asks ascending.
func (b *Book) Depth(n int) (bids, asks []domain.PriceLevel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.depthLocked(n)
}

func (b *Book) depthLocked(n int) (bids, asks []domain.PriceLevel) {
	bids = make([]domain.PriceLevel, 0, len(b.bids))
	for _, lvl := range b.bids {
		bids = append(bids, *lvl)
	}
	sort.Slice(bids, func(i, j int) bool { return bids[i].Price > bids[j].Price })

	asks = make([]domain.PriceLevel, 0, len(b.asks))
	for _, lvl := range b.asks {
		asks = append(asks, *lvl)
	}
	sort.Slice(asks, func(i, j int) bool { return asks[i].Price < asks[j].Price })

	if n > 0 {
		if len(bids) > n {
			bids = bids[:n]
		}
		if len(asks) > n {
			asks = asks[:n]
		}
	}
	return bids, asks
}

// Snapshot returns a consistent top-of-book view with derived spread and mid.
func (b *Book) Snapshot(levels int) domain.BookSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	bids, asks := b.depthLocked(levels)
	snap := domain.BookSnapshot{
		Contract:  b.contract,
		Bids:      bids,
		Asks:      asks,
		Timestamp: b.lastUpdate,
	}
	if len(bids) > 0 {
		snap.BestBid = bids[0].Price
		snap.HasBid = true
	}
	if len(asks) > 0 {
		snap.BestAsk = asks[0].Price
		snap.HasAsk = true
	}
	if snap.HasBid && snap.HasAsk {
		snap.Spread = snap.BestAsk - snap.BestBid
		snap.Mid = domain.Mid(snap.BestBid, snap.BestAsk)
	}
	return snap
}

// SessionRange returns the venue-reported session high and low markers.
func (b *Book) SessionRange() (high, low domain.Price) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessionHigh, b.sessionLow
}

// Prune evicts trade log entries and level history older than the retention
// window. It takes the same lock as ApplyDepth so an in-flight score
// calculation never sees a level's history vanish under it.
func (b *Book) Prune(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := now.Add(-b.histWindow)

	kept := b.trades[:0]
	for _, t := range b.trades {
		if t.Timestamp.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.trades = kept

	for key, obs := range b.history {
		i := 0
		for i < len(obs) && !obs[i].Timestamp.After(cutoff) {
			i++
		}
		if i == len(obs) {
			delete(b.history, key)
			continue
		}
		if i > 0 {
			b.history[key] = append([]observation(nil), obs[i:]...)
		}
	}
}

// RunPruner prunes on the given interval until the context is done.
func (b *Book) RunPruner(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			b.Prune(now)
		}
	}
}

// SetInterrupted flags the feed as disconnected or restored.
func (b *Book) SetInterrupted(interrupted bool) {
	b.mu.Lock()
	b.interrupted = interrupted
	b.mu.Unlock()
	if interrupted {
		b.logger.Warn("depth feed interrupted")
	} else {
		b.logger.Info("depth feed restored")
	}
}

// Stale reports whether the book may lag the venue.
func (b *Book) Stale() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.interrupted
}

// TradeCount returns the size of the trade log.
func (b *Book) TradeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.trades)
}
