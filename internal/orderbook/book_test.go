package orderbook

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfarm/futuresbot/internal/domain"
	"github.com/quantfarm/futuresbot/internal/events"
)

func newTestBook(t *testing.T, cfg Config) (*Book, *events.Bus) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := events.New(logger)
	if cfg.Contract == "" {
		cfg.Contract = "MESU6"
	}
	return New(cfg, bus, logger), bus
}

func price(v float64) domain.Price { return domain.PriceFromFloat(v) }

func TestZeroVolumeRemovesLevel(t *testing.T) {
	book, _ := newTestBook(t, Config{})
	now := time.Now().UTC()

	book.ApplyDepth([]domain.DepthEntry{
		{Kind: domain.DepthBid, Price: price(100.0), Volume: 50},
		{Kind: domain.DepthAsk, Price: price(101.0), Volume: 30},
	}, now)

	book.ApplyDepth([]domain.DepthEntry{
		{Kind: domain.DepthBid, Price: price(100.0), Volume: 0},
	}, now.Add(time.Second))

	_, ask, hasBid, hasAsk := book.BestBidAsk()
	assert.False(t, hasBid)
	require.True(t, hasAsk)
	assert.Equal(t, price(101.0), ask)
}

func TestLevelVolumesNeverNegative(t *testing.T) {
	book, _ := newTestBook(t, Config{})
	now := time.Now().UTC()

	book.ApplyDepth([]domain.DepthEntry{
		{Kind: domain.DepthBid, Price: price(100.0), Volume: 50},
		{Kind: domain.DepthBid, Price: price(100.0), Volume: 20},
		{Kind: domain.DepthBid, Price: price(99.5), Volume: -5},
		{Kind: domain.DepthAsk, Price: price(101.0), Volume: 40},
	}, now)

	bids, asks := book.Depth(0)
	for _, l := range bids {
		assert.Positive(t, l.Volume)
	}
	for _, l := range asks {
		assert.Positive(t, l.Volume)
	}
	// Negative volume is treated as removal, never stored.
	require.Len(t, bids, 1)
	assert.Equal(t, int64(20), bids[0].Volume)
}

func TestResetClearsBothSides(t *testing.T) {
	book, _ := newTestBook(t, Config{})
	now := time.Now().UTC()

	book.ApplyDepth([]domain.DepthEntry{
		{Kind: domain.DepthBid, Price: price(100.0), Volume: 50},
		{Kind: domain.DepthAsk, Price: price(101.0), Volume: 30},
		{Kind: domain.DepthReset},
	}, now)

	_, _, hasBid, hasAsk := book.BestBidAsk()
	assert.False(t, hasBid)
	assert.False(t, hasAsk)
}

func TestSnapshotSpreadAndMid(t *testing.T) {
	book, _ := newTestBook(t, Config{})
	now := time.Now().UTC()

	book.ApplyDepth([]domain.DepthEntry{
		{Kind: domain.DepthBid, Price: price(99.5), Volume: 10},
		{Kind: domain.DepthBid, Price: price(100.0), Volume: 50},
		{Kind: domain.DepthAsk, Price: price(101.0), Volume: 30},
		{Kind: domain.DepthAsk, Price: price(101.5), Volume: 15},
	}, now)

	snap := book.Snapshot(5)
	require.True(t, snap.HasBid)
	require.True(t, snap.HasAsk)
	assert.Equal(t, price(100.0), snap.BestBid)
	assert.Equal(t, price(101.0), snap.BestAsk)
	assert.Equal(t, price(1.0), snap.Spread)
	assert.Equal(t, price(100.5), snap.Mid)

	// Bids descending, asks ascending.
	require.Len(t, snap.Bids, 2)
	assert.Equal(t, price(100.0), snap.Bids[0].Price)
	require.Len(t, snap.Asks, 2)
	assert.Equal(t, price(101.0), snap.Asks[0].Price)
}

func TestTradeSideInference(t *testing.T) {
	book, _ := newTestBook(t, Config{})
	now := time.Now().UTC()

	book.ApplyDepth([]domain.DepthEntry{
		{Kind: domain.DepthBid, Price: price(100.0), Volume: 50},
		{Kind: domain.DepthAsk, Price: price(101.0), Volume: 30},
		{Kind: domain.DepthTrade, Price: price(101.0), Volume: 5}, // above mid
		{Kind: domain.DepthTrade, Price: price(100.0), Volume: 3}, // below mid
		{Kind: domain.DepthTrade, Price: price(100.5), Volume: 2}, // at mid
	}, now)

	book.mu.Lock()
	trades := append([]domain.TradeExecution(nil), book.trades...)
	book.mu.Unlock()

	require.Len(t, trades, 3)
	assert.Equal(t, domain.TradeSideBuy, trades[0].InferredSide)
	assert.Equal(t, domain.TradeSideSell, trades[1].InferredSide)
	assert.Equal(t, domain.TradeSideUnknown, trades[2].InferredSide)
	assert.Equal(t, price(100.5), trades[0].MidAtTrade)
	assert.Equal(t, price(1.0), trades[0].SpreadAtTrade)
}

func TestSessionMarkers(t *testing.T) {
	book, _ := newTestBook(t, Config{})
	book.ApplyDepth([]domain.DepthEntry{
		{Kind: domain.DepthSessionHigh, Price: price(105.25)},
		{Kind: domain.DepthSessionLow, Price: price(97.75)},
	}, time.Now().UTC())

	high, low := book.SessionRange()
	assert.Equal(t, price(105.25), high)
	assert.Equal(t, price(97.75), low)
}

func TestDepthProcessedEvent(t *testing.T) {
	book, bus := newTestBook(t, Config{})

	var got events.DepthProcessed
	bus.OnDepthProcessed(func(e events.DepthProcessed) { got = e })

	book.ApplyDepth([]domain.DepthEntry{
		{Kind: domain.DepthBid, Price: price(100.0), Volume: 50},
		{Kind: domain.DepthAsk, Price: price(101.0), Volume: 30},
	}, time.Now().UTC())

	assert.Equal(t, 2, got.UpdateCount)
	assert.Equal(t, "MESU6", got.Contract)
}

func TestPruneEvictsOldTradesAndHistory(t *testing.T) {
	book, _ := newTestBook(t, Config{HistoryWindow: time.Minute})
	start := time.Now().UTC().Add(-10 * time.Minute)

	book.ApplyDepth([]domain.DepthEntry{
		{Kind: domain.DepthBid, Price: price(100.0), Volume: 50},
		{Kind: domain.DepthAsk, Price: price(101.0), Volume: 30},
		{Kind: domain.DepthTrade, Price: price(100.5), Volume: 5},
	}, start)
	book.ApplyDepth([]domain.DepthEntry{
		{Kind: domain.DepthTrade, Price: price(100.75), Volume: 2},
	}, start.Add(9*time.Minute+40*time.Second))

	book.Prune(start.Add(10 * time.Minute))

	assert.Equal(t, 1, book.TradeCount())

	// The stale level history is gone, so no iceberg candidate survives.
	cands := book.DetectIcebergs(start.Add(10*time.Minute), IcebergParams{
		Window:               time.Hour,
		MinRefreshCount:      1,
		MinTotalVolume:       1,
		ConsistencyThreshold: 0,
	})
	assert.Empty(t, cands)
}

type recordingArchiver struct {
	contracts []string
	trades    []domain.TradeExecution
}

func (r *recordingArchiver) AddTrade(contract string, t domain.TradeExecution) {
	r.contracts = append(r.contracts, contract)
	r.trades = append(r.trades, t)
}

func (r *recordingArchiver) AddBar(string, domain.Bar) {}

func TestArchiverReceivesExecutedTrades(t *testing.T) {
	arch := &recordingArchiver{}
	book, _ := newTestBook(t, Config{Archiver: arch})
	now := time.Now().UTC()

	book.ApplyDepth([]domain.DepthEntry{
		{Kind: domain.DepthBid, Price: price(100.0), Volume: 50},
		{Kind: domain.DepthAsk, Price: price(101.0), Volume: 30},
		{Kind: domain.DepthTrade, Price: price(100.75), Volume: 5},
		{Kind: domain.DepthTrade, Price: price(100.25), Volume: 2},
	}, now)

	require.Len(t, arch.trades, 2)
	assert.Equal(t, []string{"MESU6", "MESU6"}, arch.contracts)
	assert.Equal(t, price(100.75), arch.trades[0].Price)
	assert.Equal(t, int64(5), arch.trades[0].Volume)
	assert.Equal(t, price(100.25), arch.trades[1].Price)
}
