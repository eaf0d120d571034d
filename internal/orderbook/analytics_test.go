package orderbook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfarm/futuresbot/internal/domain"
)

func TestDetectClustersGroupsWithinTolerance(t *testing.T) {
	book, _ := newTestBook(t, Config{})
	now := time.Now().UTC()

	book.ApplyDepth([]domain.DepthEntry{
		// Tight bid cluster around 100.
		{Kind: domain.DepthBid, Price: price(100.00), Volume: 40},
		{Kind: domain.DepthBid, Price: price(100.10), Volume: 60},
		{Kind: domain.DepthBid, Price: price(100.20), Volume: 100},
		// A lone bid far away.
		{Kind: domain.DepthBid, Price: price(95.00), Volume: 500},
		// Ask cluster.
		{Kind: domain.DepthAsk, Price: price(101.00), Volume: 30},
		{Kind: domain.DepthAsk, Price: price(101.10), Volume: 30},
	}, now)

	clusters := book.DetectClusters(ClusterParams{
		PriceTolerance: price(0.25),
		MinLevels:      2,
		MinVolume:      50,
	})

	require.Len(t, clusters, 2)
	// Ranked by aggregate volume: the bid cluster (200) first.
	first := clusters[0]
	assert.Equal(t, domain.BookSideBid, first.Side)
	assert.Equal(t, int64(200), first.TotalVolume)
	assert.Equal(t, 3, first.LevelCount)
	assert.Equal(t, price(100.00), first.LowPrice)
	assert.Equal(t, price(100.20), first.HighPrice)
	// Volume-weighted center: (100*40 + 100.1*60 + 100.2*100)/200 = 100.13.
	assert.Equal(t, price(100.13), first.CenterPrice)

	second := clusters[1]
	assert.Equal(t, domain.BookSideAsk, second.Side)
	assert.Equal(t, int64(60), second.TotalVolume)
}

func TestDetectClustersSuppressesTinyGroups(t *testing.T) {
	book, _ := newTestBook(t, Config{})
	now := time.Now().UTC()

	book.ApplyDepth([]domain.DepthEntry{
		{Kind: domain.DepthBid, Price: price(100.00), Volume: 2},
		{Kind: domain.DepthBid, Price: price(100.10), Volume: 3},
		{Kind: domain.DepthBid, Price: price(100.20), Volume: 1},
	}, now)

	clusters := book.DetectClusters(ClusterParams{
		PriceTolerance: price(0.25),
		MinLevels:      2,
		MinVolume:      50,
	})
	assert.Empty(t, clusters)
}

func TestSupportResistancePartitionsAroundMid(t *testing.T) {
	book, _ := newTestBook(t, Config{})
	start := time.Now().UTC()

	book.ApplyDepth([]domain.DepthEntry{
		{Kind: domain.DepthBid, Price: price(100.0), Volume: 50},
		{Kind: domain.DepthAsk, Price: price(102.0), Volume: 50},
	}, start)

	// Repeated touches below and above the mid (101).
	for i := 0; i < 4; i++ {
		ts := start.Add(time.Duration(i+1) * time.Second)
		book.ApplyDepth([]domain.DepthEntry{
			{Kind: domain.DepthTrade, Price: price(99.5), Volume: 30},
			{Kind: domain.DepthTrade, Price: price(102.5), Volume: 10},
		}, ts)
	}

	support, resistance := book.SupportResistance(start.Add(time.Minute), 10*time.Minute, 5)

	require.NotEmpty(t, support)
	require.NotEmpty(t, resistance)
	assert.Equal(t, price(99.5), support[0].Price)
	assert.Equal(t, 4, support[0].Touches)
	for _, s := range support {
		assert.Less(t, s.Price, price(101.0))
	}
	for _, r := range resistance {
		assert.Greater(t, r.Price, price(101.0))
	}
}

func TestVolumeProfilePOCAndValueArea(t *testing.T) {
	book, _ := newTestBook(t, Config{})
	start := time.Now().UTC()

	trades := []struct {
		p float64
		v int64
	}{
		{100.1, 10}, {100.2, 15},
		{101.0, 100}, {101.4, 80}, // dominant bucket at 101
		{102.1, 40},
		{103.3, 5},
	}
	for i, tr := range trades {
		book.ApplyDepth([]domain.DepthEntry{
			{Kind: domain.DepthTrade, Price: price(tr.p), Volume: tr.v},
		}, start.Add(time.Duration(i)*time.Second))
	}

	prof, ok := book.Profile(price(1.0))
	require.True(t, ok)

	assert.Equal(t, price(101.0), prof.PointOfControl)
	assert.Equal(t, int64(250), prof.TotalVolume)

	// Value area: 70% of 250 = 175; POC (180) alone already covers it.
	assert.Equal(t, price(101.0), prof.ValueAreaLow)
	assert.Equal(t, price(101.0), prof.ValueAreaHigh)

	// Buckets ascending.
	for i := 1; i < len(prof.Buckets); i++ {
		assert.Greater(t, prof.Buckets[i].Price, prof.Buckets[i-1].Price)
	}
}

func TestVolumeProfileEmptyBook(t *testing.T) {
	book, _ := newTestBook(t, Config{})
	_, ok := book.Profile(price(1.0))
	assert.False(t, ok)
}

func TestImbalanceDirectionAndConfidence(t *testing.T) {
	book, _ := newTestBook(t, Config{})
	now := time.Now().UTC()

	book.ApplyDepth([]domain.DepthEntry{
		{Kind: domain.DepthBid, Price: price(100.0), Volume: 300},
		{Kind: domain.DepthBid, Price: price(99.5), Volume: 100},
		{Kind: domain.DepthAsk, Price: price(101.0), Volume: 100},
	}, now)

	r := book.Imbalance(5)
	assert.Equal(t, ImbalanceBid, r.Direction)
	assert.Equal(t, int64(400), r.BidVolume)
	assert.Equal(t, int64(100), r.AskVolume)
	assert.InDelta(t, 0.6, r.Confidence, 1e-9)

	empty, _ := newTestBook(t, Config{})
	assert.Equal(t, ImbalanceNeutral, empty.Imbalance(5).Direction)
	assert.Zero(t, empty.Imbalance(5).Confidence)
}
