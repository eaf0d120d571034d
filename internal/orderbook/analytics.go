package orderbook

import (
	"sort"
	"time"

	"github.com/quantfarm/futuresbot/internal/domain"
)

// maxClusters caps how many clusters a single query returns per side.
const maxClusters = 10

// Cluster is a group of nearby resting levels on one side of the book.
type Cluster struct {
	Side        domain.BookSide
	CenterPrice domain.Price // volume-weighted
	LowPrice    domain.Price
	HighPrice   domain.Price
	TotalVolume int64
	LevelCount  int
}

// ClusterParams tune cluster detection.
type ClusterParams struct {
	// PriceTolerance is the maximum distance from a cluster's first member.
	PriceTolerance domain.Price
	// MinLevels is the minimum member count.
	MinLevels int
	// MinVolume suppresses clusters of many tiny orders.
	MinVolume int64
}

// DetectClusters walks each side's levels in price order, greedily grouping
// consecutive prices within tolerance of the group's first member, and
// returns the surviving clusters ranked by aggregate volume.
func (b *Book) DetectClusters(params ClusterParams) []Cluster {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Cluster
	out = append(out, clusterSide(b.bids, domain.BookSideBid, params)...)
	out = append(out, clusterSide(b.asks, domain.BookSideAsk, params)...)

	sort.Slice(out, func(i, j int) bool { return out[i].TotalVolume > out[j].TotalVolume })
	if len(out) > maxClusters {
		out = out[:maxClusters]
	}
	return out
}

func clusterSide(levels map[domain.Price]*domain.PriceLevel, side domain.BookSide, params ClusterParams) []Cluster {
	if len(levels) == 0 {
		return nil
	}
	prices := make([]domain.Price, 0, len(levels))
	for p := range levels {
		prices = append(prices, p)
	}
	sort.Slice(prices, func(i, j int) bool { return prices[i] < prices[j] })

	var out []Cluster
	start := 0
	for start < len(prices) {
		end := start + 1
		for end < len(prices) && prices[end]-prices[start] <= params.PriceTolerance {
			end++
		}
		if c, ok := buildCluster(levels, side, prices[start:end], params); ok {
			out = append(out, c)
		}
		start = end
	}
	return out
}

func buildCluster(levels map[domain.Price]*domain.PriceLevel, side domain.BookSide, prices []domain.Price, params ClusterParams) (Cluster, bool) {
	if len(prices) < params.MinLevels {
		return Cluster{}, false
	}
	var total int64
	var weighted int64
	for _, p := range prices {
		v := levels[p].Volume
		total += v
		weighted += int64(p) * v
	}
	if total < params.MinVolume || total == 0 {
		return Cluster{}, false
	}
	return Cluster{
		Side:        side,
		CenterPrice: domain.Price(weighted / total),
		LowPrice:    prices[0],
		HighPrice:   prices[len(prices)-1],
		TotalVolume: total,
		LevelCount:  len(prices),
	}, true
}

// KeyLevel is one support or resistance level with its touch statistics.
type KeyLevel struct {
	Price    domain.Price
	Touches  int
	Volume   int64
	Strength float64 // touches x volume
}

// SupportResistance identifies prices repeatedly touched inside the lookback
// window, weighted by volume, partitioned into support below the current mid
// and resistance above it. Both slices come back strongest first.
func (b *Book) SupportResistance(now time.Time, lookback time.Duration, max int) (support, resistance []KeyLevel) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := now.Add(-lookback)

	type stat struct {
		touches int
		volume  int64
	}
	stats := make(map[domain.Price]*stat)
	touch := func(p domain.Price, v int64) {
		s, ok := stats[p]
		if !ok {
			s = &stat{}
			stats[p] = s
		}
		s.touches++
		s.volume += v
	}

	for key, obs := range b.history {
		for _, o := range obs {
			if o.Timestamp.After(cutoff) {
				touch(key.price, o.Volume)
			}
		}
	}
	for _, t := range b.trades {
		if t.Timestamp.After(cutoff) {
			touch(t.Price, t.Volume)
		}
	}

	bid, hasBid := b.bestBidLocked()
	ask, hasAsk := b.bestAskLocked()
	if !hasBid && !hasAsk {
		return nil, nil
	}
	var ref domain.Price
	switch {
	case hasBid && hasAsk:
		ref = domain.Mid(bid, ask)
	case hasBid:
		ref = bid
	default:
		ref = ask
	}

	for p, s := range stats {
		// A single touch is noise, not a level.
		if s.touches < 2 {
			continue
		}
		lvl := KeyLevel{
			Price:    p,
			Touches:  s.touches,
			Volume:   s.volume,
			Strength: float64(s.touches) * float64(s.volume),
		}
		if p < ref {
			support = append(support, lvl)
		} else if p > ref {
			resistance = append(resistance, lvl)
		}
	}

	byStrength := func(ls []KeyLevel) {
		sort.Slice(ls, func(i, j int) bool { return ls[i].Strength > ls[j].Strength })
	}
	byStrength(support)
	byStrength(resistance)
	if max > 0 {
		if len(support) > max {
			support = support[:max]
		}
		if len(resistance) > max {
			resistance = resistance[:max]
		}
	}
	return support, resistance
}

// valueAreaFraction is the share of traded volume the value area must cover.
const valueAreaFraction = 0.70

// ProfileBucket is one price bucket of the volume profile.
type ProfileBucket struct {
	Price  domain.Price // bucket floor
	Volume int64
}

// VolumeProfile aggregates executions by price bucket.
type VolumeProfile struct {
	BucketSize     domain.Price
	Buckets        []ProfileBucket // ascending by price
	PointOfControl domain.Price
	ValueAreaLow   domain.Price
	ValueAreaHigh  domain.Price
	TotalVolume    int64
}

// Profile buckets all executions in the retention window by bucketSize. The
// bucket with maximum volume is the point of control; the value area is the
// smallest contiguous range around it holding 70% of total volume. Returns
// false when there are no executions.
func (b *Book) Profile(bucketSize domain.Price) (VolumeProfile, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if bucketSize <= 0 || len(b.trades) == 0 {
		return VolumeProfile{}, false
	}

	byBucket := make(map[domain.Price]int64)
	var total int64
	for _, t := range b.trades {
		floor := t.Price / bucketSize * bucketSize
		byBucket[floor] += t.Volume
		total += t.Volume
	}

	buckets := make([]ProfileBucket, 0, len(byBucket))
	for p, v := range byBucket {
		buckets = append(buckets, ProfileBucket{Price: p, Volume: v})
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Price < buckets[j].Price })

	poc := 0
	for i, bk := range buckets {
		if bk.Volume > buckets[poc].Volume {
			poc = i
		}
	}

	// Expand from the POC toward the heavier neighbor until the target
	// fraction is covered.
	lo, hi := poc, poc
	covered := buckets[poc].Volume
	target := int64(float64(total) * valueAreaFraction)
	for covered < target && (lo > 0 || hi < len(buckets)-1) {
		var below, above int64 = -1, -1
		if lo > 0 {
			below = buckets[lo-1].Volume
		}
		if hi < len(buckets)-1 {
			above = buckets[hi+1].Volume
		}
		if above > below {
			hi++
			covered += buckets[hi].Volume
		} else {
			lo--
			covered += buckets[lo].Volume
		}
	}

	return VolumeProfile{
		BucketSize:     bucketSize,
		Buckets:        buckets,
		PointOfControl: buckets[poc].Price,
		ValueAreaLow:   buckets[lo].Price,
		ValueAreaHigh:  buckets[hi].Price,
		TotalVolume:    total,
	}, true
}

// ImbalanceDirection labels which side of the book dominates.
type ImbalanceDirection string

const (
	ImbalanceBid     ImbalanceDirection = "bid"
	ImbalanceAsk     ImbalanceDirection = "ask"
	ImbalanceNeutral ImbalanceDirection = "neutral"
)

// ImbalanceReading summarizes resting-volume imbalance over the top levels.
type ImbalanceReading struct {
	Direction  ImbalanceDirection
	Confidence float64 // 0..1, |bid-ask| / (bid+ask)
	BidVolume  int64
	AskVolume  int64
}

// Imbalance sums resting volume over the top n levels per side and reports
// which side dominates and by how much.
func (b *Book) Imbalance(n int) ImbalanceReading {
	b.mu.Lock()
	defer b.mu.Unlock()

	bids, asks := b.depthLocked(n)

	var bidVol, askVol int64
	for _, l := range bids {
		bidVol += l.Volume
	}
	for _, l := range asks {
		askVol += l.Volume
	}

	r := ImbalanceReading{Direction: ImbalanceNeutral, BidVolume: bidVol, AskVolume: askVol}
	total := bidVol + askVol
	if total == 0 {
		return r
	}
	diff := bidVol - askVol
	if diff > 0 {
		r.Direction = ImbalanceBid
	} else if diff < 0 {
		r.Direction = ImbalanceAsk
		diff = -diff
	}
	r.Confidence = float64(diff) / float64(total)
	return r
}
