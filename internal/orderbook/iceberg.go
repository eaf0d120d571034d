package orderbook

import (
	"math"
	"sort"
	"time"

	"github.com/quantfarm/futuresbot/internal/domain"
)

// Composite score weights. Volume consistency dominates: an iceberg is
// defined by replenishment at a steady visible size, not by raw volume.
const (
	weightRefresh     = 0.3
	weightVolume      = 0.2
	weightConsistency = 0.5

	// refreshSaturation is the refresh count at which the refresh factor
	// maxes out.
	refreshSaturation = 20

	// volumeSaturation scales the total-volume factor relative to the
	// caller's minimum.
	volumeSaturation = 10

	// crossValidationBoost is added to the score when recent executions at
	// the level account for the majority of its observed volume.
	crossValidationBoost = 0.1
)

// Confidence tiers for iceberg candidates.
type IcebergConfidence string

const (
	IcebergVeryHigh IcebergConfidence = "very_high"
	IcebergHigh     IcebergConfidence = "high"
	IcebergMedium   IcebergConfidence = "medium"
	IcebergLow      IcebergConfidence = "low"
)

// IcebergParams tune the detector.
type IcebergParams struct {
	// Window restricts the analysis to observations at most this old.
	Window time.Duration
	// MinRefreshCount rejects levels replenished fewer times.
	MinRefreshCount int
	// MinTotalVolume rejects levels with less cumulative observed volume.
	MinTotalVolume int64
	// ConsistencyThreshold in (0,1]; higher demands steadier replenishment.
	// A level is rejected when its coefficient of variation exceeds
	// 1 - ConsistencyThreshold.
	ConsistencyThreshold float64
}

// IcebergCandidate is one suspected hidden order, ranked by Score.
type IcebergCandidate struct {
	Price          domain.Price
	Side           domain.BookSide
	RefreshCount   int
	TotalVolume    int64
	MeanVolume     float64
	VolumeStdDev   float64
	Score          float64
	Confidence     IcebergConfidence
	EstHiddenSize  int64
	CrossValidated bool
	FirstSeen      time.Time
	LastSeen       time.Time
}

// DetectIcebergs scans per-level volume history for the signature of hidden
// orders: repeated, volume-consistent replenishment at one price. The side
// inference feeding the cross-validation step is heuristic, so a positive
// cross-validation only boosts confidence, it never gates a candidate.
func (b *Book) DetectIcebergs(now time.Time, params IcebergParams) []IcebergCandidate {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := now.Add(-params.Window)
	maxCV := 1 - params.ConsistencyThreshold

	var out []IcebergCandidate
	for key, obs := range b.history {
		cand, ok := scoreLevel(key, obs, cutoff, params, maxCV)
		if !ok {
			continue
		}
		b.crossValidateLocked(&cand, cutoff)
		out = append(out, cand)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func scoreLevel(key levelKey, obs []observation, cutoff time.Time, params IcebergParams, maxCV float64) (IcebergCandidate, bool) {
	var (
		count  int
		total  int64
		maxOne int64
		first  time.Time
		last   time.Time
	)
	var sum float64
	for _, o := range obs {
		if !o.Timestamp.After(cutoff) {
			continue
		}
		if count == 0 {
			first = o.Timestamp
		}
		last = o.Timestamp
		count++
		total += o.Volume
		sum += float64(o.Volume)
		if o.Volume > maxOne {
			maxOne = o.Volume
		}
	}
	if count < params.MinRefreshCount || total < params.MinTotalVolume || count == 0 {
		return IcebergCandidate{}, false
	}

	mean := sum / float64(count)
	var variance float64
	for _, o := range obs {
		if !o.Timestamp.After(cutoff) {
			continue
		}
		d := float64(o.Volume) - mean
		variance += d * d
	}
	variance /= float64(count)
	std := math.Sqrt(variance)

	if mean <= 0 {
		return IcebergCandidate{}, false
	}
	cv := std / mean
	if cv > maxCV {
		return IcebergCandidate{}, false
	}

	refreshFactor := math.Min(float64(count)/refreshSaturation, 1)
	volumeFactor := 1.0
	if params.MinTotalVolume > 0 {
		volumeFactor = math.Min(float64(total)/float64(volumeSaturation*params.MinTotalVolume), 1)
	}
	consistencyFactor := 1 - cv

	score := weightRefresh*refreshFactor +
		weightVolume*volumeFactor +
		weightConsistency*consistencyFactor

	return IcebergCandidate{
		Price:         key.price,
		Side:          key.side,
		RefreshCount:  count,
		TotalVolume:   total,
		MeanVolume:    mean,
		VolumeStdDev:  std,
		Score:         score,
		Confidence:    confidenceTier(score),
		EstHiddenSize: estimateHiddenSize(total, maxOne, mean),
		FirstSeen:     first,
		LastSeen:      last,
	}, true
}

// crossValidateLocked checks whether recent executions at the candidate's
// price account for a majority of its observed volume. Caller holds b.mu.
func (b *Book) crossValidateLocked(cand *IcebergCandidate, cutoff time.Time) {
	var traded int64
	for _, t := range b.trades {
		if t.Timestamp.After(cutoff) && t.Price == cand.Price {
			traded += t.Volume
		}
	}
	if traded*2 > cand.TotalVolume {
		cand.CrossValidated = true
		cand.Score = math.Min(cand.Score+crossValidationBoost, 1)
		cand.Confidence = confidenceTier(cand.Score)
	}
}

func confidenceTier(score float64) IcebergConfidence {
	switch {
	case score >= 0.8:
		return IcebergVeryHigh
	case score >= 0.65:
		return IcebergHigh
	case score >= 0.45:
		return IcebergMedium
	}
	return IcebergLow
}

// estimateHiddenSize is deliberately conservative: the largest of 1.5x total
// observed volume, 5x the biggest single slice, or 10x the mean slice. It is
// a multiplier model, not a precise inference.
func estimateHiddenSize(total, maxOne int64, mean float64) int64 {
	est := total + total/2
	if v := maxOne * 5; v > est {
		est = v
	}
	if v := int64(mean * 10); v > est {
		est = v
	}
	return est
}
