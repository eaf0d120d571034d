package domain

import (
	"fmt"
	"time"
)

// Timeframe is a parsed bar interval. Label keeps the caller's original
// spelling so series lookups round-trip exactly.
type Timeframe struct {
	Label  string
	Bucket time.Duration
}

// ParseTimeframe parses labels like "30s", "1m", "5min", "1h", "1d".
func ParseTimeframe(label string) (Timeframe, error) {
	var n int
	var unit string
	if _, err := fmt.Sscanf(label, "%d%s", &n, &unit); err != nil {
		return Timeframe{}, fmt.Errorf("%w: %q", ErrInvalidTimeframe, label)
	}
	if n <= 0 {
		return Timeframe{}, fmt.Errorf("%w: %q: interval must be positive", ErrInvalidTimeframe, label)
	}

	var base time.Duration
	switch unit {
	case "s", "sec":
		base = time.Second
	case "m", "min":
		base = time.Minute
	case "h", "hour":
		base = time.Hour
	case "d", "day":
		base = 24 * time.Hour
	default:
		return Timeframe{}, fmt.Errorf("%w: %q: unknown unit %q", ErrInvalidTimeframe, label, unit)
	}

	return Timeframe{Label: label, Bucket: time.Duration(n) * base}, nil
}

// BucketStart floors a timestamp to the containing bucket boundary, in UTC.
// The same timestamp and timeframe always yield the same boundary.
func (tf Timeframe) BucketStart(t time.Time) time.Time {
	return t.UTC().Truncate(tf.Bucket)
}

// Bar is one OHLCV bar. OpenTime is the bucket boundary.
type Bar struct {
	Timeframe string
	OpenTime  time.Time
	Open      Price
	High      Price
	Low       Price
	Close     Price
	Volume    int64
}

// Update folds one tick into the bar.
func (b *Bar) Update(price Price, volume int64) {
	if price > b.High {
		b.High = price
	}
	if price < b.Low {
		b.Low = price
	}
	b.Close = price
	b.Volume += volume
}

// Valid reports the OHLC ordering invariant: Low <= Open, Close <= High.
func (b Bar) Valid() bool {
	return b.Low <= b.Open && b.Open <= b.High &&
		b.Low <= b.Close && b.Close <= b.High &&
		b.Low <= b.High
}
