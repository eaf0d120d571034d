package marketdata

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfarm/futuresbot/internal/domain"
	"github.com/quantfarm/futuresbot/internal/events"
)

// fakeHistory serves canned seed bars per timeframe label.
type fakeHistory struct {
	bars map[string][]domain.Bar
	errs map[string]error
}

func (f *fakeHistory) Bars(_ context.Context, _ string, tf domain.Timeframe, _ int) ([]domain.Bar, error) {
	if err := f.errs[tf.Label]; err != nil {
		return nil, err
	}
	return f.bars[tf.Label], nil
}

func mustTimeframe(t *testing.T, label string) domain.Timeframe {
	t.Helper()
	tf, err := domain.ParseTimeframe(label)
	require.NoError(t, err)
	return tf
}

func seedBars(tf string, start time.Time, bucket time.Duration, n int) []domain.Bar {
	bars := make([]domain.Bar, 0, n)
	for i := 0; i < n; i++ {
		p := domain.PriceFromFloat(100 + float64(i))
		bars = append(bars, domain.Bar{
			Timeframe: tf,
			OpenTime:  start.Add(time.Duration(i) * bucket),
			Open:      p, High: p, Low: p, Close: p,
			Volume: 10,
		})
	}
	return bars
}

func newTestAggregator(t *testing.T, hist domain.HistoricalSource, cfg Config) (*Aggregator, *events.Bus) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := events.New(logger)
	if cfg.Contract == "" {
		cfg.Contract = "MESU6"
	}
	return New(cfg, hist, bus, logger), bus
}

func TestInitializeFailsClosed(t *testing.T) {
	hist := &fakeHistory{
		bars: map[string][]domain.Bar{"1min": nil},
		errs: map[string]error{"5min": errors.New("venue 500")},
	}
	agg, _ := newTestAggregator(t, hist, Config{
		Timeframes: []domain.Timeframe{mustTimeframe(t, "1min"), mustTimeframe(t, "5min")},
	})

	err := agg.Initialize(context.Background(), 3)
	require.Error(t, err)
	assert.False(t, agg.Initialized())
}

func TestSeedThenTicksScenario(t *testing.T) {
	// Seed one 1min timeframe with 3 bars, ingest 4 ticks spanning into a
	// 4th minute bucket: Bars must return exactly 4 bars with the last one
	// open and holding only the 4th tick's values.
	start := time.Date(2026, 8, 28, 13, 30, 0, 0, time.UTC)
	hist := &fakeHistory{bars: map[string][]domain.Bar{
		"1min": seedBars("1min", start, time.Minute, 3),
	}}
	agg, _ := newTestAggregator(t, hist, Config{
		Timeframes: []domain.Timeframe{mustTimeframe(t, "1min")},
	})
	require.NoError(t, agg.Initialize(context.Background(), 1))

	inThird := start.Add(2*time.Minute + 10*time.Second)
	agg.IngestTick(domain.PriceFromFloat(103.5), 1, inThird)
	agg.IngestTick(domain.PriceFromFloat(102.5), 2, inThird.Add(5*time.Second))
	agg.IngestTick(domain.PriceFromFloat(104.0), 1, inThird.Add(20*time.Second))

	fourth := start.Add(3*time.Minute + 1*time.Second)
	agg.IngestTick(domain.PriceFromFloat(105.0), 7, fourth)

	bars := agg.Bars("1min", 10)
	require.Len(t, bars, 4)

	last := bars[3]
	assert.Equal(t, start.Add(3*time.Minute), last.OpenTime)
	assert.Equal(t, domain.PriceFromFloat(105.0), last.Open)
	assert.Equal(t, domain.PriceFromFloat(105.0), last.High)
	assert.Equal(t, domain.PriceFromFloat(105.0), last.Low)
	assert.Equal(t, domain.PriceFromFloat(105.0), last.Close)
	assert.Equal(t, int64(7), last.Volume)

	// The 3rd bar absorbed the first three ticks.
	third := bars[2]
	assert.Equal(t, domain.PriceFromFloat(104.0), third.High)
	assert.Equal(t, domain.PriceFromFloat(102.0), third.Open)
	assert.Equal(t, int64(14), third.Volume)
}

func TestBarInvariantAndSpacing(t *testing.T) {
	hist := &fakeHistory{bars: map[string][]domain.Bar{"1min": nil}}
	agg, _ := newTestAggregator(t, hist, Config{
		Timeframes: []domain.Timeframe{mustTimeframe(t, "1min")},
	})
	require.NoError(t, agg.Initialize(context.Background(), 0))

	start := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	prices := []float64{100, 101.5, 99.25, 100.75, 103, 98.5, 99, 102.25}
	for i, p := range prices {
		ts := start.Add(time.Duration(i) * 37 * time.Second)
		agg.IngestTick(domain.PriceFromFloat(p), 1, ts)
	}

	bars := agg.Bars("1min", 100)
	require.NotEmpty(t, bars)
	for i, b := range bars {
		assert.True(t, b.Valid(), "bar %d violates OHLC invariant", i)
		if i > 0 {
			assert.Equal(t, time.Minute, b.OpenTime.Sub(bars[i-1].OpenTime),
				"bar open times must be strictly increasing with fixed spacing")
		}
	}
}

func TestBucketDeterminism(t *testing.T) {
	start := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	type tick struct {
		p float64
		v int64
		d time.Duration
	}
	ticks := []tick{
		{100, 1, 0}, {101, 2, 40 * time.Second}, {99, 1, 70 * time.Second},
		{102, 3, 130 * time.Second}, {101.5, 1, 190 * time.Second},
	}

	run := func() []domain.Bar {
		hist := &fakeHistory{bars: map[string][]domain.Bar{"1min": nil, "5min": nil}}
		agg, _ := newTestAggregator(t, hist, Config{
			Timeframes: []domain.Timeframe{mustTimeframe(t, "1min"), mustTimeframe(t, "5min")},
		})
		require.NoError(t, agg.Initialize(context.Background(), 0))
		for _, tk := range ticks {
			agg.IngestTick(domain.PriceFromFloat(tk.p), tk.v, start.Add(tk.d))
		}
		return append(agg.Bars("1min", 100), agg.Bars("5min", 100)...)
	}

	assert.Equal(t, run(), run())
}

func TestEvictionDropsOldestHalf(t *testing.T) {
	hist := &fakeHistory{bars: map[string][]domain.Bar{"1min": nil}}
	agg, _ := newTestAggregator(t, hist, Config{
		Timeframes: []domain.Timeframe{mustTimeframe(t, "1min")},
		MaxBars:    10,
	})
	require.NoError(t, agg.Initialize(context.Background(), 0))

	start := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 15; i++ {
		agg.IngestTick(domain.PriceFromFloat(100), 1, start.Add(time.Duration(i)*time.Minute))
	}

	// 14 finalized bars exceeded the cap of 10 once, dropping the oldest
	// half; the current open bar rides on top.
	bars := agg.Bars("1min", 100)
	assert.LessOrEqual(t, len(bars), 11)
	for i := 1; i < len(bars); i++ {
		assert.True(t, bars[i].OpenTime.After(bars[i-1].OpenTime))
	}
}

func TestNewBarEventsEmitted(t *testing.T) {
	hist := &fakeHistory{bars: map[string][]domain.Bar{"1min": nil}}
	agg, bus := newTestAggregator(t, hist, Config{
		Timeframes: []domain.Timeframe{mustTimeframe(t, "1min")},
	})
	require.NoError(t, agg.Initialize(context.Background(), 0))

	var rolls []events.NewBar
	bus.OnNewBar(func(e events.NewBar) { rolls = append(rolls, e) })

	start := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	agg.IngestTick(domain.PriceFromFloat(100), 1, start)
	agg.IngestTick(domain.PriceFromFloat(101), 1, start.Add(30*time.Second))
	agg.IngestTick(domain.PriceFromFloat(102), 1, start.Add(61*time.Second))

	require.Len(t, rolls, 2)
	assert.Nil(t, rolls[0].Finalized)
	require.NotNil(t, rolls[1].Finalized)
	assert.Equal(t, domain.PriceFromFloat(101), rolls[1].Finalized.Close)
	assert.Equal(t, domain.PriceFromFloat(102), rolls[1].Bar.Open)
}

func TestCurrentPriceTracksQuotesAndTicks(t *testing.T) {
	hist := &fakeHistory{bars: map[string][]domain.Bar{"1min": nil}}
	agg, _ := newTestAggregator(t, hist, Config{
		Timeframes: []domain.Timeframe{mustTimeframe(t, "1min")},
	})
	require.NoError(t, agg.Initialize(context.Background(), 0))

	_, ok := agg.CurrentPrice()
	assert.False(t, ok)

	now := time.Now().UTC()
	agg.IngestTick(domain.PriceFromFloat(100), 1, now)
	p, ok := agg.CurrentPrice()
	require.True(t, ok)
	assert.Equal(t, domain.PriceFromFloat(100), p)

	agg.IngestQuote(domain.PriceFromFloat(100), domain.PriceFromFloat(101), now)
	p, _ = agg.CurrentPrice()
	assert.Equal(t, domain.PriceFromFloat(100.5), p)
}
