package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quantfarm/futuresbot/internal/domain"
)

const (
	// DefaultFlushInterval is how often buffered records are uploaded.
	DefaultFlushInterval = time.Minute

	// DefaultMaxBatch triggers an early flush when either buffer reaches it.
	DefaultMaxBatch = 5000
)

// tapeTrade is the archived form of one execution. Prices are fixed-point
// ticks, matching the engine's internal representation exactly.
type tapeTrade struct {
	Contract  string    `json:"contract"`
	Price     int64     `json:"price_ticks"`
	Volume    int64     `json:"volume"`
	Side      string    `json:"inferred_side"`
	Spread    int64     `json:"spread_ticks"`
	Mid       int64     `json:"mid_ticks"`
	Timestamp time.Time `json:"timestamp"`
}

// tapeBar is the archived form of one finalized bar.
type tapeBar struct {
	Contract  string    `json:"contract"`
	Timeframe string    `json:"timeframe"`
	OpenTime  time.Time `json:"open_time"`
	Open      int64     `json:"open_ticks"`
	High      int64     `json:"high_ticks"`
	Low       int64     `json:"low_ticks"`
	Close     int64     `json:"close_ticks"`
	Volume    int64     `json:"volume"`
}

// TapeArchiver implements domain.TapeArchiver. AddTrade and AddBar only
// append to in-memory buffers, so callers on the market data path never wait
// on the network; Run uploads the buffers as JSONL objects on an interval,
// or sooner when a buffer fills.
type TapeArchiver struct {
	writer *Writer
	logger *slog.Logger

	interval time.Duration
	maxBatch int

	mu     sync.Mutex
	trades []tapeTrade
	bars   []tapeBar
	kick   chan struct{}
}

// ArchiverConfig tunes batching. Zero values use the defaults.
type ArchiverConfig struct {
	FlushInterval time.Duration
	MaxBatch      int
}

// NewTapeArchiver creates a TapeArchiver that uploads through the writer.
func NewTapeArchiver(writer *Writer, cfg ArchiverConfig, logger *slog.Logger) *TapeArchiver {
	interval := cfg.FlushInterval
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	maxBatch := cfg.MaxBatch
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatch
	}
	return &TapeArchiver{
		writer:   writer,
		logger:   logger.With(slog.String("component", "tape_archiver")),
		interval: interval,
		maxBatch: maxBatch,
		kick:     make(chan struct{}, 1),
	}
}

// AddTrade buffers one execution.
func (a *TapeArchiver) AddTrade(contract string, t domain.TradeExecution) {
	a.mu.Lock()
	a.trades = append(a.trades, tapeTrade{
		Contract:  contract,
		Price:     int64(t.Price),
		Volume:    t.Volume,
		Side:      string(t.InferredSide),
		Spread:    int64(t.SpreadAtTrade),
		Mid:       int64(t.MidAtTrade),
		Timestamp: t.Timestamp,
	})
	full := len(a.trades) >= a.maxBatch
	a.mu.Unlock()

	if full {
		a.requestFlush()
	}
}

// AddBar buffers one finalized bar.
func (a *TapeArchiver) AddBar(contract string, b domain.Bar) {
	a.mu.Lock()
	a.bars = append(a.bars, tapeBar{
		Contract:  contract,
		Timeframe: b.Timeframe,
		OpenTime:  b.OpenTime,
		Open:      int64(b.Open),
		High:      int64(b.High),
		Low:       int64(b.Low),
		Close:     int64(b.Close),
		Volume:    b.Volume,
	})
	full := len(a.bars) >= a.maxBatch
	a.mu.Unlock()

	if full {
		a.requestFlush()
	}
}

func (a *TapeArchiver) requestFlush() {
	select {
	case a.kick <- struct{}{}:
	default:
	}
}

// Run flushes on the configured interval until the context is cancelled,
// then performs a final flush with a short grace period.
func (a *TapeArchiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.logger.Info("tape archiver started", slog.Duration("interval", a.interval))
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			a.flush(flushCtx)
			cancel()
			a.logger.Info("tape archiver stopped")
			return ctx.Err()
		case <-ticker.C:
			a.flush(ctx)
		case <-a.kick:
			a.flush(ctx)
		}
	}
}

// flush uploads and clears both buffers. A failed upload puts the records
// back so the next flush retries them.
func (a *TapeArchiver) flush(ctx context.Context) {
	a.mu.Lock()
	trades := a.trades
	bars := a.bars
	a.trades = nil
	a.bars = nil
	a.mu.Unlock()

	now := time.Now().UTC()
	if len(trades) > 0 {
		if err := upload(ctx, a.writer, tapeKey("trades", now), trades); err != nil {
			a.logger.Warn("trade tape flush failed",
				slog.Int("records", len(trades)),
				slog.String("error", err.Error()),
			)
			a.restoreTrades(trades)
		} else {
			a.logger.Debug("trade tape flushed", slog.Int("records", len(trades)))
		}
	}
	if len(bars) > 0 {
		if err := upload(ctx, a.writer, tapeKey("bars", now), bars); err != nil {
			a.logger.Warn("bar tape flush failed",
				slog.Int("records", len(bars)),
				slog.String("error", err.Error()),
			)
			a.restoreBars(bars)
		} else {
			a.logger.Debug("bar tape flushed", slog.Int("records", len(bars)))
		}
	}
}

func (a *TapeArchiver) restoreTrades(trades []tapeTrade) {
	a.mu.Lock()
	a.trades = append(trades, a.trades...)
	a.mu.Unlock()
}

func (a *TapeArchiver) restoreBars(bars []tapeBar) {
	a.mu.Lock()
	a.bars = append(bars, a.bars...)
	a.mu.Unlock()
}

func upload[T any](ctx context.Context, w *Writer, key string, records []T) error {
	buf, err := marshalJSONL(records)
	if err != nil {
		return err
	}
	return w.PutTape(ctx, key, buf)
}

// tapeKey builds the object key, partitioned by day:
//
//	tape/trades/2026-03-12/143000.000000000.jsonl
func tapeKey(kind string, now time.Time) string {
	return fmt.Sprintf("tape/%s/%s/%s.jsonl",
		kind, now.Format("2006-01-02"), now.Format("150405.000000000"))
}

// marshalJSONL serialises a slice as newline-delimited JSON, one compact
// line per record.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.TapeArchiver = (*TapeArchiver)(nil)
