package domain

import (
	"context"
	"time"
)

// StreamEvent is the closed set of events delivered by the venue stream.
// Each variant carries its own strongly typed fields; there is no open-ended
// keyed bag of values.
type StreamEvent interface {
	streamEvent()
	EventTime() time.Time
}

// TickEvent is one trade tick on a contract.
type TickEvent struct {
	Contract  string
	Price     Price
	Volume    int64
	Timestamp time.Time
}

// QuoteEvent is a top-of-book quote update.
type QuoteEvent struct {
	Contract  string
	Bid       Price
	Ask       Price
	BidSize   int64
	AskSize   int64
	Timestamp time.Time
}

// DepthEvent is one batch of Level-2 depth entries, applied atomically.
type DepthEvent struct {
	Contract  string
	Entries   []DepthEntry
	Timestamp time.Time
}

// OrderUpdateEvent is a venue-side order state change.
type OrderUpdateEvent struct {
	Order     Order
	Timestamp time.Time
}

// PositionUpdateEvent is a venue-reported position change.
type PositionUpdateEvent struct {
	Position  Position
	Timestamp time.Time
}

// FeedInterruptedEvent signals that the transport lost its connection. The
// transport owns reconnection; components only flag staleness.
type FeedInterruptedEvent struct {
	Reason    string
	Timestamp time.Time
}

// FeedResumedEvent signals that the transport re-established its connection.
type FeedResumedEvent struct {
	Timestamp time.Time
}

func (TickEvent) streamEvent()            {}
func (QuoteEvent) streamEvent()           {}
func (DepthEvent) streamEvent()           {}
func (OrderUpdateEvent) streamEvent()     {}
func (PositionUpdateEvent) streamEvent()  {}
func (FeedInterruptedEvent) streamEvent() {}
func (FeedResumedEvent) streamEvent()     {}

func (e TickEvent) EventTime() time.Time            { return e.Timestamp }
func (e QuoteEvent) EventTime() time.Time           { return e.Timestamp }
func (e DepthEvent) EventTime() time.Time           { return e.Timestamp }
func (e OrderUpdateEvent) EventTime() time.Time     { return e.Timestamp }
func (e PositionUpdateEvent) EventTime() time.Time  { return e.Timestamp }
func (e FeedInterruptedEvent) EventTime() time.Time { return e.Timestamp }
func (e FeedResumedEvent) EventTime() time.Time     { return e.Timestamp }

// Stream is the venue streaming transport boundary. Events are delivered in
// arrival order on a single channel; connection management is the
// transport's own business.
type Stream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, contract string) error
	IsConnected() bool
	Events() <-chan StreamEvent
	Close() error
}
