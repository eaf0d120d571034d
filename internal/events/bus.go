// Package events provides the typed in-process event bus that the engine
// components publish their domain events on. Each component owns its own Bus
// instance; there is no process-global registry.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/quantfarm/futuresbot/internal/domain"
)

// Type keys listener registration.
type Type string

const (
	TypeNewBar         Type = "new_bar"
	TypeTickProcessed  Type = "tick_processed"
	TypeDepthProcessed Type = "depth_processed"
	TypeOrderUpdate    Type = "order_update"
	TypePositionClosed Type = "position_closed"
)

// NewBar is published when a timeframe rolls to a new bucket. Bar is the
// just-opened bar; Finalized is the completed previous bar when one exists.
type NewBar struct {
	Contract  string
	Timeframe string
	Bar       domain.Bar
	Finalized *domain.Bar
}

// TickProcessed is published after every ingested tick.
type TickProcessed struct {
	Contract  string
	Price     domain.Price
	Volume    int64
	Timestamp time.Time
}

// DepthProcessed is published after a depth batch has been fully applied.
type DepthProcessed struct {
	Contract    string
	UpdateCount int
	Timestamp   time.Time
}

// OrderUpdate is published for every accepted order state transition.
type OrderUpdate struct {
	Order domain.Order
}

// PositionClosed is published when a tracked contract's position returns to
// flat and its bracket siblings have been cancelled.
type PositionClosed struct {
	Contract string
}

// Bus dispatches events to listeners registered per event type. Listeners
// run synchronously in registration order; a panicking listener is recovered
// and logged so later listeners still run.
type Bus struct {
	mu        sync.RWMutex
	listeners map[Type][]func(any)
	logger    *slog.Logger
}

// New creates an empty Bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		listeners: make(map[Type][]func(any)),
		logger:    logger.With(slog.String("component", "event_bus")),
	}
}

func (b *Bus) subscribe(t Type, fn func(any)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[t] = append(b.listeners[t], fn)
}

func (b *Bus) publish(t Type, payload any) {
	b.mu.RLock()
	listeners := b.listeners[t]
	b.mu.RUnlock()

	for _, fn := range listeners {
		b.invoke(t, fn, payload)
	}
}

func (b *Bus) invoke(t Type, fn func(any), payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("listener panicked",
				slog.String("event_type", string(t)),
				slog.Any("panic", r),
			)
		}
	}()
	fn(payload)
}

// OnNewBar registers a listener for bar rollovers.
func (b *Bus) OnNewBar(fn func(NewBar)) {
	b.subscribe(TypeNewBar, func(p any) {
		if e, ok := p.(NewBar); ok {
			fn(e)
		}
	})
}

// OnTickProcessed registers a listener for processed ticks.
func (b *Bus) OnTickProcessed(fn func(TickProcessed)) {
	b.subscribe(TypeTickProcessed, func(p any) {
		if e, ok := p.(TickProcessed); ok {
			fn(e)
		}
	})
}

// OnDepthProcessed registers a listener for applied depth batches.
func (b *Bus) OnDepthProcessed(fn func(DepthProcessed)) {
	b.subscribe(TypeDepthProcessed, func(p any) {
		if e, ok := p.(DepthProcessed); ok {
			fn(e)
		}
	})
}

// OnOrderUpdate registers a listener for order state transitions.
func (b *Bus) OnOrderUpdate(fn func(OrderUpdate)) {
	b.subscribe(TypeOrderUpdate, func(p any) {
		if e, ok := p.(OrderUpdate); ok {
			fn(e)
		}
	})
}

// OnPositionClosed registers a listener for position flattening.
func (b *Bus) OnPositionClosed(fn func(PositionClosed)) {
	b.subscribe(TypePositionClosed, func(p any) {
		if e, ok := p.(PositionClosed); ok {
			fn(e)
		}
	})
}

// PublishNewBar dispatches a NewBar event.
func (b *Bus) PublishNewBar(e NewBar) { b.publish(TypeNewBar, e) }

// PublishTickProcessed dispatches a TickProcessed event.
func (b *Bus) PublishTickProcessed(e TickProcessed) { b.publish(TypeTickProcessed, e) }

// PublishDepthProcessed dispatches a DepthProcessed event.
func (b *Bus) PublishDepthProcessed(e DepthProcessed) { b.publish(TypeDepthProcessed, e) }

// PublishOrderUpdate dispatches an OrderUpdate event.
func (b *Bus) PublishOrderUpdate(e OrderUpdate) { b.publish(TypeOrderUpdate, e) }

// PublishPositionClosed dispatches a PositionClosed event.
func (b *Bus) PublishPositionClosed(e PositionClosed) { b.publish(TypePositionClosed, e) }
