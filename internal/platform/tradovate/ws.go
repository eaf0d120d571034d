package tradovate

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quantfarm/futuresbot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second

	// eventBuffer absorbs read-loop bursts without blocking the socket.
	eventBuffer = 1024
)

// TokenProvider returns a valid access token for the websocket auth frame.
type TokenProvider func(ctx context.Context) (string, error)

// wsCommand is a client-to-server frame.
type wsCommand struct {
	Event  string `json:"event"`
	Token  string `json:"token,omitempty"`
	Symbol string `json:"symbol,omitempty"`
}

// wsFrame is the server-to-client envelope. Only the fields for the tagged
// event type are populated.
type wsFrame struct {
	Event     string       `json:"event"`
	Symbol    string       `json:"symbol"`
	Price     float64      `json:"price"`
	Volume    int64        `json:"volume"`
	Bid       float64      `json:"bid"`
	Ask       float64      `json:"ask"`
	BidSize   int64        `json:"bidSize"`
	AskSize   int64        `json:"askSize"`
	Entries   []wsDepth    `json:"entries"`
	Order     *APIOrder    `json:"order"`
	Position  *APIPosition `json:"position"`
	Timestamp string       `json:"timestamp"`
}

type wsDepth struct {
	Type   string  `json:"type"` // bid, ask, trade, reset, sessionHigh, sessionLow
	Price  float64 `json:"price"`
	Volume int64   `json:"volume"`
}

// StreamClient is the websocket transport for real-time market data and
// account events. It implements domain.Stream: decoded events are delivered
// in arrival order on a single channel, and connection loss surfaces as
// FeedInterrupted/FeedResumed variants on that same channel so consumers see
// staleness in sequence with the data.
type StreamClient struct {
	wsURL  string
	tokens TokenProvider

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
	closed    bool

	// Subscriptions to restore on reconnect.
	subscriptions []string

	events chan domain.StreamEvent
	done   chan struct{}
}

// NewStreamClient creates a websocket client.
//
// wsURL is the streaming endpoint, e.g. "wss://md-demo.tradovateapi.com/v1/websocket".
func NewStreamClient(wsURL string, tokens TokenProvider) *StreamClient {
	return &StreamClient{
		wsURL:  wsURL,
		tokens: tokens,
		events: make(chan domain.StreamEvent, eventBuffer),
		done:   make(chan struct{}),
	}
}

// Connect dials the websocket, sends the auth frame, and starts the read and
// ping loops. Previously held subscriptions are restored.
func (w *StreamClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("tradovate/ws: %w", domain.ErrStreamClosed)
	}

	token, err := w.tokens(ctx)
	if err != nil {
		return fmt.Errorf("tradovate/ws: token: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("tradovate/ws: connect: %w", err)
	}
	w.conn = conn

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	if err := w.sendCommand(wsCommand{Event: "authorize", Token: token}); err != nil {
		conn.Close()
		w.conn = nil
		return fmt.Errorf("tradovate/ws: authorize: %w", err)
	}

	for _, symbol := range w.subscriptions {
		if err := w.sendCommand(wsCommand{Event: "subscribe", Symbol: symbol}); err != nil {
			conn.Close()
			w.conn = nil
			return fmt.Errorf("tradovate/ws: restore subscription %s: %w", symbol, err)
		}
	}

	w.connected = true
	go w.readLoop(conn)
	go w.pingLoop(conn)
	return nil
}

// Subscribe subscribes to market data and account events for one contract.
func (w *StreamClient) Subscribe(ctx context.Context, contract string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("tradovate/ws: subscribe %s: %w", contract, domain.ErrFeedInterrupted)
	}
	if err := w.sendCommand(wsCommand{Event: "subscribe", Symbol: contract}); err != nil {
		return fmt.Errorf("tradovate/ws: subscribe %s: %w", contract, err)
	}

	for _, s := range w.subscriptions {
		if s == contract {
			return nil
		}
	}
	w.subscriptions = append(w.subscriptions, contract)
	return nil
}

// IsConnected reports whether the socket is currently up.
func (w *StreamClient) IsConnected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}

// Events returns the delivery channel. The channel is never closed;
// consumers stop via their own context, and Close releases any delivery
// blocked on a full buffer.
func (w *StreamClient) Events() <-chan domain.StreamEvent {
	return w.events
}

// Close shuts down the connection and stops event delivery. The read loop
// may be blocked sending on the event channel when Close runs, so shutdown
// is signalled through done and the channel itself is left open.
func (w *StreamClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	w.connected = false
	close(w.done)

	var err error
	if w.conn != nil {
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		err = w.conn.Close()
		w.conn = nil
	}
	return err
}

// sendCommand sends a JSON frame. Caller must hold w.mu.
func (w *StreamClient) sendCommand(cmd wsCommand) error {
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop reads frames until the connection drops, then hands off to
// reconnect. It runs once per connection.
func (w *StreamClient) readLoop(conn *websocket.Conn) {
	for {
		select {
		case <-w.done:
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
				return
			default:
			}

			w.mu.Lock()
			w.connected = false
			w.mu.Unlock()

			w.deliver(domain.FeedInterruptedEvent{
				Reason:    err.Error(),
				Timestamp: time.Now().UTC(),
			})
			w.reconnect()
			return
		}

		w.handleMessage(message)
	}
}

// pingLoop keeps the connection alive. It stops when its connection dies.
func (w *StreamClient) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage decodes one frame and delivers the typed event. Unparseable
// or unknown frames are dropped.
func (w *StreamClient) handleMessage(raw []byte) {
	var frame wsFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return
	}

	ts := time.Now().UTC()
	if frame.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339Nano, frame.Timestamp); err == nil {
			ts = t.UTC()
		}
	}

	switch frame.Event {
	case "tick":
		w.deliver(domain.TickEvent{
			Contract:  frame.Symbol,
			Price:     domain.PriceFromFloat(frame.Price),
			Volume:    frame.Volume,
			Timestamp: ts,
		})
	case "quote":
		w.deliver(domain.QuoteEvent{
			Contract:  frame.Symbol,
			Bid:       domain.PriceFromFloat(frame.Bid),
			Ask:       domain.PriceFromFloat(frame.Ask),
			BidSize:   frame.BidSize,
			AskSize:   frame.AskSize,
			Timestamp: ts,
		})
	case "depth":
		entries := make([]domain.DepthEntry, 0, len(frame.Entries))
		for _, e := range frame.Entries {
			kind, ok := depthKind(e.Type)
			if !ok {
				continue
			}
			entries = append(entries, domain.DepthEntry{
				Kind:   kind,
				Price:  domain.PriceFromFloat(e.Price),
				Volume: e.Volume,
			})
		}
		if len(entries) == 0 {
			return
		}
		w.deliver(domain.DepthEvent{
			Contract:  frame.Symbol,
			Entries:   entries,
			Timestamp: ts,
		})
	case "order":
		if frame.Order == nil {
			return
		}
		w.deliver(domain.OrderUpdateEvent{
			Order:     frame.Order.ToDomainOrder(),
			Timestamp: ts,
		})
	case "position":
		if frame.Position == nil {
			return
		}
		w.deliver(domain.PositionUpdateEvent{
			Position:  frame.Position.ToDomainPosition(),
			Timestamp: ts,
		})
	}
}

func depthKind(t string) (domain.DepthKind, bool) {
	switch t {
	case "bid":
		return domain.DepthBid, true
	case "ask":
		return domain.DepthAsk, true
	case "trade":
		return domain.DepthTrade, true
	case "reset":
		return domain.DepthReset, true
	case "sessionHigh":
		return domain.DepthSessionHigh, true
	case "sessionLow":
		return domain.DepthSessionLow, true
	}
	return 0, false
}

// deliver pushes one event, blocking until the consumer takes it or the
// client shuts down. Blocking preserves arrival order under backpressure.
func (w *StreamClient) deliver(ev domain.StreamEvent) {
	select {
	case <-w.done:
	case w.events <- ev:
	}
}

// reconnect re-establishes the connection with exponential backoff. It
// blocks until successful or the client is closed, then announces resumption.
func (w *StreamClient) reconnect() {
	delay := reconnectDelay

	for {
		select {
		case <-w.done:
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := w.Connect(ctx)
		cancel()

		if err == nil {
			w.deliver(domain.FeedResumedEvent{Timestamp: time.Now().UTC()})
			return
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}
