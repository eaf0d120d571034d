// Package orders tracks live orders and positions: submission with tick
// alignment, bracket-order linkage, the one-way status machine, and
// automatic cancellation of orphaned protective orders when a position
// returns to flat.
package orders

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantfarm/futuresbot/internal/domain"
	"github.com/quantfarm/futuresbot/internal/events"
)

// PlaceRequest is the caller-facing order submission.
type PlaceRequest struct {
	Contract   string
	Side       domain.OrderSide
	Size       int64
	Type       domain.OrderType
	LimitPrice domain.Price
	StopPrice  domain.Price
	ReduceOnly bool
}

// BracketEntry describes the entry leg of a bracket order.
type BracketEntry struct {
	Type       domain.OrderType // market or limit
	LimitPrice domain.Price     // required for limit entries
}

// BracketRequest is the caller-facing bracket submission. Stop and target
// prices are optional; a zero price skips that leg.
type BracketRequest struct {
	Contract    string
	Side        domain.OrderSide
	Size        int64
	Entry       BracketEntry
	StopPrice   domain.Price
	TargetPrice domain.Price
}

// BracketResult reports which legs were placed. When Partial is true the
// entry succeeded but one or both protective legs failed; the entry is NOT
// cancelled automatically — the remedy depends on strategy intent and is the
// caller's responsibility.
type BracketResult struct {
	Contract      string
	EntryOrderID  string
	StopOrderID   string
	TargetOrderID string
	Partial       bool
	StopError     string
	TargetError   string
}

// Coordinator owns the order and position view for one account. A single
// exclusive lock serializes all order-mutating calls, so two concurrent
// bracket placements can never interleave their entry/stop/target sub-steps.
// Status reads go through a separate cache lock and never contend with
// mutations.
type Coordinator struct {
	mu sync.Mutex // serializes order mutations and bracket bookkeeping

	cacheMu  sync.RWMutex
	orders   map[string]domain.Order // active + recently terminal, by venue id
	brackets map[string]domain.BracketGroup

	waiters map[string][]*statusWaiter

	api         domain.OrderAPI
	instruments domain.InstrumentSource
	instCache   map[string]domain.Instrument

	journal domain.OrderJournal // optional, best-effort history
	bus     *events.Bus
	logger  *slog.Logger

	inconsistencies int64
	interrupted     bool
}

type statusWaiter struct {
	target   domain.OrderStatus
	terminal bool // any terminal status satisfies the wait
	ch       chan domain.OrderStatus
}

// New creates a Coordinator. The journal may be nil.
func New(api domain.OrderAPI, instruments domain.InstrumentSource, journal domain.OrderJournal, bus *events.Bus, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		orders:      make(map[string]domain.Order),
		brackets:    make(map[string]domain.BracketGroup),
		waiters:     make(map[string][]*statusWaiter),
		api:         api,
		instruments: instruments,
		instCache:   make(map[string]domain.Instrument),
		journal:     journal,
		bus:         bus,
		logger:      logger.With(slog.String("component", "orders")),
	}
}

// PlaceOrder validates, tick-aligns, and submits one order. It returns the
// tracked order on success, a *domain.ValidationError before any network
// call for bad input, or a *domain.SubmissionError when the venue rejects.
func (c *Coordinator) PlaceOrder(ctx context.Context, req PlaceRequest) (domain.Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.placeOrderLocked(ctx, req)
}

func (c *Coordinator) placeOrderLocked(ctx context.Context, req PlaceRequest) (domain.Order, error) {
	if err := validateRequest(req); err != nil {
		return domain.Order{}, err
	}

	inst, err := c.instrumentLocked(ctx, req.Contract)
	if err != nil {
		return domain.Order{}, fmt.Errorf("orders: instrument %s: %w", req.Contract, err)
	}

	oreq := domain.OrderRequest{
		ClientID:   uuid.NewString(),
		Contract:   req.Contract,
		Side:       req.Side,
		Size:       req.Size,
		Type:       req.Type,
		LimitPrice: req.LimitPrice.Align(inst.TickSize),
		StopPrice:  req.StopPrice.Align(inst.TickSize),
		ReduceOnly: req.ReduceOnly,
	}

	ack, err := c.api.Submit(ctx, oreq)
	if err != nil {
		return domain.Order{}, &domain.SubmissionError{Op: "submit", Err: err}
	}
	if !ack.Accepted {
		return domain.Order{}, &domain.SubmissionError{Op: "submit", Reason: ack.Reason}
	}

	now := time.Now().UTC()
	order := domain.Order{
		ID:         ack.OrderID,
		ClientID:   oreq.ClientID,
		Contract:   req.Contract,
		Side:       req.Side,
		Size:       req.Size,
		Type:       req.Type,
		Status:     domain.OrderStatusSubmitted,
		LimitPrice: oreq.LimitPrice,
		StopPrice:  oreq.StopPrice,
		ReduceOnly: req.ReduceOnly,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	c.cacheMu.Lock()
	c.orders[order.ID] = order
	c.cacheMu.Unlock()

	c.journalOrder(ctx, order)
	c.logger.Info("order placed",
		slog.String("order_id", order.ID),
		slog.String("contract", order.Contract),
		slog.String("side", string(order.Side)),
		slog.Int64("size", order.Size),
		slog.String("type", string(order.Type)),
	)
	return order, nil
}

func validateRequest(req PlaceRequest) error {
	if req.Contract == "" {
		return &domain.ValidationError{Field: "contract", Reason: "required"}
	}
	if req.Size <= 0 {
		return &domain.ValidationError{Field: "size", Reason: "must be positive"}
	}
	switch req.Type {
	case domain.OrderTypeLimit:
		if req.LimitPrice <= 0 {
			return &domain.ValidationError{Field: "limit_price", Reason: "required for limit orders"}
		}
	case domain.OrderTypeStop:
		if req.StopPrice <= 0 {
			return &domain.ValidationError{Field: "stop_price", Reason: "required for stop orders"}
		}
	case domain.OrderTypeMarket:
	default:
		return &domain.ValidationError{Field: "type", Reason: fmt.Sprintf("unknown order type %q", req.Type)}
	}
	if req.Side != domain.OrderSideBuy && req.Side != domain.OrderSideSell {
		return &domain.ValidationError{Field: "side", Reason: fmt.Sprintf("unknown side %q", req.Side)}
	}
	return nil
}

// PlaceBracketOrder places the entry first; only on entry success does it
// place the protective stop, then the target, both on the opposite side and
// reduce-only. Entry failure returns an error with nothing placed. A failed
// protective leg yields a partial-success result; the entry stays working.
func (c *Coordinator) PlaceBracketOrder(ctx context.Context, req BracketRequest) (BracketResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, err := c.placeOrderLocked(ctx, PlaceRequest{
		Contract:   req.Contract,
		Side:       req.Side,
		Size:       req.Size,
		Type:       req.Entry.Type,
		LimitPrice: req.Entry.LimitPrice,
	})
	if err != nil {
		return BracketResult{}, fmt.Errorf("orders: bracket entry: %w", err)
	}

	res := BracketResult{Contract: req.Contract, EntryOrderID: entry.ID}
	group := domain.BracketGroup{Contract: req.Contract, EntryOrderID: entry.ID}

	if req.StopPrice > 0 {
		stop, err := c.placeOrderLocked(ctx, PlaceRequest{
			Contract:   req.Contract,
			Side:       req.Side.Opposite(),
			Size:       req.Size,
			Type:       domain.OrderTypeStop,
			StopPrice:  req.StopPrice,
			ReduceOnly: true,
		})
		if err != nil {
			res.Partial = true
			res.StopError = err.Error()
			c.logger.Warn("bracket stop leg failed",
				slog.String("entry_id", entry.ID),
				slog.String("error", err.Error()),
			)
		} else {
			res.StopOrderID = stop.ID
			group.StopOrderID = stop.ID
		}
	}

	if req.TargetPrice > 0 {
		target, err := c.placeOrderLocked(ctx, PlaceRequest{
			Contract:   req.Contract,
			Side:       req.Side.Opposite(),
			Size:       req.Size,
			Type:       domain.OrderTypeLimit,
			LimitPrice: req.TargetPrice,
			ReduceOnly: true,
		})
		if err != nil {
			res.Partial = true
			res.TargetError = err.Error()
			c.logger.Warn("bracket target leg failed",
				slog.String("entry_id", entry.ID),
				slog.String("error", err.Error()),
			)
		} else {
			res.TargetOrderID = target.ID
			group.TargetOrderID = target.ID
		}
	}

	c.cacheMu.Lock()
	c.brackets[req.Contract] = group
	c.cacheMu.Unlock()

	return res, nil
}

// CancelOrder requests cancellation of one order at the venue.
func (c *Coordinator) CancelOrder(ctx context.Context, orderID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelLocked(ctx, orderID)
}

func (c *Coordinator) cancelLocked(ctx context.Context, orderID string) error {
	if err := c.api.Cancel(ctx, orderID); err != nil {
		return &domain.SubmissionError{Op: "cancel", Err: err}
	}
	c.logger.Info("cancel requested", slog.String("order_id", orderID))
	return nil
}

// ModifyOrder updates an order's prices and/or size, re-aligning any
// provided price to the instrument tick size before sending.
func (c *Coordinator) ModifyOrder(ctx context.Context, orderID string, mod domain.OrderModification) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if mod.Size < 0 {
		return &domain.ValidationError{Field: "size", Reason: "must be positive"}
	}

	c.cacheMu.RLock()
	order, ok := c.orders[orderID]
	c.cacheMu.RUnlock()
	if !ok {
		return fmt.Errorf("orders: modify %s: %w", orderID, domain.ErrNotFound)
	}

	inst, err := c.instrumentLocked(ctx, order.Contract)
	if err != nil {
		return fmt.Errorf("orders: instrument %s: %w", order.Contract, err)
	}
	if mod.LimitPrice > 0 {
		mod.LimitPrice = mod.LimitPrice.Align(inst.TickSize)
	}
	if mod.StopPrice > 0 {
		mod.StopPrice = mod.StopPrice.Align(inst.TickSize)
	}

	if err := c.api.Modify(ctx, orderID, mod); err != nil {
		return &domain.SubmissionError{Op: "modify", Err: err}
	}
	c.logger.Info("modify requested", slog.String("order_id", orderID))
	return nil
}

// OnOrderUpdate applies a streamed order event to the local cache after
// checking the status machine. Impossible transitions are dropped and
// counted rather than applied, so one malformed update cannot corrupt the
// order view.
func (c *Coordinator) OnOrderUpdate(update domain.Order) {
	c.cacheMu.Lock()
	prev, tracked := c.orders[update.ID]
	if tracked && prev.Status != update.Status && !prev.Status.CanTransitionTo(update.Status) {
		c.inconsistencies++
		c.cacheMu.Unlock()
		c.logger.Warn("dropped inconsistent order update",
			slog.String("order_id", update.ID),
			slog.String("from", string(prev.Status)),
			slog.String("to", string(update.Status)),
		)
		return
	}
	if tracked {
		// Keep locally known fields the stream does not carry.
		if update.ClientID == "" {
			update.ClientID = prev.ClientID
		}
		if update.CreatedAt.IsZero() {
			update.CreatedAt = prev.CreatedAt
		}
	}
	update.UpdatedAt = time.Now().UTC()
	c.orders[update.ID] = update
	waiters := c.waiters[update.ID]
	if update.Status.IsTerminal() {
		delete(c.waiters, update.ID)
	}
	c.cacheMu.Unlock()

	for _, w := range waiters {
		if w.target == update.Status || (w.terminal && update.Status.IsTerminal()) {
			select {
			case w.ch <- update.Status:
			default:
			}
		}
	}

	c.journalOrder(context.Background(), update)
	if tracked && update.FilledVolume > prev.FilledVolume {
		c.journalFill(context.Background(), update, update.FilledVolume-prev.FilledVolume)
	}
	c.bus.PublishOrderUpdate(events.OrderUpdate{Order: update})
}

// OnPositionUpdate reacts to venue position changes. When a tracked
// contract goes flat, every bracket sibling still working is cancelled and
// the group is removed; a second flat update for the same contract finds no
// group and issues nothing.
func (c *Coordinator) OnPositionUpdate(ctx context.Context, pos domain.Position) {
	if !pos.IsFlat() {
		return
	}

	c.mu.Lock()
	c.cacheMu.RLock()
	group, ok := c.brackets[pos.Contract]
	c.cacheMu.RUnlock()
	if !ok {
		c.mu.Unlock()
		return
	}

	for _, id := range group.Siblings() {
		c.cacheMu.RLock()
		o, tracked := c.orders[id]
		c.cacheMu.RUnlock()
		if tracked && o.Status.IsTerminal() {
			continue
		}
		if err := c.cancelLocked(ctx, id); err != nil {
			c.logger.Warn("sibling cancel failed",
				slog.String("order_id", id),
				slog.String("contract", pos.Contract),
				slog.String("error", err.Error()),
			)
		}
	}

	c.cacheMu.Lock()
	delete(c.brackets, pos.Contract)
	c.cacheMu.Unlock()
	c.mu.Unlock()

	c.logger.Info("position flat, bracket siblings cancelled",
		slog.String("contract", pos.Contract),
	)
	c.bus.PublishPositionClosed(events.PositionClosed{Contract: pos.Contract})
}

// SearchOpenOrders returns tracked non-terminal orders, optionally filtered
// by contract. It reads only the cache and never blocks on the mutation lock.
func (c *Coordinator) SearchOpenOrders(contract string) []domain.Order {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()

	var out []domain.Order
	for _, o := range c.orders {
		if o.Status.IsTerminal() {
			continue
		}
		if contract != "" && o.Contract != contract {
			continue
		}
		out = append(out, o)
	}
	return out
}

// IsOrderFilled consults the local cache first and falls back to a direct
// venue query on a miss.
func (c *Coordinator) IsOrderFilled(ctx context.Context, orderID string) (bool, error) {
	c.cacheMu.RLock()
	o, ok := c.orders[orderID]
	c.cacheMu.RUnlock()
	if ok {
		return o.Status == domain.OrderStatusFilled, nil
	}

	o, err := c.api.Order(ctx, orderID)
	if err != nil {
		return false, fmt.Errorf("orders: query %s: %w", orderID, err)
	}
	return o.Status == domain.OrderStatusFilled, nil
}

// BracketGroup returns the active group for a contract, if any.
func (c *Coordinator) BracketGroup(contract string) (domain.BracketGroup, bool) {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()
	g, ok := c.brackets[contract]
	return g, ok
}

// WaitForStatus blocks until the order reaches the given status or the
// timeout elapses. Timing out leaves the order's last known status untouched
// and returns domain.ErrWaitTimeout.
func (c *Coordinator) WaitForStatus(ctx context.Context, orderID string, status domain.OrderStatus, timeout time.Duration) error {
	return c.wait(ctx, orderID, &statusWaiter{target: status, ch: make(chan domain.OrderStatus, 1)}, timeout,
		func(s domain.OrderStatus) bool { return s == status })
}

// WaitForTerminal blocks until the order reaches any terminal status or the
// timeout elapses.
func (c *Coordinator) WaitForTerminal(ctx context.Context, orderID string, timeout time.Duration) (domain.OrderStatus, error) {
	w := &statusWaiter{terminal: true, ch: make(chan domain.OrderStatus, 1)}
	if err := c.wait(ctx, orderID, w, timeout, func(s domain.OrderStatus) bool { return s.IsTerminal() }); err != nil {
		return "", err
	}
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()
	return c.orders[orderID].Status, nil
}

func (c *Coordinator) wait(ctx context.Context, orderID string, w *statusWaiter, timeout time.Duration, done func(domain.OrderStatus) bool) error {
	c.cacheMu.Lock()
	if o, ok := c.orders[orderID]; ok && done(o.Status) {
		c.cacheMu.Unlock()
		return nil
	}
	c.waiters[orderID] = append(c.waiters[orderID], w)
	c.cacheMu.Unlock()

	defer c.removeWaiter(orderID, w)

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return domain.ErrWaitTimeout
	case <-w.ch:
		return nil
	}
}

func (c *Coordinator) removeWaiter(orderID string, w *statusWaiter) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	ws := c.waiters[orderID]
	for i, cur := range ws {
		if cur == w {
			c.waiters[orderID] = append(ws[:i], ws[i+1:]...)
			break
		}
	}
	if len(c.waiters[orderID]) == 0 {
		delete(c.waiters, orderID)
	}
}

// Inconsistencies returns how many impossible order transitions were dropped.
func (c *Coordinator) Inconsistencies() int64 {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()
	return c.inconsistencies
}

// SetInterrupted flags the order stream as disconnected or restored.
func (c *Coordinator) SetInterrupted(interrupted bool) {
	c.cacheMu.Lock()
	c.interrupted = interrupted
	c.cacheMu.Unlock()
	if interrupted {
		c.logger.Warn("order feed interrupted, cached statuses may be stale")
	} else {
		c.logger.Info("order feed restored")
	}
}

// Stale reports whether cached statuses may lag the venue.
func (c *Coordinator) Stale() bool {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()
	return c.interrupted
}

func (c *Coordinator) instrumentLocked(ctx context.Context, symbol string) (domain.Instrument, error) {
	if inst, ok := c.instCache[symbol]; ok {
		return inst, nil
	}
	inst, err := c.instruments.Instrument(ctx, symbol)
	if err != nil {
		return domain.Instrument{}, err
	}
	c.instCache[symbol] = inst
	return inst, nil
}

func (c *Coordinator) journalFill(ctx context.Context, o domain.Order, volume int64) {
	if c.journal == nil {
		return
	}
	if err := c.journal.RecordFill(ctx, o.ID, o.AvgFillPrice, volume, o.UpdatedAt); err != nil {
		c.logger.Debug("fill journal write failed",
			slog.String("order_id", o.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (c *Coordinator) journalOrder(ctx context.Context, o domain.Order) {
	if c.journal == nil {
		return
	}
	if err := c.journal.RecordOrder(ctx, o); err != nil {
		c.logger.Debug("journal write failed",
			slog.String("order_id", o.ID),
			slog.String("error", err.Error()),
		)
	}
}
