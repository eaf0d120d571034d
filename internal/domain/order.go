package domain

import "time"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Opposite returns the other side, for protective bracket legs.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderType is the execution style of an order.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
	OrderTypeStop   OrderType = "stop"
)

// OrderStatus tracks the order lifecycle. The machine is one-way:
//
//	Submitted → Open → {PartiallyFilled → ...} → Filled | Cancelled | Rejected
//
// Once terminal, an order never re-enters a non-terminal state.
type OrderStatus string

const (
	OrderStatusSubmitted       OrderStatus = "submitted"
	OrderStatusOpen            OrderStatus = "open"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
)

// IsTerminal reports whether the status ends the lifecycle.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is a legal step of
// the state machine. Re-asserting the same non-terminal status is allowed
// (the venue resends the current state on partial fills).
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if s.IsTerminal() {
		return false
	}
	switch s {
	case OrderStatusSubmitted:
		return true
	case OrderStatusOpen, OrderStatusPartiallyFilled:
		return next != OrderStatusSubmitted
	}
	return false
}

// Order is one tracked venue order.
type Order struct {
	ID           string // venue-assigned id
	ClientID     string // engine-assigned id, stable across resubmits
	Contract     string
	Side         OrderSide
	Size         int64
	Type         OrderType
	Status       OrderStatus
	LimitPrice   Price // zero when unset
	StopPrice    Price // zero when unset
	FilledVolume int64
	AvgFillPrice Price // zero until the first fill
	ReduceOnly   bool
	Reason       string // venue reject/cancel reason when available
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// BracketGroup links an entry order to its protective siblings. Stop and
// target are optional but, once placed, must be jointly cancelled when the
// position they protect returns to flat. The Coordinator exclusively owns
// the contract → group mapping.
type BracketGroup struct {
	Contract      string
	EntryOrderID  string
	StopOrderID   string // empty when no stop leg was placed
	TargetOrderID string // empty when no target leg was placed
}

// Siblings returns the protective leg ids that exist.
func (g BracketGroup) Siblings() []string {
	ids := make([]string, 0, 2)
	if g.StopOrderID != "" {
		ids = append(ids, g.StopOrderID)
	}
	if g.TargetOrderID != "" {
		ids = append(ids, g.TargetOrderID)
	}
	return ids
}

// OrderRequest is the venue-facing submission payload, prices already
// aligned to the instrument tick size.
type OrderRequest struct {
	ClientID   string
	Contract   string
	Side       OrderSide
	Size       int64
	Type       OrderType
	LimitPrice Price
	StopPrice  Price
	ReduceOnly bool
}

// OrderAck is the venue's answer to a submission.
type OrderAck struct {
	OrderID  string
	Accepted bool
	Reason   string
}

// OrderModification carries the fields of a modify request; zero values
// leave the corresponding venue field unchanged.
type OrderModification struct {
	LimitPrice Price
	StopPrice  Price
	Size       int64
}
