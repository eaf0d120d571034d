package tradovate

import (
	"time"

	"github.com/quantfarm/futuresbot/internal/domain"
)

// Credentials carries everything the access-token request needs.
type Credentials struct {
	Name     string `json:"name"`
	Password string `json:"password"`
	AppID    string `json:"appId"`
	CID      int    `json:"cid"`
	Secret   string `json:"sec"`
}

// accessTokenResponse is the auth endpoint's reply.
type accessTokenResponse struct {
	AccessToken    string `json:"accessToken"`
	ExpirationTime string `json:"expirationTime"`
	ErrorText      string `json:"errorText"`
}

// APIContract is the wire shape of a tradable contract.
type APIContract struct {
	ID            int64   `json:"id"`
	Name          string  `json:"name"`
	TickSize      float64 `json:"tickSize"`
	ValuePerPoint float64 `json:"valuePerPoint"`
}

// ToDomainInstrument converts an APIContract to the engine's instrument.
func (c *APIContract) ToDomainInstrument() domain.Instrument {
	return domain.Instrument{
		ID:        itoa64(c.ID),
		Symbol:    c.Name,
		TickSize:  domain.PriceFromFloat(c.TickSize),
		TickValue: domain.PriceFromFloat(c.ValuePerPoint * c.TickSize),
	}
}

// APIBar is one historical OHLCV bar as served by the chart endpoint.
type APIBar struct {
	Timestamp  string  `json:"timestamp"`
	Open       float64 `json:"open"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
	Close      float64 `json:"close"`
	UpVolume   int64   `json:"upVolume"`
	DownVolume int64   `json:"downVolume"`
}

// ToDomainBar converts an APIBar. The bar keeps the venue's open time; a
// timestamp that fails to parse yields the zero time and the aggregator's
// bucket math rejects the bar downstream.
func (b *APIBar) ToDomainBar(timeframe string) domain.Bar {
	ts, _ := time.Parse(time.RFC3339Nano, b.Timestamp)
	return domain.Bar{
		Timeframe: timeframe,
		OpenTime:  ts.UTC(),
		Open:      domain.PriceFromFloat(b.Open),
		High:      domain.PriceFromFloat(b.High),
		Low:       domain.PriceFromFloat(b.Low),
		Close:     domain.PriceFromFloat(b.Close),
		Volume:    b.UpVolume + b.DownVolume,
	}
}

// placeOrderRequest is the order submission payload.
type placeOrderRequest struct {
	ClOrdID     string  `json:"clOrdId"`
	Symbol      string  `json:"symbol"`
	Action      string  `json:"action"` // Buy / Sell
	OrderQty    int64   `json:"orderQty"`
	OrderType   string  `json:"orderType"` // Market / Limit / Stop
	Price       float64 `json:"price,omitempty"`
	StopPrice   float64 `json:"stopPrice,omitempty"`
	ReduceOnly  bool    `json:"reduceOnly,omitempty"`
	IsAutomated bool    `json:"isAutomated"`
}

// placeOrderResponse is the reply to a submission. A non-empty FailureReason
// means the venue rejected the order without assigning an id.
type placeOrderResponse struct {
	OrderID       int64  `json:"orderId"`
	FailureReason string `json:"failureReason"`
	FailureText   string `json:"failureText"`
}

// APIOrder is the wire shape of an order returned by queries and the stream.
type APIOrder struct {
	ID        int64   `json:"id"`
	ClOrdID   string  `json:"clOrdId"`
	Symbol    string  `json:"symbol"`
	Action    string  `json:"action"`
	OrderQty  int64   `json:"orderQty"`
	OrderType string  `json:"orderType"`
	Status    string  `json:"ordStatus"`
	Price     float64 `json:"price"`
	StopPrice float64 `json:"stopPrice"`
	CumQty    int64   `json:"cumQty"`
	AvgPx     float64 `json:"avgPx"`
	Timestamp string  `json:"timestamp"`
}

// ToDomainOrder converts an APIOrder to the engine's order type.
func (o *APIOrder) ToDomainOrder() domain.Order {
	ts, _ := time.Parse(time.RFC3339Nano, o.Timestamp)
	return domain.Order{
		ID:           itoa64(o.ID),
		ClientID:     o.ClOrdID,
		Contract:     o.Symbol,
		Side:         actionToSide(o.Action),
		Size:         o.OrderQty,
		Type:         orderTypeToDomain(o.OrderType),
		Status:       statusToDomain(o.Status),
		LimitPrice:   domain.PriceFromFloat(o.Price),
		StopPrice:    domain.PriceFromFloat(o.StopPrice),
		FilledVolume: o.CumQty,
		AvgFillPrice: domain.PriceFromFloat(o.AvgPx),
		UpdatedAt:    ts.UTC(),
	}
}

// APIPosition is the wire shape of a position report.
type APIPosition struct {
	Symbol   string  `json:"symbol"`
	NetPos   int64   `json:"netPos"`
	NetPrice float64 `json:"netPrice"`
}

// ToDomainPosition converts an APIPosition.
func (p *APIPosition) ToDomainPosition() domain.Position {
	return domain.Position{
		Contract:     p.Symbol,
		NetSize:      p.NetPos,
		AveragePrice: domain.PriceFromFloat(p.NetPrice),
		Direction:    domain.DirectionFromSize(p.NetPos),
	}
}

func actionToSide(action string) domain.OrderSide {
	if action == "Sell" {
		return domain.OrderSideSell
	}
	return domain.OrderSideBuy
}

func sideToAction(side domain.OrderSide) string {
	if side == domain.OrderSideSell {
		return "Sell"
	}
	return "Buy"
}

func orderTypeToDomain(t string) domain.OrderType {
	switch t {
	case "Limit":
		return domain.OrderTypeLimit
	case "Stop":
		return domain.OrderTypeStop
	default:
		return domain.OrderTypeMarket
	}
}

func orderTypeToAPI(t domain.OrderType) string {
	switch t {
	case domain.OrderTypeLimit:
		return "Limit"
	case domain.OrderTypeStop:
		return "Stop"
	default:
		return "Market"
	}
}

func statusToDomain(s string) domain.OrderStatus {
	switch s {
	case "PendingNew", "Submitted":
		return domain.OrderStatusSubmitted
	case "Working", "New":
		return domain.OrderStatusOpen
	case "PartiallyFilled":
		return domain.OrderStatusPartiallyFilled
	case "Filled":
		return domain.OrderStatusFilled
	case "Canceled":
		return domain.OrderStatusCancelled
	case "Rejected":
		return domain.OrderStatusRejected
	default:
		return domain.OrderStatusOpen
	}
}
