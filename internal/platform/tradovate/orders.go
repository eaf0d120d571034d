package tradovate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/quantfarm/futuresbot/internal/domain"
)

// Submit places an order. Prices arrive already tick-aligned; the venue's
// fractional representation is reconstructed from the fixed-point values.
func (c *Client) Submit(ctx context.Context, req domain.OrderRequest) (domain.OrderAck, error) {
	payload := placeOrderRequest{
		ClOrdID:     req.ClientID,
		Symbol:      req.Contract,
		Action:      sideToAction(req.Side),
		OrderQty:    req.Size,
		OrderType:   orderTypeToAPI(req.Type),
		Price:       req.LimitPrice.Float(),
		StopPrice:   req.StopPrice.Float(),
		ReduceOnly:  req.ReduceOnly,
		IsAutomated: true,
	}

	body, err := c.doRequest(ctx, http.MethodPost, "/order/placeorder", payload)
	if err != nil {
		return domain.OrderAck{}, fmt.Errorf("tradovate: place order: %w", err)
	}

	var resp placeOrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.OrderAck{}, fmt.Errorf("tradovate: decode place response: %w", err)
	}

	if resp.FailureReason != "" {
		reason := resp.FailureReason
		if resp.FailureText != "" {
			reason = fmt.Sprintf("%s: %s", resp.FailureReason, resp.FailureText)
		}
		return domain.OrderAck{Accepted: false, Reason: reason}, nil
	}

	return domain.OrderAck{OrderID: itoa64(resp.OrderID), Accepted: true}, nil
}

// Cancel requests cancellation of one order.
func (c *Client) Cancel(ctx context.Context, orderID string) error {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("tradovate: cancel: bad order id %q: %w", orderID, err)
	}

	payload := struct {
		OrderID int64 `json:"orderId"`
	}{OrderID: id}

	if _, err := c.doRequest(ctx, http.MethodPost, "/order/cancelorder", payload); err != nil {
		return fmt.Errorf("tradovate: cancel order %s: %w", orderID, err)
	}
	return nil
}

// Modify updates an order's prices and/or size. Zero fields are omitted from
// the payload and the venue leaves them unchanged.
func (c *Client) Modify(ctx context.Context, orderID string, mod domain.OrderModification) error {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("tradovate: modify: bad order id %q: %w", orderID, err)
	}

	payload := struct {
		OrderID   int64   `json:"orderId"`
		Price     float64 `json:"price,omitempty"`
		StopPrice float64 `json:"stopPrice,omitempty"`
		OrderQty  int64   `json:"orderQty,omitempty"`
	}{
		OrderID:   id,
		Price:     mod.LimitPrice.Float(),
		StopPrice: mod.StopPrice.Float(),
		OrderQty:  mod.Size,
	}

	if _, err := c.doRequest(ctx, http.MethodPost, "/order/modifyorder", payload); err != nil {
		return fmt.Errorf("tradovate: modify order %s: %w", orderID, err)
	}
	return nil
}

// Order fetches one order by its venue id.
func (c *Client) Order(ctx context.Context, orderID string) (domain.Order, error) {
	params := url.Values{}
	params.Set("id", orderID)

	body, err := c.doRequest(ctx, http.MethodGet, "/order/item?"+params.Encode(), nil)
	if err != nil {
		return domain.Order{}, fmt.Errorf("tradovate: get order %s: %w", orderID, err)
	}

	var order APIOrder
	if err := json.Unmarshal(body, &order); err != nil {
		return domain.Order{}, fmt.Errorf("tradovate: decode order: %w", err)
	}
	return order.ToDomainOrder(), nil
}

// OpenOrders lists working orders, optionally filtered by contract.
func (c *Client) OpenOrders(ctx context.Context, contract string) ([]domain.Order, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/order/list", nil)
	if err != nil {
		return nil, fmt.Errorf("tradovate: list orders: %w", err)
	}

	var apiOrders []APIOrder
	if err := json.Unmarshal(body, &apiOrders); err != nil {
		return nil, fmt.Errorf("tradovate: decode orders: %w", err)
	}

	var out []domain.Order
	for i := range apiOrders {
		o := apiOrders[i].ToDomainOrder()
		if o.Status.IsTerminal() {
			continue
		}
		if contract != "" && o.Contract != contract {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}
