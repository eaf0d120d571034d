package orders

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfarm/futuresbot/internal/domain"
	"github.com/quantfarm/futuresbot/internal/events"
)

// fakeVenue is an in-memory OrderAPI that records every call.
type fakeVenue struct {
	nextID     int
	submitted  []domain.OrderRequest
	cancelled  []string
	modified   map[string]domain.OrderModification
	failSubmit func(req domain.OrderRequest) error
	rejectWith string
	orders     map[string]domain.Order
}

func newFakeVenue() *fakeVenue {
	return &fakeVenue{
		modified: make(map[string]domain.OrderModification),
		orders:   make(map[string]domain.Order),
	}
}

func (f *fakeVenue) Submit(_ context.Context, req domain.OrderRequest) (domain.OrderAck, error) {
	if f.failSubmit != nil {
		if err := f.failSubmit(req); err != nil {
			return domain.OrderAck{}, err
		}
	}
	if f.rejectWith != "" {
		return domain.OrderAck{Accepted: false, Reason: f.rejectWith}, nil
	}
	f.nextID++
	id := fmt.Sprintf("ord-%d", f.nextID)
	f.submitted = append(f.submitted, req)
	return domain.OrderAck{OrderID: id, Accepted: true}, nil
}

func (f *fakeVenue) Cancel(_ context.Context, orderID string) error {
	f.cancelled = append(f.cancelled, orderID)
	return nil
}

func (f *fakeVenue) Modify(_ context.Context, orderID string, mod domain.OrderModification) error {
	f.modified[orderID] = mod
	return nil
}

func (f *fakeVenue) Order(_ context.Context, orderID string) (domain.Order, error) {
	o, ok := f.orders[orderID]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return o, nil
}

func (f *fakeVenue) OpenOrders(_ context.Context, _ string) ([]domain.Order, error) {
	return nil, nil
}

// fakeInstruments serves a single 0.25-tick instrument.
type fakeInstruments struct{}

func (fakeInstruments) Instrument(_ context.Context, symbol string) (domain.Instrument, error) {
	return domain.Instrument{
		ID:       "inst-1",
		Symbol:   symbol,
		TickSize: domain.PriceFromFloat(0.25),
	}, nil
}

func newTestCoordinator(t *testing.T, venue domain.OrderAPI) (*Coordinator, *events.Bus) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := events.New(logger)
	return New(venue, fakeInstruments{}, nil, bus, logger), bus
}

func TestPlaceOrderAlignsPrices(t *testing.T) {
	venue := newFakeVenue()
	coord, _ := newTestCoordinator(t, venue)

	order, err := coord.PlaceOrder(context.Background(), PlaceRequest{
		Contract:   "MESU6",
		Side:       domain.OrderSideBuy,
		Size:       2,
		Type:       domain.OrderTypeLimit,
		LimitPrice: domain.PriceFromFloat(5000.30),
	})
	require.NoError(t, err)

	assert.Equal(t, domain.PriceFromFloat(5000.25), order.LimitPrice)
	require.Len(t, venue.submitted, 1)
	assert.Equal(t, domain.PriceFromFloat(5000.25), venue.submitted[0].LimitPrice)
	assert.NotEmpty(t, venue.submitted[0].ClientID)
}

func TestPlaceOrderValidation(t *testing.T) {
	venue := newFakeVenue()
	coord, _ := newTestCoordinator(t, venue)
	ctx := context.Background()

	cases := []PlaceRequest{
		{Contract: "MESU6", Side: domain.OrderSideBuy, Size: 0, Type: domain.OrderTypeMarket},
		{Contract: "MESU6", Side: domain.OrderSideBuy, Size: -3, Type: domain.OrderTypeMarket},
		{Contract: "MESU6", Side: domain.OrderSideBuy, Size: 1, Type: domain.OrderTypeLimit},
		{Contract: "MESU6", Side: domain.OrderSideBuy, Size: 1, Type: domain.OrderTypeStop},
		{Contract: "", Side: domain.OrderSideBuy, Size: 1, Type: domain.OrderTypeMarket},
		{Contract: "MESU6", Side: "sideways", Size: 1, Type: domain.OrderTypeMarket},
	}
	for i, req := range cases {
		_, err := coord.PlaceOrder(ctx, req)
		var verr *domain.ValidationError
		assert.ErrorAs(t, err, &verr, "case %d", i)
	}
	// Validation failures never reach the venue.
	assert.Empty(t, venue.submitted)
}

func TestPlaceOrderVenueReject(t *testing.T) {
	venue := newFakeVenue()
	venue.rejectWith = "insufficient margin"
	coord, _ := newTestCoordinator(t, venue)

	_, err := coord.PlaceOrder(context.Background(), PlaceRequest{
		Contract: "MESU6", Side: domain.OrderSideBuy, Size: 1, Type: domain.OrderTypeMarket,
	})
	var serr *domain.SubmissionError
	require.ErrorAs(t, err, &serr)
	assert.Contains(t, serr.Error(), "insufficient margin")
}

func TestBracketFullSuccessLinksThreeOrders(t *testing.T) {
	venue := newFakeVenue()
	coord, _ := newTestCoordinator(t, venue)

	res, err := coord.PlaceBracketOrder(context.Background(), BracketRequest{
		Contract:    "MESU6",
		Side:        domain.OrderSideBuy,
		Size:        1,
		Entry:       BracketEntry{Type: domain.OrderTypeMarket},
		StopPrice:   domain.PriceFromFloat(4990.00),
		TargetPrice: domain.PriceFromFloat(5010.00),
	})
	require.NoError(t, err)
	assert.False(t, res.Partial)
	assert.NotEmpty(t, res.EntryOrderID)
	assert.NotEmpty(t, res.StopOrderID)
	assert.NotEmpty(t, res.TargetOrderID)

	group, ok := coord.BracketGroup("MESU6")
	require.True(t, ok)
	assert.Equal(t, res.EntryOrderID, group.EntryOrderID)
	assert.Equal(t, res.StopOrderID, group.StopOrderID)
	assert.Equal(t, res.TargetOrderID, group.TargetOrderID)

	// Protective legs are opposite-side and reduce-only.
	require.Len(t, venue.submitted, 3)
	assert.Equal(t, domain.OrderSideSell, venue.submitted[1].Side)
	assert.True(t, venue.submitted[1].ReduceOnly)
	assert.Equal(t, domain.OrderTypeStop, venue.submitted[1].Type)
	assert.Equal(t, domain.OrderSideSell, venue.submitted[2].Side)
	assert.True(t, venue.submitted[2].ReduceOnly)
	assert.Equal(t, domain.OrderTypeLimit, venue.submitted[2].Type)
}

func TestBracketEntryFailurePlacesNothingElse(t *testing.T) {
	venue := newFakeVenue()
	venue.failSubmit = func(domain.OrderRequest) error { return errors.New("venue down") }
	coord, _ := newTestCoordinator(t, venue)

	_, err := coord.PlaceBracketOrder(context.Background(), BracketRequest{
		Contract:  "MESU6",
		Side:      domain.OrderSideBuy,
		Size:      1,
		Entry:     BracketEntry{Type: domain.OrderTypeMarket},
		StopPrice: domain.PriceFromFloat(4990.00),
	})
	require.Error(t, err)
	assert.Empty(t, venue.submitted)
	_, ok := coord.BracketGroup("MESU6")
	assert.False(t, ok)
}

func TestBracketPartialSuccessKeepsEntry(t *testing.T) {
	venue := newFakeVenue()
	// Fail only the stop leg.
	venue.failSubmit = func(req domain.OrderRequest) error {
		if req.Type == domain.OrderTypeStop {
			return errors.New("stop rejected")
		}
		return nil
	}
	coord, _ := newTestCoordinator(t, venue)

	res, err := coord.PlaceBracketOrder(context.Background(), BracketRequest{
		Contract:    "MESU6",
		Side:        domain.OrderSideBuy,
		Size:        1,
		Entry:       BracketEntry{Type: domain.OrderTypeMarket},
		StopPrice:   domain.PriceFromFloat(4990.00),
		TargetPrice: domain.PriceFromFloat(5010.00),
	})
	require.NoError(t, err)
	assert.True(t, res.Partial)
	assert.NotEmpty(t, res.EntryOrderID)
	assert.Empty(t, res.StopOrderID)
	assert.NotEmpty(t, res.TargetOrderID)
	assert.Contains(t, res.StopError, "stop rejected")

	// The entry is never rolled back.
	assert.Empty(t, venue.cancelled)
}

func TestAutoCleanupCancelsSiblingsOnce(t *testing.T) {
	venue := newFakeVenue()
	coord, bus := newTestCoordinator(t, venue)
	ctx := context.Background()

	res, err := coord.PlaceBracketOrder(ctx, BracketRequest{
		Contract:    "MESU6",
		Side:        domain.OrderSideBuy,
		Size:        1,
		Entry:       BracketEntry{Type: domain.OrderTypeMarket},
		StopPrice:   domain.PriceFromFloat(4990.00),
		TargetPrice: domain.PriceFromFloat(5010.00),
	})
	require.NoError(t, err)

	var closed []string
	bus.OnPositionClosed(func(e events.PositionClosed) { closed = append(closed, e.Contract) })

	flat := domain.Position{Contract: "MESU6", NetSize: 0, Direction: domain.PositionFlat}
	coord.OnPositionUpdate(ctx, flat)

	assert.ElementsMatch(t, []string{res.StopOrderID, res.TargetOrderID}, venue.cancelled)
	assert.Equal(t, []string{"MESU6"}, closed)
	_, ok := coord.BracketGroup("MESU6")
	assert.False(t, ok)

	// The same flat update again issues no duplicate cancellations.
	coord.OnPositionUpdate(ctx, flat)
	assert.Len(t, venue.cancelled, 2)
	assert.Len(t, closed, 1)
}

func TestAutoCleanupSkipsTerminalSiblings(t *testing.T) {
	venue := newFakeVenue()
	coord, _ := newTestCoordinator(t, venue)
	ctx := context.Background()

	res, err := coord.PlaceBracketOrder(ctx, BracketRequest{
		Contract:    "MESU6",
		Side:        domain.OrderSideBuy,
		Size:        1,
		Entry:       BracketEntry{Type: domain.OrderTypeMarket},
		StopPrice:   domain.PriceFromFloat(4990.00),
		TargetPrice: domain.PriceFromFloat(5010.00),
	})
	require.NoError(t, err)

	// The stop filled (it closed the position); only the target needs cancelling.
	coord.OnOrderUpdate(domain.Order{
		ID: res.StopOrderID, Contract: "MESU6", Status: domain.OrderStatusFilled,
	})
	coord.OnPositionUpdate(ctx, domain.Position{Contract: "MESU6", NetSize: 0})

	assert.Equal(t, []string{res.TargetOrderID}, venue.cancelled)
}

func TestOrderStatusMachineDropsImpossibleTransitions(t *testing.T) {
	venue := newFakeVenue()
	coord, _ := newTestCoordinator(t, venue)

	order, err := coord.PlaceOrder(context.Background(), PlaceRequest{
		Contract: "MESU6", Side: domain.OrderSideBuy, Size: 1, Type: domain.OrderTypeMarket,
	})
	require.NoError(t, err)

	coord.OnOrderUpdate(domain.Order{ID: order.ID, Contract: "MESU6", Status: domain.OrderStatusOpen})
	coord.OnOrderUpdate(domain.Order{ID: order.ID, Contract: "MESU6", Status: domain.OrderStatusFilled, FilledVolume: 1})

	// A fill event after terminal status is impossible and must be dropped.
	coord.OnOrderUpdate(domain.Order{ID: order.ID, Contract: "MESU6", Status: domain.OrderStatusOpen})

	filled, err := coord.IsOrderFilled(context.Background(), order.ID)
	require.NoError(t, err)
	assert.True(t, filled)
	assert.Equal(t, int64(1), coord.Inconsistencies())
}

func TestSearchOpenOrdersFiltersTerminal(t *testing.T) {
	venue := newFakeVenue()
	coord, _ := newTestCoordinator(t, venue)
	ctx := context.Background()

	a, err := coord.PlaceOrder(ctx, PlaceRequest{Contract: "MESU6", Side: domain.OrderSideBuy, Size: 1, Type: domain.OrderTypeMarket})
	require.NoError(t, err)
	b, err := coord.PlaceOrder(ctx, PlaceRequest{Contract: "MNQU6", Side: domain.OrderSideSell, Size: 1, Type: domain.OrderTypeMarket})
	require.NoError(t, err)

	coord.OnOrderUpdate(domain.Order{ID: a.ID, Contract: "MESU6", Status: domain.OrderStatusCancelled})

	open := coord.SearchOpenOrders("")
	require.Len(t, open, 1)
	assert.Equal(t, b.ID, open[0].ID)

	assert.Empty(t, coord.SearchOpenOrders("MESU6"))
	assert.Len(t, coord.SearchOpenOrders("MNQU6"), 1)
}

func TestIsOrderFilledFallsBackToVenue(t *testing.T) {
	venue := newFakeVenue()
	venue.orders["ext-9"] = domain.Order{ID: "ext-9", Status: domain.OrderStatusFilled}
	coord, _ := newTestCoordinator(t, venue)

	filled, err := coord.IsOrderFilled(context.Background(), "ext-9")
	require.NoError(t, err)
	assert.True(t, filled)

	_, err = coord.IsOrderFilled(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestModifyRealignsPrices(t *testing.T) {
	venue := newFakeVenue()
	coord, _ := newTestCoordinator(t, venue)
	ctx := context.Background()

	order, err := coord.PlaceOrder(ctx, PlaceRequest{
		Contract: "MESU6", Side: domain.OrderSideBuy, Size: 1,
		Type: domain.OrderTypeLimit, LimitPrice: domain.PriceFromFloat(5000.00),
	})
	require.NoError(t, err)

	require.NoError(t, coord.ModifyOrder(ctx, order.ID, domain.OrderModification{
		LimitPrice: domain.PriceFromFloat(5001.13),
	}))
	assert.Equal(t, domain.PriceFromFloat(5001.25), venue.modified[order.ID].LimitPrice)
}

func TestWaitForStatus(t *testing.T) {
	venue := newFakeVenue()
	coord, _ := newTestCoordinator(t, venue)
	ctx := context.Background()

	order, err := coord.PlaceOrder(ctx, PlaceRequest{
		Contract: "MESU6", Side: domain.OrderSideBuy, Size: 1, Type: domain.OrderTypeMarket,
	})
	require.NoError(t, err)

	// Timeout leaves the last known status untouched.
	err = coord.WaitForStatus(ctx, order.ID, domain.OrderStatusFilled, 20*time.Millisecond)
	assert.ErrorIs(t, err, domain.ErrWaitTimeout)
	filled, _ := coord.IsOrderFilled(ctx, order.ID)
	assert.False(t, filled)

	go func() {
		time.Sleep(10 * time.Millisecond)
		coord.OnOrderUpdate(domain.Order{ID: order.ID, Contract: "MESU6", Status: domain.OrderStatusFilled})
	}()
	status, err := coord.WaitForTerminal(ctx, order.ID, time.Second)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, status)
}
