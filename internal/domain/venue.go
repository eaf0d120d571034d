package domain

import (
	"context"
	"time"
)

// HistoricalSource serves seed bars for aggregator initialization.
type HistoricalSource interface {
	Bars(ctx context.Context, contract string, tf Timeframe, days int) ([]Bar, error)
}

// InstrumentSource resolves venue instrument metadata by symbol.
type InstrumentSource interface {
	Instrument(ctx context.Context, symbol string) (Instrument, error)
}

// OrderAPI is the venue order submission boundary.
type OrderAPI interface {
	Submit(ctx context.Context, req OrderRequest) (OrderAck, error)
	Cancel(ctx context.Context, orderID string) error
	Modify(ctx context.Context, orderID string, mod OrderModification) error
	Order(ctx context.Context, orderID string) (Order, error)
	OpenOrders(ctx context.Context, contract string) ([]Order, error)
}

// PriceCache mirrors the latest price and BBO per contract for
// out-of-process consumers. The engine never reads it on the hot path.
type PriceCache interface {
	SetPrice(ctx context.Context, contract string, price Price, ts time.Time) error
	GetPrice(ctx context.Context, contract string) (Price, time.Time, error)
	SetBBO(ctx context.Context, contract string, bid, ask Price, ts time.Time) error
	GetBBO(ctx context.Context, contract string) (bid, ask Price, err error)
}

// OrderJournal is the append-only history of order lifecycle events and
// fills. Active order tracking is in-memory only; the journal is history,
// written best-effort and never read on the hot path.
type OrderJournal interface {
	RecordOrder(ctx context.Context, o Order) error
	RecordFill(ctx context.Context, orderID string, price Price, volume int64, ts time.Time) error
}

// TapeArchiver receives the trade tape and finalized bars for cold storage.
type TapeArchiver interface {
	AddTrade(contract string, t TradeExecution)
	AddBar(contract string, b Bar)
}
