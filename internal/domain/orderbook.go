package domain

import "time"

// BookSide distinguishes the two halves of the order book.
type BookSide string

const (
	BookSideBid BookSide = "bid"
	BookSideAsk BookSide = "ask"
)

// DepthKind tags one line item of a Level-2 depth update.
type DepthKind int

const (
	DepthBid DepthKind = iota
	DepthAsk
	DepthTrade
	DepthReset
	DepthSessionHigh
	DepthSessionLow
)

// DepthEntry is a single price/volume/kind triple from a depth batch.
// For Bid and Ask entries a zero volume removes the level.
type DepthEntry struct {
	Kind   DepthKind
	Price  Price
	Volume int64
}

// PriceLevel is one resting level of the book, unique per (price, side).
// Volume is never negative; a level driven to zero volume is removed.
type PriceLevel struct {
	Price      Price
	Side       BookSide
	Volume     int64
	LastUpdate time.Time
}

// TradeSide is the inferred aggressor side of an execution. The inference
// compares the execution price to the contemporaneous mid and is a
// heuristic, never venue-confirmed ground truth.
type TradeSide string

const (
	TradeSideBuy     TradeSide = "buy"
	TradeSideSell    TradeSide = "sell"
	TradeSideUnknown TradeSide = "unknown"
)

// TradeExecution is one trade print with the book context captured at the
// instant it was applied.
type TradeExecution struct {
	Price         Price
	Volume        int64
	InferredSide  TradeSide
	SpreadAtTrade Price
	MidAtTrade    Price
	Timestamp     time.Time
}

// BookSnapshot is a consistent view of the top of the book, taken under the
// book lock so bids and asks are never from different batches.
type BookSnapshot struct {
	Contract  string
	Bids      []PriceLevel
	Asks      []PriceLevel
	BestBid   Price
	BestAsk   Price
	HasBid    bool
	HasAsk    bool
	Spread    Price
	Mid       Price
	Timestamp time.Time
}
