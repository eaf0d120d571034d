package domain

// Instrument is the venue metadata needed to trade one contract.
type Instrument struct {
	ID        string
	Symbol    string
	TickSize  Price // minimum price increment; order prices are multiples of it
	TickValue Price // currency value of one tick per contract
}
