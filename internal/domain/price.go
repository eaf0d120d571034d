// Package domain holds the shared types of the trading engine: fixed-point
// prices, bars and timeframes, order and position state, depth entries, the
// stream event variants, and the venue-facing interfaces.
package domain

import (
	"math"
	"strconv"
)

// PriceScale is the fixed-point denominator. One Price unit is a millionth
// of a currency point, which represents every exchange tick size exactly.
const PriceScale = 1_000_000

// Price is a fixed-point price. All engine arithmetic happens on the scaled
// integer; floats appear only at the venue wire boundary.
type Price int64

// PriceFromFloat converts a float price to fixed point, rounding to the
// nearest representable value.
func PriceFromFloat(f float64) Price {
	return Price(math.Round(f * PriceScale))
}

// Float converts back to a float for wire payloads and display.
func (p Price) Float() float64 {
	return float64(p) / PriceScale
}

// Align snaps the price to the nearest multiple of tick, rounding half a
// tick up. Align is idempotent: an already aligned price is unchanged.
func (p Price) Align(tick Price) Price {
	if tick <= 0 {
		return p
	}
	return (p + tick/2) / tick * tick
}

// String formats the price without trailing zeros.
func (p Price) String() string {
	return strconv.FormatFloat(p.Float(), 'f', -1, 64)
}

// Mid returns the midpoint of two prices.
func Mid(a, b Price) Price {
	return (a + b) / 2
}
