package domain

import "time"

// PositionDirection is the sign of the net position.
type PositionDirection string

const (
	PositionLong  PositionDirection = "long"
	PositionShort PositionDirection = "short"
	PositionFlat  PositionDirection = "flat"
)

// Position is the venue-reported net position for one contract. It is taken
// verbatim from position updates rather than recomputed from fills, so
// partial-fill double counting cannot drift it.
type Position struct {
	Contract     string
	NetSize      int64 // signed: negative is short
	AveragePrice Price
	Direction    PositionDirection
	UpdatedAt    time.Time
}

// IsFlat reports whether the position is closed.
func (p Position) IsFlat() bool {
	return p.NetSize == 0
}

// DirectionFromSize derives the direction label for a signed net size.
func DirectionFromSize(netSize int64) PositionDirection {
	switch {
	case netSize > 0:
		return PositionLong
	case netSize < 0:
		return PositionShort
	}
	return PositionFlat
}
