// Package signal standardizes payloads shared between market data plumbing and strategy layers.
package signal

// Direction expresses the trading bias produced by an entry evaluation.
type Direction int

const (
	// Long indicates a long-basis entry.
	Long Direction = 1
	// None indicates no actionable signal.
	None Direction = 0
	// Short indicates a short-basis entry.
	Short Direction = -1
)

// Side identifies which way an open position points.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// FromDirection maps a non-zero entry direction to the position side it opens.
func FromDirection(d Direction) Side {
	if d > 0 {
		return SideLong
	}
	return SideShort
}

// Bar is one resampled observation of the aligned swap/spot pair, reduced to midpoints.
type Bar struct {
	Ts        float64 // seconds since epoch, the spot tick's timestamp
	SwapPrice float64
	SpotPrice float64
}
