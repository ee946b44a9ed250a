// Package risk encodes entry guard rails for the day ledger.
package risk

// Limits bounds when a new position may be opened.
type Limits struct {
	MaxPositions     int
	MinEntryInterval float64 // seconds between entries
	SettlementGuard  float64 // seconds before a known settlement
}

// AllowEntry reports whether an entry may be evaluated at ts given the count
// of open positions, the last entry time, and the next known settlement
// instant (0 when unknown).
func (l Limits) AllowEntry(ts, lastEntry float64, open int, nextSettlement int64) bool {
	if open >= l.MaxPositions {
		return false
	}
	if nextSettlement > 0 && ts > float64(nextSettlement)-l.SettlementGuard {
		return false
	}
	if ts-lastEntry < l.MinEntryInterval {
		return false
	}
	return true
}
