package risk

import "testing"

func TestAllowEntry(t *testing.T) {
	limits := Limits{MaxPositions: 2, MinEntryInterval: 3600, SettlementGuard: 800}

	cases := []struct {
		name           string
		ts, lastEntry  float64
		open           int
		nextSettlement int64
		want           bool
	}{
		{"first entry", 1_000_000, 0, 0, 0, true},
		{"at capacity", 1_000_000, 0, 2, 0, false},
		{"over capacity", 1_000_000, 0, 3, 0, false},
		{"inside min interval", 1_003_599, 1_000_000, 1, 0, false},
		{"at min interval", 1_003_600, 1_000_000, 1, 0, true},
		{"inside settlement guard", 1_000_000, 0, 0, 1_000_500, false},
		{"at guard boundary", 1_000_000, 0, 0, 1_000_800, true},
		{"past settlement", 1_001_000, 0, 0, 1_000_500, false},
		{"unknown settlement", 1_000_000, 0, 0, 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := limits.AllowEntry(tc.ts, tc.lastEntry, tc.open, tc.nextSettlement)
			if got != tc.want {
				t.Fatalf("AllowEntry(%v, %v, %d, %d) = %v, want %v",
					tc.ts, tc.lastEntry, tc.open, tc.nextSettlement, got, tc.want)
			}
		})
	}
}
