package marketdata

import (
	"os"
	"path/filepath"
	"testing"
)

func TestJSONLRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "2026-08-01.jsonl")

	w, err := NewJSONLWriter(path)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	ticks := []Tick{
		fastTick(10, 30100),
		fastTick(11, 30101),
		{Ts: 12, Kind: KindDepth, Bids: []Level{{Price: 30000, Size: 2}, {Price: 29999, Size: 3}}, Asks: []Level{{Price: 30001, Size: 1}}},
	}
	for _, tk := range ticks {
		if err := w.Append(tk); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	src, err := OpenDay(dir, "2026-08-01")
	if err != nil {
		t.Fatalf("open day: %v", err)
	}
	defer src.Close()

	if ts := src.Peek(); ts != 10 {
		t.Fatalf("peek expected 10, got %.0f", ts)
	}
	for i, want := range ticks {
		got, ok := src.Read()
		if !ok {
			t.Fatalf("read %d: unexpected end", i)
		}
		if got.Ts != want.Ts || got.Kind != want.Kind {
			t.Fatalf("read %d: got %+v want %+v", i, got, want)
		}
		if len(got.Bids) != len(want.Bids) || len(got.Asks) != len(want.Asks) {
			t.Fatalf("read %d: book shape mismatch %+v vs %+v", i, got, want)
		}
	}
	if _, ok := src.Read(); ok {
		t.Fatalf("expected exhaustion after last tick")
	}
}

func TestJSONLSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "day.jsonl")
	content := `{"ts":1,"k":0,"b":[{"p":9,"s":1}],"a":[{"p":11,"s":1}]}
this is not json
{"ts":2,"k":0,"b":[{"p":9,"s":1}],"a":[{"p":11,"s":1}]}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	src, err := NewJSONLSource(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer src.Close()

	var got []float64
	for {
		tk, ok := src.Read()
		if !ok {
			break
		}
		got = append(got, tk.Ts)
	}
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("expected ticks [1 2], got %v", got)
	}
}

func TestOpenDayMissingFile(t *testing.T) {
	if _, err := OpenDay(t.TempDir(), "2026-08-01"); err == nil {
		t.Fatalf("expected error for missing day file")
	}
}
