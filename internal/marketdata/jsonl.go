package marketdata

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
)

// DateLayout is the calendar-day format used for tick and cache file names.
const DateLayout = "2006-01-02"

// JSONLSource streams ticks from a JSON-lines file, one tick per line, in the
// format produced by JSONLWriter. Lines that fail to decode are skipped.
type JSONLSource struct {
	file *os.File
	sc   *bufio.Scanner
	next *Tick
	done bool
}

// OpenDay opens the tick file covering one calendar day under dir. A missing
// file is an error; the caller decides whether that fails the day.
func OpenDay(dir, date string) (*JSONLSource, error) {
	return NewJSONLSource(filepath.Join(dir, date+".jsonl"))
}

// NewJSONLSource opens a tick file for sequential reading.
func NewJSONLSource(path string) (*JSONLSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open tick file: %w", err)
	}
	sc := bufio.NewScanner(bufio.NewReaderSize(file, 1<<16))
	sc.Buffer(make([]byte, 0, 1<<16), 1<<22)
	return &JSONLSource{file: file, sc: sc}, nil
}

func (s *JSONLSource) advance() {
	for !s.done && s.next == nil {
		if !s.sc.Scan() {
			s.done = true
			return
		}
		line := s.sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var t Tick
		if err := json.Unmarshal(line, &t); err != nil {
			// Malformed line: resync at the next record.
			continue
		}
		s.next = &t
	}
}

func (s *JSONLSource) Peek() float64 {
	s.advance()
	if s.next == nil {
		return math.Inf(1)
	}
	return s.next.Ts
}

func (s *JSONLSource) Read() (Tick, bool) {
	s.advance()
	if s.next == nil {
		return Tick{}, false
	}
	t := *s.next
	s.next = nil
	return t, true
}

func (s *JSONLSource) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// JSONLWriter appends ticks as JSON lines for later replay.
type JSONLWriter struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewJSONLWriter creates/opens the target file in append mode.
func NewJSONLWriter(path string) (*JSONLWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &JSONLWriter{file: file, enc: json.NewEncoder(file)}, nil
}

// Append writes a single tick to the underlying file.
func (w *JSONLWriter) Append(t Tick) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(t)
}

// Close flushes and closes the file handle.
func (w *JSONLWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}
