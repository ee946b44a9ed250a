package funding

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"
)

// FileCache persists one JSON file per (exchange, date) mapping stringified
// settlement timestamps (seconds) to rates. Read and write failures degrade
// to cache misses; they never fail a run.
type FileCache struct {
	dir string
	log zerolog.Logger
}

// NewFileCache roots the cache at dir (one subdirectory per exchange).
func NewFileCache(dir string, log zerolog.Logger) *FileCache {
	return &FileCache{dir: dir, log: log}
}

func (c *FileCache) path(exchange, date string) string {
	return filepath.Join(c.dir, exchange, date+".json")
}

// Load reads a cached day. ok is false on any miss, including corrupt files.
func (c *FileCache) Load(exchange, date string) (map[int64]float64, bool) {
	data, err := os.ReadFile(c.path(exchange, date))
	if err != nil {
		return nil, false
	}
	var raw map[string]float64
	if err := json.Unmarshal(data, &raw); err != nil {
		c.log.Warn().Err(err).Str("date", date).Msg("corrupt funding cache file, refetching")
		return nil, false
	}
	rates := make(map[int64]float64, len(raw))
	for k, v := range raw {
		ts, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			c.log.Warn().Str("key", k).Str("date", date).Msg("bad funding cache key, refetching")
			return nil, false
		}
		rates[ts] = v
	}
	return rates, true
}

// Store writes a day's events, logging instead of failing on IO errors.
func (c *FileCache) Store(exchange, date string, rates map[int64]float64) {
	raw := make(map[string]float64, len(rates))
	for ts, rate := range rates {
		raw[strconv.FormatInt(ts, 10)] = rate
	}
	data, err := json.Marshal(raw)
	if err != nil {
		c.log.Warn().Err(err).Str("date", date).Msg("encode funding cache failed")
		return
	}
	path := c.path(exchange, date)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		c.log.Warn().Err(err).Str("date", date).Msg("create funding cache dir failed")
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		c.log.Warn().Err(err).Str("date", date).Msg("write funding cache failed")
	}
}
