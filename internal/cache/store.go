// Package cache memoizes derived dashboard data keyed by the fingerprint of
// the file it was computed from.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Fingerprint identifies one version of an input file. Any change to the
// file's modification time or size yields a different fingerprint.
type Fingerprint struct {
	Path    string    `json:"path"`
	ModTime time.Time `json:"mod_time"`
	Size    int64     `json:"size"`
}

// FingerprintOf stats path.
func FingerprintOf(path string) (Fingerprint, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Fingerprint{}, err
	}
	return Fingerprint{Path: path, ModTime: info.ModTime().UTC(), Size: info.Size()}, nil
}

// Key renders the fingerprint for use in cache keys.
func (f Fingerprint) Key() string {
	return fmt.Sprintf("%s@%d:%d", f.Path, f.ModTime.UnixNano(), f.Size)
}

// Equal reports whether both fingerprints describe the same file version.
func (f Fingerprint) Equal(o Fingerprint) bool {
	return f.Path == o.Path && f.ModTime.Equal(o.ModTime) && f.Size == o.Size
}

// Store is a byte-oriented cache shared by the dashboard aggregates.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte)
	// DeletePrefix drops every key starting with prefix.
	DeletePrefix(ctx context.Context, prefix string) error
	Stats() Stats
}

// OperationLogger receives one call per cache lookup or write.
type OperationLogger interface {
	LogCacheOperation(operation string, key string, hit bool, duration int64)
}

// Stats tracks cache performance metrics
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Sets   int64 `json:"sets"`
}

// HitRate returns hits as a percentage of lookups.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

type statsCounter struct {
	mu sync.Mutex
	s  Stats
}

func (c *statsCounter) hit()  { c.mu.Lock(); c.s.Hits++; c.mu.Unlock() }
func (c *statsCounter) miss() { c.mu.Lock(); c.s.Misses++; c.mu.Unlock() }
func (c *statsCounter) set()  { c.mu.Lock(); c.s.Sets++; c.mu.Unlock() }

func (c *statsCounter) snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s
}

// GetJSON decodes the value stored under key into T.
func GetJSON[T any](ctx context.Context, s Store, key string) (T, bool) {
	var out T
	data, ok := s.Get(ctx, key)
	if !ok {
		return out, false
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, false
	}
	return out, true
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, s Store, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode cache entry %s: %w", key, err)
	}
	s.Set(ctx, key, data)
	return nil
}
