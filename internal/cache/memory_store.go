package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore is an in-process Store with per-entry TTL.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	stats   statsCounter
	logger  OperationLogger
	now     func() time.Time
}

// NewMemoryStore creates an in-memory store. A zero ttl never expires entries.
func NewMemoryStore(ttl time.Duration, logger OperationLogger) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		logger:  logger,
		now:     time.Now,
	}
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, bool) {
	start := time.Now()
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()

	if ok && !e.expiresAt.IsZero() && m.now().After(e.expiresAt) {
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()
		ok = false
	}

	if ok {
		m.stats.hit()
	} else {
		m.stats.miss()
	}
	m.log("get", key, ok, start)
	if !ok {
		return nil, false
	}
	return e.value, true
}

func (m *MemoryStore) Set(_ context.Context, key string, value []byte) {
	start := time.Now()
	e := memoryEntry{value: value}
	if m.ttl > 0 {
		e.expiresAt = m.now().Add(m.ttl)
	}
	m.mu.Lock()
	m.entries[key] = e
	m.mu.Unlock()
	m.stats.set()
	m.log("set", key, false, start)
}

func (m *MemoryStore) DeletePrefix(_ context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			delete(m.entries, k)
		}
	}
	return nil
}

// Len returns the number of live and expired-but-unreaped entries.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *MemoryStore) Stats() Stats {
	return m.stats.snapshot()
}

func (m *MemoryStore) log(op, key string, hit bool, start time.Time) {
	if m.logger != nil {
		m.logger.LogCacheOperation(op, key, hit, time.Since(start).Milliseconds())
	}
}
