// Package cache provides the TTL key-value store shared by the pipeline.
package cache

import (
	"sync"
	"time"
)

// Store is the cache abstraction consumed by the recommendation pipeline.
// Implementations must replace values atomically per key; the last writer
// for a key wins.
type Store interface {
	// Get returns the value for key, or ok=false when absent or expired.
	Get(key string) (value any, ok bool)
	// Set stores value under key for ttl. A ttl of zero means no expiry.
	Set(key string, value any, ttl time.Duration)
	// Delete removes key.
	Delete(key string)
}

type entry struct {
	value     any
	expiresAt time.Time // zero means no expiry
}

// Memory is an in-process Store with lazy expiry.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time
}

// Option configures a Memory store.
type Option func(*Memory)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMemory creates an empty in-memory store.
func NewMemory(opts ...Option) *Memory {
	m := &Memory{
		entries: make(map[string]entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns the value for key when present and not expired.
// Expired entries are removed on access rather than by a sweeper.
func (m *Memory) Get(key string) (any, bool) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}

	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		m.mu.Lock()
		// Re-check under the write lock; a concurrent Set may have
		// replaced the entry with a fresh one.
		if cur, still := m.entries[key]; still && cur.expiresAt.Equal(e.expiresAt) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return nil, false
	}

	return e.value, true
}

// Set stores value under key, replacing any previous entry wholesale.
func (m *Memory) Set(key string, value any, ttl time.Duration) {
	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.mu.Lock()
	m.entries[key] = e
	m.mu.Unlock()
}

// Delete removes key from the store.
func (m *Memory) Delete(key string) {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
}

// Len returns the number of stored entries, including not-yet-swept
// expired ones.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

var _ Store = (*Memory)(nil)
