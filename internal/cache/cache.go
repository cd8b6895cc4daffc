// Package cache provides a small keyed-value abstraction with TTL semantics.
//
// It backs the session store, the profile cache, and the abuse counters, so
// multiple process instances can share consistent state through Redis. An
// in-memory implementation serves tests and single-node deployments.
package cache

import (
	"context"
	"sync"
	"time"
)

// KV is a keyed-value store with per-key expiry.
type KV interface {
	// Get returns the value for key and whether it was present. A miss is
	// not an error.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value under key with the given TTL (0 means no expiry).
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Delete removes key.
	Delete(ctx context.Context, key string) error
	// Incr atomically increments the counter at key, setting ttl when the
	// key is created. Returns the new count.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

type memoryEntry struct {
	value     string
	count     int64
	expiresAt time.Time
}

// MemoryKV is an in-process KV with expiry, safe for concurrent use.
type MemoryKV struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

// NewMemoryKV creates an empty in-memory KV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{entries: make(map[string]*memoryEntry), now: time.Now}
}

func (m *MemoryKV) live(key string) *memoryEntry {
	e, ok := m.entries[key]
	if !ok {
		return nil
	}
	if !e.expiresAt.IsZero() && m.now().After(e.expiresAt) {
		delete(m.entries, key)
		return nil
	}
	return e
}

// Get returns the value for key and whether it was present.
func (m *MemoryKV) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.live(key)
	if e == nil {
		return "", false, nil
	}
	return e.value, true, nil
}

// Set stores value under key with the given TTL.
func (m *MemoryKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := &memoryEntry{value: value}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

// Delete removes key.
func (m *MemoryKV) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// Incr increments the counter at key, setting ttl on creation.
func (m *MemoryKV) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.live(key)
	if e == nil {
		e = &memoryEntry{}
		if ttl > 0 {
			e.expiresAt = m.now().Add(ttl)
		}
		m.entries[key] = e
	}
	e.count++
	return e.count, nil
}
