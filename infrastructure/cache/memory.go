package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ahrav/go-promptlab/internal/domain"
	"github.com/ahrav/go-promptlab/internal/ports"
)

// MemoryStore is a process-local CacheStore.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[domain.Fingerprint]domain.CachedResponse
	hits    atomic.Int64
	misses  atomic.Int64
}

var _ ports.CacheStore = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory cache.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[domain.Fingerprint]domain.CachedResponse)}
}

// Lookup implements ports.CacheStore.
func (m *MemoryStore) Lookup(_ context.Context, fp domain.Fingerprint) (domain.CachedResponse, bool, error) {
	m.mu.RLock()
	resp, ok := m.entries[fp]
	m.mu.RUnlock()

	if ok {
		m.hits.Add(1)
	} else {
		m.misses.Add(1)
	}
	return resp, ok, nil
}

// Store implements ports.CacheStore.
func (m *MemoryStore) Store(_ context.Context, resp domain.CachedResponse) error {
	if resp.CreatedAt.IsZero() {
		resp.CreatedAt = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[resp.Fingerprint] = resp
	return nil
}

// Clear implements ports.CacheStore.
func (m *MemoryStore) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[domain.Fingerprint]domain.CachedResponse)
	return nil
}

// Stats implements ports.CacheStore.
func (m *MemoryStore) Stats(context.Context) (ports.CacheStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return ports.CacheStats{
		Entries: int64(len(m.entries)),
		Hits:    m.hits.Load(),
		Misses:  m.misses.Load(),
	}, nil
}

// Close implements ports.CacheStore.
func (m *MemoryStore) Close() error { return nil }
