package ports

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-promptlab/internal/domain"
)

// mapCacheStore implements CacheStore to check the interface shape.
type mapCacheStore struct {
	mu   sync.Mutex
	data map[domain.Fingerprint]domain.CachedResponse
}

func (m *mapCacheStore) Lookup(_ context.Context, fp domain.Fingerprint) (domain.CachedResponse, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.data[fp]
	return r, ok, nil
}

func (m *mapCacheStore) Store(_ context.Context, resp domain.CachedResponse) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[resp.Fingerprint] = resp
	return nil
}

func (m *mapCacheStore) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[domain.Fingerprint]domain.CachedResponse)
	return nil
}

func (m *mapCacheStore) Stats(context.Context) (CacheStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return CacheStats{Entries: int64(len(m.data))}, nil
}

func (m *mapCacheStore) Close() error { return nil }

var _ CacheStore = (*mapCacheStore)(nil)

func TestModelInvokerFunc(t *testing.T) {
	var got InvokeRequest
	var invoker ModelInvoker = ModelInvokerFunc(func(_ context.Context, req InvokeRequest) (InvokeResponse, error) {
		got = req
		return InvokeResponse{Text: "hello", Latency: 15 * time.Millisecond, Usage: domain.Usage{InputTokens: 3, OutputTokens: 1}}, nil
	})

	resp, err := invoker.Invoke(context.Background(), InvokeRequest{Model: "openai:gpt-4o", Prompt: "hi", Temperature: 0.2})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Text)
	assert.Equal(t, 4, resp.Usage.Total())
	assert.Equal(t, "openai:gpt-4o", got.Model)
	assert.Equal(t, 0.2, got.Temperature)
}

func TestCacheStoreContract(t *testing.T) {
	ctx := context.Background()
	var store CacheStore = &mapCacheStore{data: make(map[domain.Fingerprint]domain.CachedResponse)}
	fp, err := domain.ComputeFingerprint(domain.FingerprintInput{Model: "openai:gpt-4o", Prompt: "hi"})
	require.NoError(t, err)

	_, ok, err := store.Lookup(ctx, fp)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Store(ctx, domain.CachedResponse{Fingerprint: fp, Text: "first"}))
	require.NoError(t, store.Store(ctx, domain.CachedResponse{Fingerprint: fp, Text: "second"}))

	got, ok, err := store.Lookup(ctx, fp)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "second", got.Text)

	require.NoError(t, store.Clear(ctx))
	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Entries)
}
