package artifact

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/couchcryptid/sensebox-telemetry-service/internal/domain"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- in-memory store for cache tests ---

type memStore struct {
	mu        sync.Mutex
	blobs     map[string][]byte
	loadCalls int
	saveErr   error
}

func newMemStore() *memStore {
	return &memStore{blobs: make(map[string][]byte)}
}

func (m *memStore) Save(_ context.Context, path string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.blobs[path] = data
	return nil
}

func (m *memStore) Load(_ context.Context, path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadCalls++
	data, ok := m.blobs[path]
	if !ok {
		return nil, domain.ErrModelNotFound
	}
	return data, nil
}

// --- CachedStore tests ---

func TestCachedStore_HitWithinTTL(t *testing.T) {
	inner := newMemStore()
	inner.blobs["m.json"] = []byte("v1")
	clock := clockwork.NewFakeClock()
	cached := NewCachedStore(inner, time.Minute, 4, clock)

	for range 3 {
		data, err := cached.Load(context.Background(), "m.json")
		require.NoError(t, err)
		assert.Equal(t, "v1", string(data))
	}
	assert.Equal(t, 1, inner.loadCalls)
}

func TestCachedStore_ReloadsAfterTTL(t *testing.T) {
	inner := newMemStore()
	inner.blobs["m.json"] = []byte("v1")
	clock := clockwork.NewFakeClock()
	cached := NewCachedStore(inner, time.Minute, 4, clock)

	_, err := cached.Load(context.Background(), "m.json")
	require.NoError(t, err)

	// Another process retrains.
	inner.blobs["m.json"] = []byte("v2")

	data, err := cached.Load(context.Background(), "m.json")
	require.NoError(t, err)
	assert.Equal(t, "v1", string(data), "stale copy is served within ttl")

	clock.Advance(time.Minute)

	data, err = cached.Load(context.Background(), "m.json")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))
	assert.Equal(t, 2, inner.loadCalls)
}

func TestCachedStore_AbsenceNotCached(t *testing.T) {
	inner := newMemStore()
	cached := NewCachedStore(inner, time.Hour, 4, clockwork.NewFakeClock())

	_, err := cached.Load(context.Background(), "m.json")
	require.ErrorIs(t, err, domain.ErrModelNotFound)

	inner.blobs["m.json"] = []byte("v1")

	data, err := cached.Load(context.Background(), "m.json")
	require.NoError(t, err)
	assert.Equal(t, "v1", string(data))
}

func TestCachedStore_SaveWritesThrough(t *testing.T) {
	inner := newMemStore()
	cached := NewCachedStore(inner, time.Hour, 4, clockwork.NewFakeClock())

	require.NoError(t, cached.Save(context.Background(), "m.json", []byte("v1")))
	assert.Equal(t, "v1", string(inner.blobs["m.json"]))

	data, err := cached.Load(context.Background(), "m.json")
	require.NoError(t, err)
	assert.Equal(t, "v1", string(data))
	assert.Equal(t, 0, inner.loadCalls, "save should populate the cache")
}

func TestCachedStore_SaveFailureDropsEntry(t *testing.T) {
	inner := newMemStore()
	inner.blobs["m.json"] = []byte("v1")
	cached := NewCachedStore(inner, time.Hour, 4, clockwork.NewFakeClock())

	_, err := cached.Load(context.Background(), "m.json")
	require.NoError(t, err)

	inner.saveErr = errors.New("disk full")
	require.Error(t, cached.Save(context.Background(), "m.json", []byte("v2")))

	_, err = cached.Load(context.Background(), "m.json")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.loadCalls)
}

// --- LRU cache unit tests ---

func TestLRUCache_BasicGetPut(t *testing.T) {
	c := newLRUCache(3)
	now := time.Unix(0, 0)

	c.put("a", []byte("1"), now)
	c.put("b", []byte("2"), now)

	v, at, ok := c.get("a")
	assert.True(t, ok)
	assert.Equal(t, "1", string(v))
	assert.Equal(t, now, at)

	_, _, ok = c.get("missing")
	assert.False(t, ok)
}

func TestLRUCache_Eviction(t *testing.T) {
	c := newLRUCache(2)
	now := time.Unix(0, 0)

	c.put("a", []byte("1"), now)
	c.put("b", []byte("2"), now)
	c.get("a") // a becomes most recent
	c.put("c", []byte("3"), now)

	_, _, ok := c.get("b")
	assert.False(t, ok, "b should be evicted")
	_, _, ok = c.get("a")
	assert.True(t, ok)
	_, _, ok = c.get("c")
	assert.True(t, ok)
}

func TestLRUCache_UpdateExisting(t *testing.T) {
	c := newLRUCache(2)
	c.put("a", []byte("1"), time.Unix(0, 0))
	c.put("a", []byte("2"), time.Unix(10, 0))

	v, at, ok := c.get("a")
	assert.True(t, ok)
	assert.Equal(t, "2", string(v))
	assert.Equal(t, time.Unix(10, 0), at)
	assert.Len(t, c.entries, 1)
}

func TestLRUCache_Delete(t *testing.T) {
	c := newLRUCache(2)
	c.put("a", []byte("1"), time.Unix(0, 0))
	c.delete("a")
	c.delete("a")

	_, _, ok := c.get("a")
	assert.False(t, ok)
	assert.Nil(t, c.head)
	assert.Nil(t, c.tail)
}
