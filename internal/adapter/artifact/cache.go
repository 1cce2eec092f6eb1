package artifact

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// CachedStore wraps a Store with an in-memory TTL cache. Without it every
// Load goes to the backend, which is the default: a retrain in another
// process is visible on the very next call. With it, a changed artifact is
// picked up at most ttl later.
type CachedStore struct {
	inner Store
	ttl   time.Duration
	clock clockwork.Clock
	cache *lruCache
}

// NewCachedStore creates a cache decorator around a store.
func NewCachedStore(inner Store, ttl time.Duration, maxEntries int, clock clockwork.Clock) *CachedStore {
	return &CachedStore{
		inner: inner,
		ttl:   ttl,
		clock: clock,
		cache: newLRUCache(maxEntries),
	}
}

// Save writes through and refreshes the cached copy.
func (c *CachedStore) Save(ctx context.Context, path string, data []byte) error {
	if err := c.inner.Save(ctx, path, data); err != nil {
		c.cache.delete(path)
		return err
	}
	c.cache.put(path, slices.Clone(data), c.clock.Now())
	return nil
}

// Load serves a cached copy younger than ttl, otherwise reloads.
func (c *CachedStore) Load(ctx context.Context, path string) ([]byte, error) {
	if data, at, ok := c.cache.get(path); ok && c.clock.Since(at) < c.ttl {
		return data, nil
	}
	data, err := c.inner.Load(ctx, path)
	if err != nil {
		// Absence is never cached so the first training run is seen immediately.
		c.cache.delete(path)
		return nil, err
	}
	c.cache.put(path, data, c.clock.Now())
	return data, nil
}

// lruCache is a simple thread-safe LRU cache of artifact blobs.
type lruCache struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	key      string
	value    []byte
	loadedAt time.Time
	prev     *entry
	next     *entry
}

func newLRUCache(maxEntries int) *lruCache {
	return &lruCache{
		maxEntries: max(maxEntries, 1),
		entries:    make(map[string]*entry),
	}
}

func (c *lruCache) get(key string) ([]byte, time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, time.Time{}, false
	}
	c.moveToFront(e)
	return e.value, e.loadedAt, true
}

func (c *lruCache) put(key string, value []byte, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value, e.loadedAt = value, at
		c.moveToFront(e)
		return
	}

	e := &entry{key: key, value: value, loadedAt: at}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *lruCache) delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		delete(c.entries, key)
		c.remove(e)
	}
}

func (c *lruCache) moveToFront(e *entry) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *lruCache) addToFront(e *entry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *lruCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
