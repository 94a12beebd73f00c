package cas

import (
	"container/list"
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"snapgraph/metrics"
)

// DefaultCacheEntries is the LRU capacity used when none is given.
const DefaultCacheEntries = 4096

// CachedStore is a read-through cache in front of another Store. Content is
// immutable, so cached entries never need invalidation. Concurrent misses on
// the same hash share a single backend read.
type CachedStore struct {
	backend Store
	max     int

	mu      sync.Mutex
	entries map[Hash]*list.Element
	lru     *list.List

	group singleflight.Group
}

type cacheEntry struct {
	hash Hash
	data []byte
}

// NewCachedStore wraps backend with an LRU of at most maxEntries objects.
func NewCachedStore(backend Store, maxEntries int) *CachedStore {
	if maxEntries <= 0 {
		maxEntries = DefaultCacheEntries
	}
	return &CachedStore{
		backend: backend,
		max:     maxEntries,
		entries: make(map[Hash]*list.Element),
		lru:     list.New(),
	}
}

// Put writes through to the backend and caches the bytes.
func (c *CachedStore) Put(ctx context.Context, data []byte) (Hash, error) {
	h, err := c.backend.Put(ctx, data)
	if err != nil {
		return ZeroHash, err
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	c.add(h, buf)
	return h, nil
}

// Get serves from the cache, falling back to the backend.
func (c *CachedStore) Get(ctx context.Context, h Hash) ([]byte, error) {
	if data, ok := c.lookup(h); ok {
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		return data, nil
	}
	metrics.CacheLookups.WithLabelValues("miss").Inc()

	v, err, _ := c.group.Do(h.String(), func() (interface{}, error) {
		data, err := c.backend.Get(ctx, h)
		if err != nil {
			return nil, err
		}
		c.add(h, data)
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Has checks the cache before asking the backend.
func (c *CachedStore) Has(ctx context.Context, h Hash) (bool, error) {
	if _, ok := c.lookup(h); ok {
		return true, nil
	}
	return c.backend.Has(ctx, h)
}

// Len returns the number of cached entries.
func (c *CachedStore) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *CachedStore) lookup(h Hash) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[h]
	if !ok {
		return nil, false
	}
	c.lru.MoveToFront(el)
	return el.Value.(*cacheEntry).data, true
}

func (c *CachedStore) add(h Hash, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[h]; ok {
		c.lru.MoveToFront(el)
		return
	}
	c.entries[h] = c.lru.PushFront(&cacheEntry{hash: h, data: data})
	for c.lru.Len() > c.max {
		oldest := c.lru.Back()
		c.lru.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).hash)
	}
}
