package cas

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"snapgraph/metrics"
)

// ErrNotFound is returned when a referenced hash is absent from a store.
var ErrNotFound = errors.New("content not found")

// NotFound wraps ErrNotFound with the missing hash.
func NotFound(h Hash) error {
	return fmt.Errorf("%w: %s", ErrNotFound, h)
}

// Store is an append-only content-addressable store. Put is idempotent:
// identical bytes always map to the same hash and are stored once.
type Store interface {
	Put(ctx context.Context, data []byte) (Hash, error)
	Get(ctx context.Context, h Hash) ([]byte, error)
	Has(ctx context.Context, h Hash) (bool, error)
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[Hash][]byte
	writes  int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[Hash][]byte)}
}

// Put stores data under its hash.
func (m *MemoryStore) Put(ctx context.Context, data []byte) (Hash, error) {
	if err := ctx.Err(); err != nil {
		return ZeroHash, err
	}
	h := Sum(data)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[h]; ok {
		metrics.ContentWrites.WithLabelValues("memory", "dedup").Inc()
		return h, nil
	}
	metrics.ContentWrites.WithLabelValues("memory", "stored").Inc()
	buf := make([]byte, len(data))
	copy(buf, data)
	m.objects[h] = buf
	m.writes++
	return h, nil
}

// Get returns the bytes stored under h.
func (m *MemoryStore) Get(ctx context.Context, h Hash) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[h]
	if !ok {
		return nil, NotFound(h)
	}
	return data, nil
}

// Has reports whether h is stored.
func (m *MemoryStore) Has(ctx context.Context, h Hash) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[h]
	return ok, nil
}

// Len returns the number of stored entries.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

// Writes returns how many Puts actually wrote new content.
func (m *MemoryStore) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

// Hashes returns every stored hash, in no particular order.
func (m *MemoryStore) Hashes() []Hash {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Hash, 0, len(m.objects))
	for h := range m.objects {
		out = append(out, h)
	}
	return out
}
