package vectorindex

import (
	"context"
	"sync"
)

type memoryCollection struct {
	entries []Entry
	byID    map[string]int
}

// MemoryStore keeps collections in process memory.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memoryCollection
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]*memoryCollection)}
}

func (s *MemoryStore) Stage(_ context.Context, collection string) (Staging, error) {
	return &memoryStaging{
		store:      s,
		collection: collection,
		next:       newMemoryCollection(),
	}, nil
}

func newMemoryCollection() *memoryCollection {
	return &memoryCollection{byID: make(map[string]int)}
}

func (c *memoryCollection) upsert(entries []Entry) {
	for _, entry := range entries {
		if pos, ok := c.byID[entry.ID]; ok {
			c.entries[pos] = entry
			continue
		}
		c.byID[entry.ID] = len(c.entries)
		c.entries = append(c.entries, entry)
	}
}

// memoryStaging builds a collection off to the side and swaps it in on Commit.
type memoryStaging struct {
	store      *MemoryStore
	collection string
	next       *memoryCollection
}

func (m *memoryStaging) Upsert(_ context.Context, entries []Entry) error {
	if m.next == nil {
		return ErrStagingClosed
	}
	m.next.upsert(entries)
	return nil
}

func (m *memoryStaging) Commit(_ context.Context) error {
	if m.next == nil {
		return ErrStagingClosed
	}

	m.store.mu.Lock()
	m.store.collections[m.collection] = m.next
	m.store.mu.Unlock()

	m.next = nil
	return nil
}

func (m *memoryStaging) Discard(_ context.Context) error {
	m.next = nil
	return nil
}

func (s *MemoryStore) Count(_ context.Context, collection string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if c, ok := s.collections[collection]; ok {
		return len(c.entries), nil
	}
	return 0, nil
}

func (s *MemoryStore) Get(_ context.Context, collection, id string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[collection]
	if !ok {
		return Entry{}, ErrNotFound
	}
	pos, ok := c.byID[id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return c.entries[pos], nil
}

func (s *MemoryStore) Search(_ context.Context, collection string, vector []float32, k int) ([]Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[collection]
	if !ok {
		return []Match{}, nil
	}
	return rank(c.entries, vector, k), nil
}

func (s *MemoryStore) Close() error {
	return nil
}
