package blobstore

import (
	"container/list"
	"context"
	"slices"
	"sync"
)

// DefaultCacheBytes is the cache budget used when NewCachingStore is given a
// non-positive size.
const DefaultCacheBytes = 64 << 20

// CachingStore wraps a Store and keeps recently read blobs in memory.
// Writes and deletes go through to the inner store and invalidate the
// cached copy. Eviction is least-recently-used by byte budget.
type CachingStore struct {
	inner    Store
	maxBytes int64

	mu     sync.Mutex
	lru    *list.List
	items  map[string]*list.Element
	size   int64
	hits   int64
	misses int64
}

type cacheEntry struct {
	name string
	data []byte
}

// NewCachingStore creates a new CachingStore.
// maxBytes defaults to DefaultCacheBytes if <= 0.
func NewCachingStore(inner Store, maxBytes int64) *CachingStore {
	if maxBytes <= 0 {
		maxBytes = DefaultCacheBytes
	}
	return &CachingStore{
		inner:    inner,
		maxBytes: maxBytes,
		lru:      list.New(),
		items:    make(map[string]*list.Element),
	}
}

// Put writes through and drops the cached copy.
func (s *CachingStore) Put(ctx context.Context, name string, data []byte) error {
	s.invalidate(name)
	return s.inner.Put(ctx, name, data)
}

// Get serves name from the cache, falling back to the inner store.
func (s *CachingStore) Get(ctx context.Context, name string) ([]byte, error) {
	s.mu.Lock()
	if el, ok := s.items[name]; ok {
		s.lru.MoveToFront(el)
		s.hits++
		data := slices.Clone(el.Value.(*cacheEntry).data)
		s.mu.Unlock()
		return data, nil
	}
	s.misses++
	s.mu.Unlock()

	data, err := s.inner.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	s.add(name, slices.Clone(data))
	return data, nil
}

// Delete removes name from the inner store and the cache.
func (s *CachingStore) Delete(ctx context.Context, name string) error {
	s.invalidate(name)
	return s.inner.Delete(ctx, name)
}

// List is passed through to the inner store.
func (s *CachingStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

// Stats returns the hit and miss counters.
func (s *CachingStore) Stats() (hits, misses int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits, s.misses
}

func (s *CachingStore) add(name string, data []byte) {
	if int64(len(data)) > s.maxBytes {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.items[name]; ok {
		s.removeElement(el)
	}
	s.items[name] = s.lru.PushFront(&cacheEntry{name: name, data: data})
	s.size += int64(len(data))
	for s.size > s.maxBytes {
		s.removeElement(s.lru.Back())
	}
}

func (s *CachingStore) invalidate(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.items[name]; ok {
		s.removeElement(el)
	}
}

func (s *CachingStore) removeElement(el *list.Element) {
	e := s.lru.Remove(el).(*cacheEntry)
	delete(s.items, e.name)
	s.size -= int64(len(e.data))
}
