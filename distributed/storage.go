package distributed

import (
	"context"
	"slices"
	"sync"
)

// Storage holds the encoded column records of one partition. A
// PartitionActor serializes all calls addressed to its partition.
type Storage interface {
	// Get returns the entries of keys in key order and the keys without a
	// value.
	Get(ctx context.Context, keys []int) ([]Entry, []int, error)
	// Set stores entries, replacing existing values.
	Set(ctx context.Context, entries []Entry) error
	// Scan returns every stored entry.
	Scan(ctx context.Context) ([]Entry, error)
	// Len returns the number of stored entries.
	Len(ctx context.Context) (int, error)
}

// MemoryStorage is an in-process Storage.
type MemoryStorage struct {
	mu     sync.RWMutex
	values map[int][]byte
}

// NewMemoryStorage creates an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: make(map[int][]byte)}
}

// Get implements Storage.
func (s *MemoryStorage) Get(_ context.Context, keys []int) ([]Entry, []int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		entries []Entry
		missing []int
	)
	for _, key := range keys {
		if v, ok := s.values[key]; ok {
			entries = append(entries, Entry{Key: key, Value: slices.Clone(v)})
		} else {
			missing = append(missing, key)
		}
	}
	return entries, missing, nil
}

// Set implements Storage.
func (s *MemoryStorage) Set(_ context.Context, entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.values[e.Key] = slices.Clone(e.Value)
	}
	return nil
}

// Scan implements Storage. Entries are returned in key order.
func (s *MemoryStorage) Scan(_ context.Context) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]Entry, 0, len(s.values))
	for key, v := range s.values {
		entries = append(entries, Entry{Key: key, Value: slices.Clone(v)})
	}
	slices.SortFunc(entries, func(a, b Entry) int { return a.Key - b.Key })
	return entries, nil
}

// Len implements Storage.
func (s *MemoryStorage) Len(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values), nil
}
