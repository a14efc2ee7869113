package ledger

import (
	"context"
	"sync"
)

// MemoryStore is a concurrency-safe in-memory Store useful for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
	seq     int64
}

// NewMemoryStore creates an empty in-memory entry store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make([]Entry, 0)}
}

func (s *MemoryStore) Ping(_ context.Context) error {
	if s == nil {
		return ErrStoreUnavailable
	}
	return nil
}

func (s *MemoryStore) Last(_ context.Context) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.entries) == 0 {
		return nil, nil
	}

	last := s.entries[0]
	for _, e := range s.entries[1:] {
		if newer(e, last) {
			last = e
		}
	}
	return &last, nil
}

func (s *MemoryStore) Append(_ context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	entry.Sequence = s.seq
	s.entries = append(s.entries, *entry)
	return nil
}

// Entries returns a copy of all entries in insertion order.
func (s *MemoryStore) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	copied := make([]Entry, len(s.entries))
	copy(copied, s.entries)
	return copied
}

// Len reports how many entries have been appended.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func newer(a, b Entry) bool {
	if a.EventTime.Equal(b.EventTime) {
		return a.Sequence > b.Sequence
	}
	return a.EventTime.After(b.EventTime)
}

var _ Store = (*MemoryStore)(nil)
