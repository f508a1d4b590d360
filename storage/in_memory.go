package storage

import (
	"context"
	"sync"
)

// InMemory is a volatile Blob implementation keeping documents in a map
// guarded by an RWMutex. Data is copied on put and get to avoid accidental
// external mutation of internal buffers. Suited to tests and single-process
// prototypes; it does not survive restarts.
type InMemory struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

// NewInMemory returns an empty in-memory blob store.
func NewInMemory() *InMemory {
	return &InMemory{docs: make(map[string][]byte)}
}

// Get returns a copy of the stored document bytes or ErrNotFound.
func (s *InMemory) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.docs[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// Put stores (or overwrites) the document bytes for the given key.
func (s *InMemory) Put(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.docs[key] = cp
	return nil
}
