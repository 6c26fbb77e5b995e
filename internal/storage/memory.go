package storage

import (
	"sort"
	"sync"
)

// MemoryStore keeps values in process memory. It is the default adapter and
// the one tests use; contents are lost on restart.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string]map[string][]byte
	closed bool
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]map[string][]byte)}
}

// Get implements Store.
func (s *MemoryStore) Get(namespace, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	value, ok := s.data[namespace][key]
	if !ok {
		return nil, ErrNotFound
	}

	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Set implements Store.
func (s *MemoryStore) Set(namespace, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if s.data[namespace] == nil {
		s.data[namespace] = make(map[string][]byte)
	}

	stored := make([]byte, len(value))
	copy(stored, value)
	s.data[namespace][key] = stored
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(namespace, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	delete(s.data[namespace], key)
	return nil
}

// Clear implements Store.
func (s *MemoryStore) Clear(namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	delete(s.data, namespace)
	return nil
}

// Keys implements Store.
func (s *MemoryStore) Keys(namespace string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	keys := make([]string, 0, len(s.data[namespace]))
	for k := range s.data[namespace] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Has implements Store.
func (s *MemoryStore) Has(namespace, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false, ErrStoreClosed
	}
	_, ok := s.data[namespace][key]
	return ok, nil
}

// Size implements Store.
func (s *MemoryStore) Size(namespace string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrStoreClosed
	}
	return len(s.data[namespace]), nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.data = nil
	return nil
}
