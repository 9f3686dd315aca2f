package session

import (
	"sort"
	"sync"
)

// Store is a thread-safe registry of per-device records.
//
// Records are created on first lookup and kept for the life of the process.
// Nothing is ever evicted, so memory grows with the number of distinct
// devices seen; a product fleet is bounded in practice.
type Store[V any] struct {
	mu      sync.RWMutex
	entries map[string]V // keyed by device ID
	create  func(deviceID string) V
}

// NewStore creates a store that builds missing records with create.
func NewStore[V any](create func(deviceID string) V) *Store[V] {
	return &Store[V]{
		entries: make(map[string]V),
		create:  create,
	}
}

// GetOrCreate returns the record for deviceID, creating it if needed.
// The second result reports whether the record was created by this call.
func (s *Store[V]) GetOrCreate(deviceID string) (V, bool) {
	s.mu.RLock()
	v, ok := s.entries[deviceID]
	s.mu.RUnlock()
	if ok {
		return v, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Another goroutine may have created it between the locks.
	if v, ok := s.entries[deviceID]; ok {
		return v, false
	}
	v = s.create(deviceID)
	s.entries[deviceID] = v
	return v, true
}

// Get retrieves the record for deviceID without creating it.
func (s *Store[V]) Get(deviceID string) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.entries[deviceID]
	return v, ok
}

// Count returns the number of records.
func (s *Store[V]) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// DeviceIDs returns the known device IDs in sorted order.
func (s *Store[V]) DeviceIDs() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids
}
