package catalog

import (
	"slices"
	"sync"
	"time"
)

// Store holds the master device list. Replacement is wholesale; readers
// always get their own copy.
type Store struct {
	mu       sync.RWMutex
	devices  []Device
	version  uint64
	loadedAt time.Time
}

func NewStore() *Store {
	return &Store{}
}

// Replace swaps in a new master list and reports whether it differs from the
// previous one. IDs are assigned where missing.
func (s *Store) Replace(devices []Device) bool {
	next := AssignIDs(devices)

	s.mu.Lock()
	defer s.mu.Unlock()

	changed := s.version == 0 || !slices.Equal(s.devices, next)
	s.devices = next
	s.loadedAt = time.Now()
	if changed {
		s.version++
	}
	return changed
}

// Devices returns the filtered sequence as a fresh slice.
func (s *Store) Devices(f Filter) []Device {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Apply(s.devices, f)
}

func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Loaded reports whether the store has received at least one catalog.
func (s *Store) Loaded() bool {
	return s.Version() > 0
}

func (s *Store) LoadedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadedAt
}
