package state

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrUnknownRegion = errors.New("unknown region")
	ErrNotFound      = errors.New("not found")
)

type regionSlot struct {
	mu    sync.RWMutex
	state *RegionState
}

// Store maps region ids to their RegionState. The set of regions is fixed
// at construction; each region has its own reader/writer lock so a busy
// region never blocks queries against another.
type Store struct {
	regions map[int]*regionSlot
}

// NewStore creates one RegionState per graph.
func NewStore(graphs map[int]*PointGraph, opts Options) *Store {
	s := &Store{regions: make(map[int]*regionSlot, len(graphs))}
	for id, g := range graphs {
		s.regions[id] = &regionSlot{state: NewRegionState(id, g, opts)}
	}
	return s
}

// Regions returns the region ids in ascending order.
func (s *Store) Regions() []int {
	ids := make([]int, 0, len(s.regions))
	for id := range s.regions {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Has reports whether region id exists.
func (s *Store) Has(id int) bool {
	_, ok := s.regions[id]
	return ok
}

// WithRegionRead runs fn while holding the region's read lock. fn must not
// retain r or anything it returns by reference.
func (s *Store) WithRegionRead(id int, fn func(r *RegionState) error) error {
	slot, ok := s.regions[id]
	if !ok {
		return fmt.Errorf("region %d: %w", id, ErrUnknownRegion)
	}
	slot.mu.RLock()
	defer slot.mu.RUnlock()
	return fn(slot.state)
}

// WithRegionWrite runs fn while holding the region's write lock.
func (s *Store) WithRegionWrite(id int, fn func(r *RegionState) error) error {
	slot, ok := s.regions[id]
	if !ok {
		return fmt.Errorf("region %d: %w", id, ErrUnknownRegion)
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return fn(slot.state)
}
