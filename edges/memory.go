package edges

import (
	"context"
	"sync"
)

// MemoryStore is an in-process edge store, used in tests and single-node
// deployments where the platform graph service is not wired in.
type MemoryStore struct {
	mu    sync.RWMutex
	edges []Edge
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Add records an edge. Duplicate edges are collapsed.
func (s *MemoryStore) Add(e Edge) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.edges {
		if existing == e {
			return
		}
	}
	s.edges = append(s.edges, e)
}

// Remove drops an edge if present.
func (s *MemoryStore) Remove(e Edge) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.edges {
		if existing == e {
			s.edges = append(s.edges[:i], s.edges[i+1:]...)
			return
		}
	}
}

func (s *MemoryStore) Query(_ context.Context, q Query) ([]Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Edge
	for _, e := range s.edges {
		if q.matches(e) {
			out = append(out, e)
		}
	}
	return out, nil
}
