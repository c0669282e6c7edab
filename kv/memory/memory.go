// Package memory provides an in-process implementation of the durable
// storage contract. It is the default backend for tests and single-node
// deployments.
package memory

import (
	"context"
	"sync"

	"github.com/authlane/access"
)

// DefaultMaxValueSize is the per-value size quantum. Writes above this limit
// fail with access.ErrValueTooLarge.
const DefaultMaxValueSize = 128 << 10

// Backend hands out namespaced stores over a shared in-process map set.
type Backend struct {
	mu           sync.Mutex
	stores       map[string]*Store
	maxValueSize int
}

// NewBackend creates a backend. maxValueSize <= 0 selects
// DefaultMaxValueSize.
func NewBackend(maxValueSize int) *Backend {
	if maxValueSize <= 0 {
		maxValueSize = DefaultMaxValueSize
	}
	return &Backend{
		stores:       make(map[string]*Store),
		maxValueSize: maxValueSize,
	}
}

// Namespace returns the store for the given session namespace, creating it
// on first use.
func (b *Backend) Namespace(id string) access.Storage {
	b.mu.Lock()
	defer b.mu.Unlock()

	if s, ok := b.stores[id]; ok {
		return s
	}
	s := &Store{
		data:         make(map[string][]byte),
		maxValueSize: b.maxValueSize,
	}
	b.stores[id] = s
	return s
}

// Close implements access.Backend. Nothing to release for the in-process
// backend.
func (b *Backend) Close(context.Context) error { return nil }

// Store is one namespace's key-value state.
type Store struct {
	mu           sync.Mutex
	data         map[string][]byte
	maxValueSize int
}

// NewStore creates a standalone store, mostly useful in tests.
func NewStore(maxValueSize int) *Store {
	if maxValueSize <= 0 {
		maxValueSize = DefaultMaxValueSize
	}
	return &Store{
		data:         make(map[string][]byte),
		maxValueSize: maxValueSize,
	}
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *Store) Put(_ context.Context, key string, value []byte) error {
	if len(value) > s.maxValueSize {
		return access.ErrValueTooLarge
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = append([]byte(nil), value...)
	return nil
}

func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.data[key]
	delete(s.data, key)
	return ok, nil
}

func (s *Store) DeleteAll(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = make(map[string][]byte)
	return nil
}

// Update runs fn against a staged view of the store. Staged writes commit
// only when fn returns nil; any error discards them all.
func (s *Store) Update(_ context.Context, fn func(tx access.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		store:   s,
		writes:  make(map[string][]byte),
		deletes: make(map[string]bool),
	}
	if err := fn(tx); err != nil {
		return err
	}
	for key := range tx.deletes {
		delete(s.data, key)
	}
	for key, value := range tx.writes {
		s.data[key] = value
	}
	return nil
}

type memTx struct {
	store   *Store
	writes  map[string][]byte
	deletes map[string]bool
}

func (tx *memTx) Get(key string) ([]byte, bool, error) {
	if v, ok := tx.writes[key]; ok {
		return append([]byte(nil), v...), true, nil
	}
	if tx.deletes[key] {
		return nil, false, nil
	}
	v, ok := tx.store.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (tx *memTx) Put(key string, value []byte) error {
	if len(value) > tx.store.maxValueSize {
		return access.ErrValueTooLarge
	}
	delete(tx.deletes, key)
	tx.writes[key] = append([]byte(nil), value...)
	return nil
}

func (tx *memTx) Delete(key string) (bool, error) {
	if _, ok := tx.writes[key]; ok {
		delete(tx.writes, key)
		tx.deletes[key] = true
		return true, nil
	}
	if tx.deletes[key] {
		return false, nil
	}
	_, ok := tx.store.data[key]
	tx.deletes[key] = true
	return ok, nil
}
