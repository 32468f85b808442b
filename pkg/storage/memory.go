package storage

import (
	"context"
	"sync/atomic"

	"github.com/yndnr/bunqsession-go/pkg/cmap"
)

// MemoryStore keeps values in a sharded in-process map.
type MemoryStore struct {
	items  *cmap.Map[string]
	closed atomic.Bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: cmap.New[string]()}
}

// Get retrieves a value by key.
func (s *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	if err := s.check(ctx); err != nil {
		return "", err
	}
	v, ok := s.items.Get(key)
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// Set stores a key-value pair.
func (s *MemoryStore) Set(ctx context.Context, key, value string) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	s.items.Set(key, value)
	return nil
}

// Remove deletes a key.
func (s *MemoryStore) Remove(ctx context.Context, key string) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	s.items.Delete(key)
	return nil
}

// Keys lists stored keys with the given prefix.
func (s *MemoryStore) Keys(prefix string) []string {
	return s.items.Keys(prefix)
}

// Len returns the number of stored keys.
func (s *MemoryStore) Len() int {
	return s.items.Len()
}

// Close marks the store closed. Further calls return ErrClosed.
func (s *MemoryStore) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *MemoryStore) check(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return ctx.Err()
}
