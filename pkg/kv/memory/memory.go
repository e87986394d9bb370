// Package memory provides an in-process [kv.Store] backed by a map.
package memory

import (
	"context"
	"sync"

	"github.com/MrWong99/voxnode/pkg/kv"
)

var _ kv.Store = (*Store)(nil)

// Store is a map-backed [kv.Store]. The zero value is not usable; call [New].
type Store struct {
	mu     sync.RWMutex
	data   map[string]string
	closed bool
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{data: make(map[string]string)}
}

// Get implements [kv.Store].
func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", false, kv.ErrClosed
	}
	v, ok := s.data[key]
	return v, ok, nil
}

// Set implements [kv.Store].
func (s *Store) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return kv.ErrClosed
	}
	s.data[key] = value
	return nil
}

// Delete implements [kv.Store].
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return kv.ErrClosed
	}
	delete(s.data, key)
	return nil
}

// Close implements [kv.Store].
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
