// Package mock provides a configurable test double for [kv.Store].
//
// The mock keeps a real map so read-after-write behaves like a backend, records
// every call, and lets tests inject failures per method:
//
//	store := mock.New()
//	store.SetErr = errors.New("disk full")
//
//	// inject store into the system under test …
//
//	if got := store.CallCount("Set"); got != 1 {
//	    t.Errorf("expected 1 Set call, got %d", got)
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxnode/pkg/kv"
)

var _ kv.Store = (*Store)(nil)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// Store is a map-backed [kv.Store] with error injection.
type Store struct {
	mu sync.Mutex

	calls []Call
	data  map[string]string

	// GetErr is returned by [Store.Get] when non-nil.
	GetErr error

	// SetErr is returned by [Store.Set] when non-nil. The value is not stored.
	SetErr error

	// DeleteErr is returned by [Store.Delete] when non-nil.
	DeleteErr error
}

// New returns an empty mock store.
func New() *Store {
	return &Store{data: make(map[string]string)}
}

// Seed stores value under key without recording a call.
func (m *Store) Seed(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
}

// Value returns the raw stored value without recording a call.
func (m *Store) Value(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok
}

// Calls returns a copy of all recorded method invocations.
func (m *Store) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (m *Store) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears recorded calls. Stored data is kept.
func (m *Store) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// Get implements [kv.Store].
func (m *Store) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Get", Args: []any{key}})
	if m.GetErr != nil {
		return "", false, m.GetErr
	}
	v, ok := m.data[key]
	return v, ok, nil
}

// Set implements [kv.Store].
func (m *Store) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Set", Args: []any{key, value}})
	if m.SetErr != nil {
		return m.SetErr
	}
	m.data[key] = value
	return nil
}

// Delete implements [kv.Store].
func (m *Store) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Delete", Args: []any{key}})
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	delete(m.data, key)
	return nil
}

// Close implements [kv.Store].
func (m *Store) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Close"})
	return nil
}
