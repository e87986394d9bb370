package config

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/voxnode/pkg/kv"
	"github.com/MrWong99/voxnode/pkg/provider/stt"
)

// ErrProviderNotRegistered is returned by the Create and Open methods when no
// factory has been registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// StorageFactory opens a key-value store from its configuration block.
type StorageFactory func(ctx context.Context, cfg StorageConfig) (kv.Store, error)

// Registry maps provider names to their constructor functions. It is safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	stt     map[string]func(ProviderEntry) (stt.Provider, error)
	storage map[StorageBackend]StorageFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt:     make(map[string]func(ProviderEntry) (stt.Provider, error)),
		storage: make(map[StorageBackend]StorageFactory),
	}
}

// RegisterSTT registers a streaming speech provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterStorage registers a store factory for backend.
func (r *Registry) RegisterStorage(backend StorageBackend, factory StorageFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.storage[backend] = factory
}

// CreateSTT instantiates a speech provider using the factory registered under
// entry.Name. Returns [ErrProviderNotRegistered] if there is none.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	factory, ok := r.stt[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// OpenStorage opens the store selected by cfg.Backend.
func (r *Registry) OpenStorage(ctx context.Context, cfg StorageConfig) (kv.Store, error) {
	r.mu.RLock()
	factory, ok := r.storage[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: storage/%q", ErrProviderNotRegistered, cfg.Backend)
	}
	return factory(ctx, cfg)
}
