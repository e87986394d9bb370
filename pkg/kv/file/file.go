// Package file provides a [kv.Store] persisted as a single JSON document on
// disk. Every write rewrites the whole document through a temp file and an
// atomic rename, so readers never observe a partially written store.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/MrWong99/voxnode/pkg/kv"
)

var _ kv.Store = (*Store)(nil)

// DefaultName is the file name used inside the store directory.
const DefaultName = "store.json"

// Store is a JSON-file-backed [kv.Store].
type Store struct {
	mu     sync.Mutex
	path   string
	data   map[string]string
	closed bool
}

// Open loads (or initialises) the store at dir/[DefaultName]. The directory is
// created with mode 0o755 if it does not exist.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("kv file: create dir: %w", err)
	}
	s := &Store{
		path: filepath.Join(dir, DefaultName),
		data: make(map[string]string),
	}

	raw, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("kv file: read %q: %w", s.path, err)
	}
	if len(raw) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		return nil, fmt.Errorf("kv file: decode %q: %w", s.path, err)
	}
	return s, nil
}

// Path returns the location of the backing file.
func (s *Store) Path() string { return s.path }

// Get implements [kv.Store].
func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
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
	prev, had := s.data[key]
	s.data[key] = value
	if err := s.flushLocked(); err != nil {
		if had {
			s.data[key] = prev
		} else {
			delete(s.data, key)
		}
		return err
	}
	return nil
}

// Delete implements [kv.Store].
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return kv.ErrClosed
	}
	prev, had := s.data[key]
	if !had {
		return nil
	}
	delete(s.data, key)
	if err := s.flushLocked(); err != nil {
		s.data[key] = prev
		return err
	}
	return nil
}

// Close implements [kv.Store].
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// flushLocked writes the full map to disk. s.mu must be held.
func (s *Store) flushLocked() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("kv file: encode: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".store-*.json")
	if err != nil {
		return fmt.Errorf("kv file: create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("kv file: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("kv file: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("kv file: close temp: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("kv file: rename: %w", err)
	}
	return nil
}
