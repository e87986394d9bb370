// Package kv defines the string key/value persistence contract used by the
// notebook store and its backends.
//
// A [Store] maps opaque string keys to opaque string values. Values written
// with [Store.Set] must be returned byte-for-byte by a later [Store.Get], even
// across process restarts for the durable backends.
//
// Backends:
//
//   - memory: process-local map, used in tests and for ephemeral runs
//   - file: one JSON document per store directory, written atomically
//   - sqlite: a single-table SQLite database (modernc.org/sqlite, no cgo)
//   - postgres: a single-table PostgreSQL database (pgx/v5)
//
// Every implementation must be safe for concurrent use.
package kv

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a store that has been closed.
var ErrClosed = errors.New("kv: store closed")

// Store is a durable string key/value map.
type Store interface {
	// Get returns the value stored under key. ok is false when the key has
	// never been set or was deleted; err is reserved for backend failures.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases backend resources. Calling Close more than once is safe.
	Close() error
}
