// Package postgres provides a [kv.Store] backed by a single PostgreSQL table.
//
// The store holds a [pgxpool.Pool] and runs its own migration on open:
//
//	store, err := postgres.Open(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/voxnode/pkg/kv"
)

var _ kv.Store = (*Store)(nil)

const ddl = `
CREATE TABLE IF NOT EXISTS voxnode_kv (
    key        TEXT        PRIMARY KEY,
    value      TEXT        NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Store is a PostgreSQL-backed [kv.Store]. All operations are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to the database at dsn and ensures the kv table exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("kv postgres: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("kv postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("kv postgres: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddl); err != nil {
		pool.Close()
		return nil, fmt.Errorf("kv postgres: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Pool exposes the underlying connection pool, mainly for health checks.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Get implements [kv.Store].
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.pool.QueryRow(ctx, `SELECT value FROM voxnode_kv WHERE key = $1`, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("kv postgres: get %q: %w", key, err)
	}
	return v, true, nil
}

// Set implements [kv.Store].
func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO voxnode_kv (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, value)
	if err != nil {
		return fmt.Errorf("kv postgres: set %q: %w", key, err)
	}
	return nil
}

// Delete implements [kv.Store].
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM voxnode_kv WHERE key = $1`, key); err != nil {
		return fmt.Errorf("kv postgres: delete %q: %w", key, err)
	}
	return nil
}

// Close implements [kv.Store].
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
