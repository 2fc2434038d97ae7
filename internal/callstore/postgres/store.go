// Package postgres provides a PostgreSQL-backed implementation of
// [callstore.Store].
//
// All operations share a single [pgxpool.Pool] connection pool. [New] runs
// the schema migration on startup via CREATE TABLE IF NOT EXISTS, so no
// external migration tooling is required.
//
// Usage:
//
//	store, err := postgres.New(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	callID, callerID, err := store.Start(ctx, callUUID, phone)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zentrylabs/zentry/internal/callstore"
)

// Compile-time interface check.
var _ callstore.Store = (*Store)(nil)

// Store is the PostgreSQL-backed call store. All operations are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store, establishes a connection pool to the PostgreSQL
// database at dsn, and runs [Migrate] to ensure the required tables exist.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("callstore: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("callstore: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("callstore: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("callstore: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Start implements callstore.Store. The caller profile is created on first
// contact and reused on every later call from the same number; the
// ON CONFLICT upsert keeps concurrent first calls from racing.
func (s *Store) Start(ctx context.Context, callUUID, phone string) (string, string, error) {
	hash := callstore.HashPhone(phone)

	var callerID string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO caller_profiles (phone_hash)
		VALUES ($1)
		ON CONFLICT (phone_hash) DO UPDATE SET last_seen_at = now()
		RETURNING id::text`,
		hash,
	).Scan(&callerID)
	if err != nil {
		return "", "", fmt.Errorf("callstore: upsert caller profile: %w", err)
	}

	var callID string
	err = s.pool.QueryRow(ctx, `
		INSERT INTO call_sessions (call_uuid, caller_id)
		VALUES ($1, $2)
		RETURNING id::text`,
		callUUID, callerID,
	).Scan(&callID)
	if err != nil {
		return "", "", fmt.Errorf("callstore: insert call session: %w", err)
	}

	return callID, callerID, nil
}

// End implements callstore.Store. Already-ended sessions keep their
// original end time.
func (s *Store) End(ctx context.Context, callID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE call_sessions
		SET ended_at = now()
		WHERE id::text = $1 AND ended_at IS NULL`,
		callID,
	)
	if err != nil {
		return fmt.Errorf("callstore: end call %s: %w", callID, err)
	}
	return nil
}

// Close releases all connections held by the underlying connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
