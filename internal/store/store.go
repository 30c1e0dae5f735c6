// Package store implements the opaque key-value contract the engine
// persists through: counters, hash maps, per-user/game hashes and lists,
// and the raw seen[] byte blob, all backed by PostgreSQL via pgx rather
// than the original lock-free LIFO connection pool over a KV backend —
// the pool's lock-free CAS design is exactly the kind of shared-state
// coordination the design notes flag for replacement (see DESIGN.md).
package store

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// KVStore is the opaque contract every handler depends on. It intentionally
// mirrors the original valkey-backed primitives (INCR, HSET/HGET, list
// push capped at a history limit, raw byte get/set) rather than exposing
// domain types, so callers remain storage-agnostic.
type KVStore interface {
	Incr(ctx context.Context, counter string) (int64, error)

	HSet(ctx context.Context, key, field, value string) error
	HGet(ctx context.Context, key, field string) (string, bool, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	LPush(ctx context.Context, key, value string, cap int) error
	LRange(ctx context.Context, key string, limit int) ([]string, error)

	GetBytes(ctx context.Context, key string) ([]byte, error)
	SetBytes(ctx context.Context, key string, value []byte) error
	AppendBytes(ctx context.Context, key string, suffix []byte) error

	Reset(ctx context.Context) error
	Close()
}

// PostgresStore implements KVStore over four typed tables (kv_counter,
// kv_hash, kv_list, kv_bytes), the way the teacher's PostgresStore wraps a
// domain schema over pgxpool.Pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// Connect opens the pool and verifies connectivity, matching the teacher's
// Connect/Ping pattern.
func Connect(ctx context.Context, connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping failed: %w", err)
	}
	log.Println("connected to PostgreSQL key-value store")
	return &PostgresStore{pool: pool}, nil
}

// Close releases every pooled connection.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema creates the tables this store needs if they don't exist yet.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS kv_counter (
	name TEXT PRIMARY KEY,
	value BIGINT NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS kv_hash (
	key TEXT NOT NULL,
	field TEXT NOT NULL,
	value TEXT NOT NULL,
	PRIMARY KEY (key, field)
);
CREATE TABLE IF NOT EXISTS kv_list (
	key TEXT NOT NULL,
	position BIGSERIAL,
	value TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS kv_list_key_idx ON kv_list (key, position DESC);
CREATE TABLE IF NOT EXISTS kv_bytes (
	key TEXT PRIMARY KEY,
	value BYTEA NOT NULL
);
`
	_, err := s.pool.Exec(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to initialize kv schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Incr(ctx context.Context, counter string) (int64, error) {
	var value int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO kv_counter (name, value) VALUES ($1, 1)
		ON CONFLICT (name) DO UPDATE SET value = kv_counter.value + 1
		RETURNING value`, counter).Scan(&value)
	return value, err
}

func (s *PostgresStore) HSet(ctx context.Context, key, field, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO kv_hash (key, field, value) VALUES ($1, $2, $3)
		ON CONFLICT (key, field) DO UPDATE SET value = EXCLUDED.value`, key, field, value)
	return err
}

func (s *PostgresStore) HGet(ctx context.Context, key, field string) (string, bool, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM kv_hash WHERE key = $1 AND field = $2`, key, field).Scan(&value)
	if err != nil {
		if isNoRows(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

func (s *PostgresStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT field, value FROM kv_hash WHERE key = $1`, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var field, value string
		if err := rows.Scan(&field, &value); err != nil {
			return nil, err
		}
		out[field] = value
	}
	return out, rows.Err()
}

// LPush inserts value at the head of the list at key and trims the list to
// cap entries, matching the per-user games list's "newest first, capped at
// a history limit" contract.
func (s *PostgresStore) LPush(ctx context.Context, key, value string, cap int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `INSERT INTO kv_list (key, value) VALUES ($1, $2)`, key, value); err != nil {
		return err
	}
	if cap > 0 {
		_, err = tx.Exec(ctx, `
			DELETE FROM kv_list WHERE key = $1 AND position NOT IN (
				SELECT position FROM kv_list WHERE key = $1 ORDER BY position DESC LIMIT $2
			)`, key, cap)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) LRange(ctx context.Context, key string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT value FROM kv_list WHERE key = $1 ORDER BY position DESC LIMIT $2`, key, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, err
		}
		out = append(out, value)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetBytes(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.pool.QueryRow(ctx, `SELECT value FROM kv_bytes WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return value, nil
}

func (s *PostgresStore) SetBytes(ctx context.Context, key string, value []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO kv_bytes (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	return err
}

// AppendBytes appends suffix to the byte blob at key, creating it if
// absent — the seen[] stream grows by exactly one byte per processed
// patron.
func (s *PostgresStore) AppendBytes(ctx context.Context, key string, suffix []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO kv_bytes (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = kv_bytes.value || EXCLUDED.value`, key, suffix)
	return err
}

// Reset deletes every key. Failure here is fatal at startup, per the
// error-handling contract.
func (s *PostgresStore) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		TRUNCATE kv_counter, kv_hash, kv_list, kv_bytes`)
	return err
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
