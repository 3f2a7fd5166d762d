// Copyright 2026 The Coffer Authors
// SPDX-License-Identifier: Apache-2.0

// Package store is the sqlite implementation of the vault's
// persistence contracts: [auth.UserAuthRepository],
// [vault.CredentialRepository], [audit.Repository], and
// [vault.Transactor].
//
// All state lives in one database file with three tables: user_auth
// (one row per vault), credentials, and audit_log. The schema is
// created idempotently when the store opens. Timestamps are stored as
// Unix nanoseconds; maps and string lists are stored as JSON text.
// Ciphertext columns are BLOBs and are opaque to this package; the
// store never sees plaintext credential data.
//
// Multi-statement writes (master password rotation) run inside a
// single IMMEDIATE transaction via [Store.WithTransaction]. The
// transaction's connection travels in the context, so repository
// calls made from the callback share it and commit or roll back as
// one unit.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/coffer-foundation/coffer/lib/clock"
	"github.com/coffer-foundation/coffer/lib/sqlitepool"
)

// schema creates the store's tables and indexes. Every statement is
// idempotent; the script runs once per pooled connection.
const schema = `
	CREATE TABLE IF NOT EXISTS user_auth (
		user_id                  TEXT PRIMARY KEY,
		password_hash            TEXT NOT NULL,
		master_salt              TEXT NOT NULL,
		factors                  TEXT,
		failed_attempts          INTEGER NOT NULL DEFAULT 0,
		locked_until             INTEGER NOT NULL DEFAULT 0,
		last_auth                INTEGER NOT NULL DEFAULT 0,
		password_change_required INTEGER NOT NULL DEFAULT 0,
		created_at               INTEGER NOT NULL,
		updated_at               INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS credentials (
		id               TEXT PRIMARY KEY,
		identity_id      TEXT NOT NULL,
		type             TEXT NOT NULL,
		name             TEXT NOT NULL,
		security_level   INTEGER NOT NULL,
		encrypted_data   BLOB NOT NULL,
		wrapped_item_key BLOB,
		metadata         TEXT,
		fingerprint      TEXT NOT NULL,
		created_at       INTEGER NOT NULL,
		updated_at       INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_credentials_identity
		ON credentials(identity_id, created_at);

	CREATE TABLE IF NOT EXISTS audit_log (
		id            INTEGER PRIMARY KEY,
		action        TEXT NOT NULL,
		resource      TEXT NOT NULL,
		success       INTEGER NOT NULL,
		identity_id   TEXT,
		credential_id TEXT,
		metadata      TEXT,
		created_at    INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_created
		ON audit_log(created_at);
	CREATE INDEX IF NOT EXISTS idx_audit_action
		ON audit_log(action, created_at);
	CREATE INDEX IF NOT EXISTS idx_audit_credential
		ON audit_log(credential_id, created_at);
`

// StoreConfig holds the dependencies for opening a Store. All fields
// except PoolSize are required.
type StoreConfig struct {
	// Path is the database file path. ":memory:" works for tests
	// with PoolSize 1.
	Path string

	// PoolSize is the connection pool size. Defaults to 4.
	PoolSize int

	// Clock stamps audit entries that arrive without a creation
	// time.
	Clock clock.Clock

	// Logger receives operational messages.
	Logger *slog.Logger
}

// Store is the sqlite-backed persistence layer.
type Store struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger
}

// OpenStore opens (creating if needed) the vault database at the
// configured path and prepares the schema. The caller must Close the
// store when done.
func OpenStore(cfg StoreConfig) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store: Path is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("store: Clock is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("store: Logger is required")
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: poolSize,
		Logger:   cfg.Logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: opening database: %w", err)
	}

	return &Store{
		pool:   pool,
		clock:  cfg.Clock,
		logger: cfg.Logger,
	}, nil
}

// Close releases the connection pool. Blocks until all borrowed
// connections are returned.
func (s *Store) Close() error {
	return s.pool.Close()
}

// connKey carries a transaction's connection through the context so
// repository calls made inside WithTransaction share it.
type connKey struct{}

// conn returns the connection to use for ctx: the transaction's
// connection when one is bound, otherwise a fresh connection from the
// pool. The release func must be called when done; it is a no-op for
// transaction connections, which WithTransaction returns itself.
func (s *Store) conn(ctx context.Context) (*sqlite.Conn, func(), error) {
	if conn, ok := ctx.Value(connKey{}).(*sqlite.Conn); ok {
		return conn, func() {}, nil
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, nil, err
	}
	return conn, func() { s.pool.Put(conn) }, nil
}

// WithTransaction runs fn inside a single IMMEDIATE transaction.
// Repository calls made through the context fn receives use the
// transaction's connection; they commit together when fn returns nil
// and roll back together when it returns an error. Transactions do
// not nest.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := ctx.Value(connKey{}).(*sqlite.Conn); ok {
		return fmt.Errorf("store: transaction already in progress")
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	err = fn(context.WithValue(ctx, connKey{}, conn))
	return err
}

// unixNanos converts a time to its storage form. The zero time maps
// to 0, not to time.Time{}.UnixNano().
func unixNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

// timeFromNanos is the inverse of unixNanos.
func timeFromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// readBlob copies a BLOB column into a fresh slice sized to the
// stored value. Returns nil for NULL or empty columns.
func readBlob(stmt *sqlite.Stmt, column int) []byte {
	length := stmt.ColumnLen(column)
	if length == 0 {
		return nil
	}
	blob := make([]byte, length)
	stmt.ColumnBytes(column, blob)
	return blob
}
