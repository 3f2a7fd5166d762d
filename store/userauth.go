// Copyright 2026 The Coffer Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/coffer-foundation/coffer/auth"
)

// UserAuthStore is the auth.UserAuthRepository view of a Store.
type UserAuthStore struct {
	store *Store
}

// UserAuth returns the store's user-auth repository.
func (s *Store) UserAuth() UserAuthStore {
	return UserAuthStore{store: s}
}

// Get returns the vault's authentication record, or auth.ErrNoVault
// when the vault has never been initialized.
func (u UserAuthStore) Get(ctx context.Context) (auth.UserAuth, error) {
	conn, release, err := u.store.conn(ctx)
	if err != nil {
		return auth.UserAuth{}, fmt.Errorf("store: reading user auth: %w", err)
	}
	defer release()

	var record auth.UserAuth
	var found bool
	err = sqlitex.Execute(conn, `SELECT user_id, password_hash, master_salt,
		factors, failed_attempts, locked_until, last_auth,
		password_change_required, created_at, updated_at
		FROM user_auth LIMIT 1`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			found = true
			var scanErr error
			record, scanErr = scanUserAuth(stmt)
			return scanErr
		},
	})
	if err != nil {
		return auth.UserAuth{}, fmt.Errorf("store: reading user auth: %w", err)
	}
	if !found {
		return auth.UserAuth{}, auth.ErrNoVault
	}
	return record, nil
}

// Create persists the vault's authentication record. Returns
// auth.ErrVaultExists when a record is already present; the vault is
// initialized exactly once.
func (u UserAuthStore) Create(ctx context.Context, record auth.UserAuth) error {
	conn, release, err := u.store.conn(ctx)
	if err != nil {
		return fmt.Errorf("store: creating user auth: %w", err)
	}
	defer release()

	var count int
	err = sqlitex.Execute(conn, "SELECT COUNT(*) FROM user_auth", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			count = stmt.ColumnInt(0)
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("store: creating user auth: %w", err)
	}
	if count > 0 {
		return auth.ErrVaultExists
	}

	factorsJSON, err := marshalFactors(record.Factors)
	if err != nil {
		return err
	}

	err = sqlitex.Execute(conn, `INSERT INTO user_auth
		(user_id, password_hash, master_salt, factors, failed_attempts,
		 locked_until, last_auth, password_change_required, created_at,
		 updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
		Args: []any{
			record.UserID,
			record.PasswordHash,
			hex.EncodeToString(record.MasterSalt),
			factorsJSON,
			record.FailedAttempts,
			unixNanos(record.LockedUntil),
			unixNanos(record.LastAuth),
			boolToInt(record.PasswordChangeRequired),
			unixNanos(record.CreatedAt),
			unixNanos(record.UpdatedAt),
		},
	})
	if err != nil {
		return fmt.Errorf("store: creating user auth: %w", err)
	}
	return nil
}

// Update replaces the stored authentication record. Returns
// auth.ErrNoVault when no record exists to update.
func (u UserAuthStore) Update(ctx context.Context, record auth.UserAuth) error {
	conn, release, err := u.store.conn(ctx)
	if err != nil {
		return fmt.Errorf("store: updating user auth: %w", err)
	}
	defer release()

	factorsJSON, err := marshalFactors(record.Factors)
	if err != nil {
		return err
	}

	err = sqlitex.Execute(conn, `UPDATE user_auth SET
		password_hash = ?, master_salt = ?, factors = ?,
		failed_attempts = ?, locked_until = ?, last_auth = ?,
		password_change_required = ?, updated_at = ?
		WHERE user_id = ?`, &sqlitex.ExecOptions{
		Args: []any{
			record.PasswordHash,
			hex.EncodeToString(record.MasterSalt),
			factorsJSON,
			record.FailedAttempts,
			unixNanos(record.LockedUntil),
			unixNanos(record.LastAuth),
			boolToInt(record.PasswordChangeRequired),
			unixNanos(record.UpdatedAt),
			record.UserID,
		},
	})
	if err != nil {
		return fmt.Errorf("store: updating user auth: %w", err)
	}
	if conn.Changes() == 0 {
		return auth.ErrNoVault
	}
	return nil
}

func scanUserAuth(stmt *sqlite.Stmt) (auth.UserAuth, error) {
	// Columns: user_id(0), password_hash(1), master_salt(2),
	// factors(3), failed_attempts(4), locked_until(5), last_auth(6),
	// password_change_required(7), created_at(8), updated_at(9)

	record := auth.UserAuth{
		UserID:                 stmt.ColumnText(0),
		PasswordHash:           stmt.ColumnText(1),
		FailedAttempts:         stmt.ColumnInt(4),
		LockedUntil:            timeFromNanos(stmt.ColumnInt64(5)),
		LastAuth:               timeFromNanos(stmt.ColumnInt64(6)),
		PasswordChangeRequired: stmt.ColumnInt(7) != 0,
		CreatedAt:              timeFromNanos(stmt.ColumnInt64(8)),
		UpdatedAt:              timeFromNanos(stmt.ColumnInt64(9)),
	}

	salt, err := hex.DecodeString(stmt.ColumnText(2))
	if err != nil {
		return auth.UserAuth{}, fmt.Errorf("store: decoding master salt: %w", err)
	}
	record.MasterSalt = salt

	if !stmt.ColumnIsNull(3) {
		if err := json.Unmarshal([]byte(stmt.ColumnText(3)), &record.Factors); err != nil {
			return auth.UserAuth{}, fmt.Errorf("store: decoding factors: %w", err)
		}
	}

	return record, nil
}

// marshalFactors returns the JSON form of a factor list, or nil for
// an empty list so the column stores NULL.
func marshalFactors(factors []string) (any, error) {
	if len(factors) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(factors)
	if err != nil {
		return nil, fmt.Errorf("store: encoding factors: %w", err)
	}
	return string(data), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
