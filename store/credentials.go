// Copyright 2026 The Coffer Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"encoding/json"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/coffer-foundation/coffer/vault"
)

// credentialColumns is the SELECT list every credential scan uses.
// scanCredential depends on this exact order.
const credentialColumns = `id, identity_id, type, name, security_level,
	encrypted_data, wrapped_item_key, metadata, fingerprint,
	created_at, updated_at`

// CredentialStore is the vault.CredentialRepository view of a Store.
type CredentialStore struct {
	store *Store
}

// Credentials returns the store's credential repository.
func (s *Store) Credentials() CredentialStore {
	return CredentialStore{store: s}
}

// CredentialsForIdentity returns the identity's credentials, oldest
// first. An unknown identity yields an empty slice.
func (c CredentialStore) CredentialsForIdentity(ctx context.Context, identityID string) ([]vault.Credential, error) {
	conn, release, err := c.store.conn(ctx)
	if err != nil {
		return nil, storageErr("listing credentials", err)
	}
	defer release()

	var credentials []vault.Credential
	err = sqlitex.Execute(conn, `SELECT `+credentialColumns+`
		FROM credentials WHERE identity_id = ?
		ORDER BY created_at ASC, id ASC`, &sqlitex.ExecOptions{
		Args: []any{identityID},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			credential, scanErr := scanCredential(stmt)
			if scanErr != nil {
				return scanErr
			}
			credentials = append(credentials, credential)
			return nil
		},
	})
	if err != nil {
		return nil, storageErr("listing credentials", err)
	}
	return credentials, nil
}

// Credential returns one record by id, or vault.ErrNotFound.
func (c CredentialStore) Credential(ctx context.Context, id string) (vault.Credential, error) {
	conn, release, err := c.store.conn(ctx)
	if err != nil {
		return vault.Credential{}, storageErr("reading credential", err)
	}
	defer release()

	var credential vault.Credential
	var found bool
	err = sqlitex.Execute(conn, `SELECT `+credentialColumns+`
		FROM credentials WHERE id = ?`, &sqlitex.ExecOptions{
		Args: []any{id},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			found = true
			var scanErr error
			credential, scanErr = scanCredential(stmt)
			return scanErr
		},
	})
	if err != nil {
		return vault.Credential{}, storageErr("reading credential", err)
	}
	if !found {
		return vault.Credential{}, fmt.Errorf("store: credential %s: %w", id, vault.ErrNotFound)
	}
	return credential, nil
}

// Create persists a new credential record.
func (c CredentialStore) Create(ctx context.Context, credential vault.Credential) error {
	conn, release, err := c.store.conn(ctx)
	if err != nil {
		return storageErr("creating credential", err)
	}
	defer release()

	metadataJSON, err := marshalMetadata(credential.Metadata)
	if err != nil {
		return err
	}

	err = sqlitex.Execute(conn, `INSERT INTO credentials
		(id, identity_id, type, name, security_level, encrypted_data,
		 wrapped_item_key, metadata, fingerprint, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
		Args: []any{
			credential.ID,
			credential.IdentityID,
			string(credential.Type),
			credential.Name,
			int(credential.Level),
			credential.EncryptedData,
			nullableBlob(credential.WrappedItemKey),
			metadataJSON,
			credential.Fingerprint,
			unixNanos(credential.CreatedAt),
			unixNanos(credential.UpdatedAt),
		},
	})
	if err != nil {
		return storageErr("creating credential", err)
	}
	return nil
}

// Update replaces the stored record, but only while its fingerprint
// still equals previousFingerprint. A fingerprint that moved since
// the caller read the record yields vault.ErrConflict; a missing
// record yields vault.ErrNotFound. created_at is immutable.
func (c CredentialStore) Update(ctx context.Context, credential vault.Credential, previousFingerprint string) error {
	conn, release, err := c.store.conn(ctx)
	if err != nil {
		return storageErr("updating credential", err)
	}
	defer release()

	metadataJSON, err := marshalMetadata(credential.Metadata)
	if err != nil {
		return err
	}

	err = sqlitex.Execute(conn, `UPDATE credentials SET
		identity_id = ?, type = ?, name = ?, security_level = ?,
		encrypted_data = ?, wrapped_item_key = ?, metadata = ?,
		fingerprint = ?, updated_at = ?
		WHERE id = ? AND fingerprint = ?`, &sqlitex.ExecOptions{
		Args: []any{
			credential.IdentityID,
			string(credential.Type),
			credential.Name,
			int(credential.Level),
			credential.EncryptedData,
			nullableBlob(credential.WrappedItemKey),
			metadataJSON,
			credential.Fingerprint,
			unixNanos(credential.UpdatedAt),
			credential.ID,
			previousFingerprint,
		},
	})
	if err != nil {
		return storageErr("updating credential", err)
	}
	if conn.Changes() > 0 {
		return nil
	}

	// No row matched: either the record is gone or its fingerprint
	// moved. Look again to tell the two apart.
	var exists bool
	err = sqlitex.Execute(conn, "SELECT 1 FROM credentials WHERE id = ?", &sqlitex.ExecOptions{
		Args: []any{credential.ID},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			exists = true
			return nil
		},
	})
	if err != nil {
		return storageErr("updating credential", err)
	}
	if !exists {
		return fmt.Errorf("store: credential %s: %w", credential.ID, vault.ErrNotFound)
	}
	return fmt.Errorf("store: credential %s: %w", credential.ID, vault.ErrConflict)
}

// Delete removes one record by id, or vault.ErrNotFound.
func (c CredentialStore) Delete(ctx context.Context, id string) error {
	conn, release, err := c.store.conn(ctx)
	if err != nil {
		return storageErr("deleting credential", err)
	}
	defer release()

	err = sqlitex.Execute(conn, "DELETE FROM credentials WHERE id = ?", &sqlitex.ExecOptions{
		Args: []any{id},
	})
	if err != nil {
		return storageErr("deleting credential", err)
	}
	if conn.Changes() == 0 {
		return fmt.Errorf("store: credential %s: %w", id, vault.ErrNotFound)
	}
	return nil
}

// ForEach visits every credential in the vault, oldest first. The
// rows are collected before the first callback runs, so the callback
// may update records without disturbing the walk.
func (c CredentialStore) ForEach(ctx context.Context, fn func(vault.Credential) error) error {
	credentials, err := c.allCredentials(ctx)
	if err != nil {
		return err
	}
	for _, credential := range credentials {
		if err := fn(credential); err != nil {
			return err
		}
	}
	return nil
}

// allCredentials reads the whole credentials table. The connection is
// released before returning so ForEach callbacks can take their own.
func (c CredentialStore) allCredentials(ctx context.Context) ([]vault.Credential, error) {
	conn, release, err := c.store.conn(ctx)
	if err != nil {
		return nil, storageErr("walking credentials", err)
	}
	defer release()

	var credentials []vault.Credential
	err = sqlitex.Execute(conn, `SELECT `+credentialColumns+`
		FROM credentials ORDER BY created_at ASC, id ASC`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			credential, scanErr := scanCredential(stmt)
			if scanErr != nil {
				return scanErr
			}
			credentials = append(credentials, credential)
			return nil
		},
	})
	if err != nil {
		return nil, storageErr("walking credentials", err)
	}
	return credentials, nil
}

func scanCredential(stmt *sqlite.Stmt) (vault.Credential, error) {
	// Columns: id(0), identity_id(1), type(2), name(3),
	// security_level(4), encrypted_data(5), wrapped_item_key(6),
	// metadata(7), fingerprint(8), created_at(9), updated_at(10)

	credential := vault.Credential{
		ID:            stmt.ColumnText(0),
		IdentityID:    stmt.ColumnText(1),
		Type:          vault.CredentialType(stmt.ColumnText(2)),
		Name:          stmt.ColumnText(3),
		Level:         vault.SecurityLevel(stmt.ColumnInt(4)),
		EncryptedData: readBlob(stmt, 5),
		Fingerprint:   stmt.ColumnText(8),
		CreatedAt:     timeFromNanos(stmt.ColumnInt64(9)),
		UpdatedAt:     timeFromNanos(stmt.ColumnInt64(10)),
	}

	if !stmt.ColumnIsNull(6) {
		credential.WrappedItemKey = readBlob(stmt, 6)
	}

	if !stmt.ColumnIsNull(7) {
		if err := json.Unmarshal([]byte(stmt.ColumnText(7)), &credential.Metadata); err != nil {
			return vault.Credential{}, fmt.Errorf("store: decoding credential metadata: %w", err)
		}
	}

	return credential, nil
}

// marshalMetadata returns the JSON form of a metadata map, or nil for
// an empty map so the column stores NULL.
func marshalMetadata(metadata map[string]string) (any, error) {
	if len(metadata) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("store: encoding credential metadata: %w", err)
	}
	return string(data), nil
}

// nullableBlob maps a nil slice to NULL. A legacy credential's absent
// wrapped item key must stay distinguishable from an empty one.
func nullableBlob(b []byte) any {
	if b == nil {
		return nil
	}
	return b
}

// storageErr wraps a driver failure so callers can match
// vault.ErrStorage while the underlying cause stays in the chain.
func storageErr(op string, err error) error {
	return fmt.Errorf("store: %s: %w: %w", op, vault.ErrStorage, err)
}
