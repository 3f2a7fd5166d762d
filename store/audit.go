// Copyright 2026 The Coffer Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/coffer-foundation/coffer/audit"
)

// AuditStore is the audit.Repository view of a Store.
type AuditStore struct {
	store *Store
}

// Audit returns the store's audit repository.
func (s *Store) Audit() AuditStore {
	return AuditStore{store: s}
}

// Create appends an entry to the audit log. An entry arriving with a
// zero CreatedAt is stamped with the store's clock.
func (a AuditStore) Create(ctx context.Context, entry audit.Entry) error {
	conn, release, err := a.store.conn(ctx)
	if err != nil {
		return fmt.Errorf("store: writing audit entry: %w", err)
	}
	defer release()

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = a.store.clock.Now()
	}

	var metadataJSON any
	if len(entry.Metadata) > 0 {
		data, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("store: encoding audit metadata: %w", err)
		}
		metadataJSON = string(data)
	}

	err = sqlitex.Execute(conn, `INSERT INTO audit_log
		(action, resource, success, identity_id, credential_id,
		 metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
		Args: []any{
			string(entry.Action),
			entry.Resource,
			boolToInt(entry.Success),
			nullableText(entry.IdentityID),
			nullableText(entry.CredentialID),
			metadataJSON,
			unixNanos(entry.CreatedAt),
		},
	})
	if err != nil {
		return fmt.Errorf("store: writing audit entry: %w", err)
	}
	return nil
}

// List returns audit entries matching the filter, newest first.
func (a AuditStore) List(ctx context.Context, filter audit.Filter) ([]audit.Entry, error) {
	conn, release, err := a.store.conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: listing audit entries: %w", err)
	}
	defer release()

	var conditions []string
	var args []any
	if filter.Action != "" {
		conditions = append(conditions, "action = ?")
		args = append(args, string(filter.Action))
	}
	if filter.CredentialID != "" {
		conditions = append(conditions, "credential_id = ?")
		args = append(args, filter.CredentialID)
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, filter.Since.UnixNano())
	}

	query := `SELECT id, action, resource, success, identity_id,
		credential_id, metadata, created_at FROM audit_log`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	var entries []audit.Entry
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			entry, scanErr := scanAuditEntry(stmt)
			if scanErr != nil {
				return scanErr
			}
			entries = append(entries, entry)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: listing audit entries: %w", err)
	}
	return entries, nil
}

func scanAuditEntry(stmt *sqlite.Stmt) (audit.Entry, error) {
	// Columns: id(0), action(1), resource(2), success(3),
	// identity_id(4), credential_id(5), metadata(6), created_at(7)

	entry := audit.Entry{
		ID:           stmt.ColumnInt64(0),
		Action:       audit.Action(stmt.ColumnText(1)),
		Resource:     stmt.ColumnText(2),
		Success:      stmt.ColumnInt(3) != 0,
		IdentityID:   stmt.ColumnText(4),
		CredentialID: stmt.ColumnText(5),
		CreatedAt:    timeFromNanos(stmt.ColumnInt64(7)),
	}

	if !stmt.ColumnIsNull(6) {
		if err := json.Unmarshal([]byte(stmt.ColumnText(6)), &entry.Metadata); err != nil {
			return audit.Entry{}, fmt.Errorf("store: decoding audit metadata: %w", err)
		}
	}

	return entry, nil
}

// nullableText maps an empty string to NULL so unattributed entries
// stay out of the credential index.
func nullableText(s string) any {
	if s == "" {
		return nil
	}
	return s
}
