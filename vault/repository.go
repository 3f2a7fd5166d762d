// Copyright 2026 The Coffer Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"context"
	"errors"
)

// ErrNotFound reports a credential id with no stored record.
var ErrNotFound = errors.New("credential not found")

// ErrConflict reports a fingerprint-checked update that lost the
// race: the stored record changed after the writer read it.
var ErrConflict = errors.New("credential changed concurrently")

// ErrStorage categorizes persistence failures so callers can tell a
// broken store from a bad request. Implementations wrap it around the
// underlying driver error.
var ErrStorage = errors.New("storage failure")

// CredentialRepository persists credentials. The core never touches
// storage directly; the store package provides the sqlite
// implementation and tests use in-memory fakes.
type CredentialRepository interface {
	// CredentialsForIdentity returns the identity's credentials,
	// oldest first. An unknown identity yields an empty slice.
	CredentialsForIdentity(ctx context.Context, identityID string) ([]Credential, error)

	// Credential returns one record by id, or ErrNotFound.
	Credential(ctx context.Context, id string) (Credential, error)

	Create(ctx context.Context, credential Credential) error

	// Update replaces the stored record only while its fingerprint
	// still equals previousFingerprint; otherwise ErrConflict.
	Update(ctx context.Context, credential Credential, previousFingerprint string) error

	// Delete removes one record by id, or ErrNotFound.
	Delete(ctx context.Context, id string) error

	// ForEach visits every credential in the vault, all identities
	// included. A non-nil callback error stops the walk and is
	// returned. The callback may update the record it was handed.
	ForEach(ctx context.Context, fn func(Credential) error) error
}

// Transactor runs a function atomically: every repository call made
// through the callback's context commits or rolls back as one unit.
// Master password rotation depends on this: a half-rewrapped vault
// must never become visible.
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
