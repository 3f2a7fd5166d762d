// Copyright 2026 The Coffer Authors
// SPDX-License-Identifier: Apache-2.0

// Package audit records security-relevant vault and agent events.
//
// Entries are attribution records, not debugging output: they name the
// action, the affected resource, and whether it succeeded, but never
// carry secret material. Signing events store a SHA-256 digest of the
// signed payload so an operator can correlate a signature with the
// request that produced it without the log ever holding the payload.
package audit

import (
	"context"
	"time"
)

// Action identifies what happened. Values are stable storage strings.
type Action string

const (
	ActionCredentialCreate Action = "credential.create"
	ActionCredentialRead   Action = "credential.read"
	ActionCredentialUpdate Action = "credential.update"
	ActionCredentialDelete Action = "credential.delete"
	ActionPasswordChange   Action = "auth.password_change"
	ActionSign             Action = "agent.sign"
)

// Entry is one audit record.
type Entry struct {
	// ID is assigned by storage on creation.
	ID int64

	Action   Action
	Resource string
	Success  bool

	// IdentityID and CredentialID attribute the event to vault
	// records. Either may be empty when the event has no such
	// association (a sign request for an unknown key, for example).
	IdentityID   string
	CredentialID string

	// Metadata holds small attribution details. For ActionSign this
	// carries "payload_sha256"; it never carries payload bytes.
	Metadata map[string]string

	CreatedAt time.Time
}

// Filter narrows a List call. Zero-valued fields match everything.
type Filter struct {
	Action       Action
	CredentialID string
	Since        time.Time

	// Limit caps the number of returned entries, newest first.
	// Zero means no cap.
	Limit int
}

// Repository persists audit entries. The store package provides the
// sqlite implementation; tests use in-memory fakes.
type Repository interface {
	Create(ctx context.Context, entry Entry) error
	List(ctx context.Context, filter Filter) ([]Entry, error)
}
