// Copyright 2026 The Coffer Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"

	"github.com/coffer-foundation/coffer/lib/clock"
)

// Logger writes audit entries best-effort: a failed write is reported
// through the process log and otherwise swallowed, so auditing can
// never block or fail the operation it describes.
type Logger struct {
	repo   Repository
	clock  clock.Clock
	logger *slog.Logger
}

// NewLogger returns a Logger recording through repo. Write failures
// are reported on logger.
func NewLogger(repo Repository, clk clock.Clock, logger *slog.Logger) *Logger {
	return &Logger{
		repo:   repo,
		clock:  clk,
		logger: logger,
	}
}

// Record persists one entry. A zero CreatedAt is stamped with the
// current time.
func (l *Logger) Record(ctx context.Context, entry Entry) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = l.clock.Now()
	}
	if err := l.repo.Create(ctx, entry); err != nil {
		l.logger.Warn("audit write failed",
			"action", string(entry.Action),
			"resource", entry.Resource,
			"error", err)
	}
}

// RecordSign records one signing attempt by an agent key. Only the
// SHA-256 digest of the signed payload is stored. For denied
// attempts, reason names the policy decision that blocked it.
func (l *Logger) RecordSign(ctx context.Context, identityID, credentialID string, payload []byte, success bool, reason string) {
	digest := sha256.Sum256(payload)
	meta := map[string]string{
		"payload_sha256": hex.EncodeToString(digest[:]),
	}
	if reason != "" {
		meta["reason"] = reason
	}
	l.Record(ctx, Entry{
		Action:       ActionSign,
		Resource:     "agent_key",
		Success:      success,
		IdentityID:   identityID,
		CredentialID: credentialID,
		Metadata:     meta,
	})
}
