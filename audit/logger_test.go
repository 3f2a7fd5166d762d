// Copyright 2026 The Coffer Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/coffer-foundation/coffer/lib/clock"
)

type memoryRepo struct {
	entries []Entry
	fail    error
}

func (r *memoryRepo) Create(ctx context.Context, entry Entry) error {
	if r.fail != nil {
		return r.fail
	}
	entry.ID = int64(len(r.entries) + 1)
	r.entries = append(r.entries, entry)
	return nil
}

func (r *memoryRepo) List(ctx context.Context, filter Filter) ([]Entry, error) {
	return r.entries, nil
}

func TestLogger_Record_StampsTime(t *testing.T) {
	repo := &memoryRepo{}
	clk := clock.Fake(time.Unix(1_700_000_000, 0))
	logger := NewLogger(repo, clk, slog.New(slog.NewTextHandler(io.Discard, nil)))

	logger.Record(context.Background(), Entry{
		Action:   ActionCredentialCreate,
		Resource: "credential",
		Success:  true,
	})

	if len(repo.entries) != 1 {
		t.Fatalf("stored %d entries, want 1", len(repo.entries))
	}
	if got := repo.entries[0].CreatedAt; !got.Equal(clk.Now()) {
		t.Errorf("CreatedAt = %v, want %v", got, clk.Now())
	}
}

func TestLogger_Record_KeepsExplicitTime(t *testing.T) {
	repo := &memoryRepo{}
	clk := clock.Fake(time.Unix(1_700_000_000, 0))
	logger := NewLogger(repo, clk, slog.New(slog.NewTextHandler(io.Discard, nil)))

	stamp := time.Unix(1_600_000_000, 0)
	logger.Record(context.Background(), Entry{Action: ActionSign, CreatedAt: stamp})

	if got := repo.entries[0].CreatedAt; !got.Equal(stamp) {
		t.Errorf("CreatedAt = %v, want %v", got, stamp)
	}
}

// A failing repository must not panic or propagate; the failure goes
// to the process log instead.
func TestLogger_Record_SwallowsWriteFailure(t *testing.T) {
	repo := &memoryRepo{fail: errors.New("disk full")}
	clk := clock.Fake(time.Unix(1_700_000_000, 0))

	var logOutput strings.Builder
	logger := NewLogger(repo, clk, slog.New(slog.NewTextHandler(&logOutput, nil)))

	logger.Record(context.Background(), Entry{Action: ActionCredentialDelete, Resource: "credential"})

	if !strings.Contains(logOutput.String(), "audit write failed") {
		t.Errorf("log output %q does not report the failed write", logOutput.String())
	}
}

func TestLogger_RecordSign_StoresDigestNotPayload(t *testing.T) {
	repo := &memoryRepo{}
	clk := clock.Fake(time.Unix(1_700_000_000, 0))
	logger := NewLogger(repo, clk, slog.New(slog.NewTextHandler(io.Discard, nil)))

	payload := []byte("ssh-userauth challenge bytes")
	logger.RecordSign(context.Background(), "identity-1", "credential-1", payload, true, "")

	if len(repo.entries) != 1 {
		t.Fatalf("stored %d entries, want 1", len(repo.entries))
	}
	entry := repo.entries[0]
	if entry.Action != ActionSign {
		t.Errorf("action = %q, want %q", entry.Action, ActionSign)
	}
	if entry.IdentityID != "identity-1" || entry.CredentialID != "credential-1" {
		t.Errorf("attribution = (%q, %q), want (identity-1, credential-1)", entry.IdentityID, entry.CredentialID)
	}

	digest := sha256.Sum256(payload)
	if got := entry.Metadata["payload_sha256"]; got != hex.EncodeToString(digest[:]) {
		t.Errorf("payload_sha256 = %q, want %q", got, hex.EncodeToString(digest[:]))
	}
	if _, ok := entry.Metadata["reason"]; ok {
		t.Error("successful sign should not carry a denial reason")
	}
	for key, value := range entry.Metadata {
		if strings.Contains(value, "challenge") {
			t.Errorf("metadata %q carries payload text: %q", key, value)
		}
	}
}

func TestLogger_RecordSign_DenialReason(t *testing.T) {
	repo := &memoryRepo{}
	clk := clock.Fake(time.Unix(1_700_000_000, 0))
	logger := NewLogger(repo, clk, slog.New(slog.NewTextHandler(io.Discard, nil)))

	logger.RecordSign(context.Background(), "identity-1", "credential-1", []byte("data"), false, "rate_limited")

	if len(repo.entries) != 1 {
		t.Fatalf("stored %d entries, want 1", len(repo.entries))
	}
	entry := repo.entries[0]
	if entry.Success {
		t.Error("entry marked successful for a denied sign")
	}
	if got := entry.Metadata["reason"]; got != "rate_limited" {
		t.Errorf("reason = %q, want %q", got, "rate_limited")
	}
}
