// Copyright 2026 The Coffer Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"bytes"
	"testing"

	"github.com/coffer-foundation/coffer/lib/secret"
)

func passwordBuffer(t *testing.T, password string) *secret.Buffer {
	t.Helper()
	buffer, err := secret.NewFromBytes([]byte(password))
	if err != nil {
		t.Fatalf("creating password buffer: %v", err)
	}
	t.Cleanup(func() { buffer.Close() })
	return buffer
}

func TestDeriveMasterKey_Deterministic(t *testing.T) {
	salt, err := NewMasterSalt()
	if err != nil {
		t.Fatalf("NewMasterSalt() error: %v", err)
	}

	first, err := DeriveMasterKey(passwordBuffer(t, "hunter2"), salt)
	if err != nil {
		t.Fatalf("DeriveMasterKey() error: %v", err)
	}
	defer first.Close()

	second, err := DeriveMasterKey(passwordBuffer(t, "hunter2"), salt)
	if err != nil {
		t.Fatalf("DeriveMasterKey() error: %v", err)
	}
	defer second.Close()

	if first.Len() != MasterKeySize {
		t.Errorf("key length = %d, want %d", first.Len(), MasterKeySize)
	}
	if !bytes.Equal(first.Bytes(), second.Bytes()) {
		t.Error("same password and salt derived different keys")
	}
}

func TestDeriveMasterKey_VariesWithInputs(t *testing.T) {
	saltA, err := NewMasterSalt()
	if err != nil {
		t.Fatalf("NewMasterSalt() error: %v", err)
	}
	saltB, err := NewMasterSalt()
	if err != nil {
		t.Fatalf("NewMasterSalt() error: %v", err)
	}

	base, err := DeriveMasterKey(passwordBuffer(t, "hunter2"), saltA)
	if err != nil {
		t.Fatalf("DeriveMasterKey() error: %v", err)
	}
	defer base.Close()

	otherPassword, err := DeriveMasterKey(passwordBuffer(t, "hunter3"), saltA)
	if err != nil {
		t.Fatalf("DeriveMasterKey() error: %v", err)
	}
	defer otherPassword.Close()

	otherSalt, err := DeriveMasterKey(passwordBuffer(t, "hunter2"), saltB)
	if err != nil {
		t.Fatalf("DeriveMasterKey() error: %v", err)
	}
	defer otherSalt.Close()

	if bytes.Equal(base.Bytes(), otherPassword.Bytes()) {
		t.Error("different passwords derived the same key")
	}
	if bytes.Equal(base.Bytes(), otherSalt.Bytes()) {
		t.Error("different salts derived the same key")
	}
}

func TestDeriveMasterKey_RejectsBadSalt(t *testing.T) {
	if _, err := DeriveMasterKey(passwordBuffer(t, "pw"), make([]byte, 16)); err == nil {
		t.Error("DeriveMasterKey() accepted a 16-byte salt")
	}
	if _, err := DeriveMasterKey(passwordBuffer(t, "pw"), nil); err == nil {
		t.Error("DeriveMasterKey() accepted a nil salt")
	}
}

func TestNewMasterSalt(t *testing.T) {
	first, err := NewMasterSalt()
	if err != nil {
		t.Fatalf("NewMasterSalt() error: %v", err)
	}
	second, err := NewMasterSalt()
	if err != nil {
		t.Fatalf("NewMasterSalt() error: %v", err)
	}

	if len(first) != MasterSaltSize {
		t.Errorf("salt length = %d, want %d", len(first), MasterSaltSize)
	}
	if bytes.Equal(first, second) {
		t.Error("two salts are identical")
	}
}
