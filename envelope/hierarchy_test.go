// Copyright 2026 The Coffer Authors
// SPDX-License-Identifier: Apache-2.0

package envelope

import (
	"bytes"
	"errors"
	"testing"

	"github.com/coffer-foundation/coffer/lib/secret"
)

func newTestHierarchy(t *testing.T) *KeyHierarchy {
	t.Helper()
	master, err := secret.Random(KeySize)
	if err != nil {
		t.Fatalf("generating master key: %v", err)
	}
	hierarchy, err := NewKeyHierarchy(master)
	if err != nil {
		t.Fatalf("NewKeyHierarchy() error: %v", err)
	}
	t.Cleanup(func() { hierarchy.Close() })
	return hierarchy
}

func TestHierarchy_RoundTrip(t *testing.T) {
	hierarchy := newTestHierarchy(t)

	plaintexts := [][]byte{
		[]byte(""),
		[]byte("p@ssw0rd"),
		bytes.Repeat([]byte("credential payload "), 500),
	}

	for i, plaintext := range plaintexts {
		wrappedKey, ciphertext, err := hierarchy.EncryptWithNewItemKey(plaintext)
		if err != nil {
			t.Fatalf("case %d: EncryptWithNewItemKey() error: %v", i, err)
		}

		decrypted, err := hierarchy.DecryptWithWrappedKey(wrappedKey, ciphertext)
		if err != nil {
			t.Fatalf("case %d: DecryptWithWrappedKey() error: %v", i, err)
		}

		if !bytes.Equal(decrypted, plaintext) {
			t.Errorf("case %d: round trip mismatch", i)
		}
	}
}

func TestHierarchy_FreshKeyPerEncryption(t *testing.T) {
	hierarchy := newTestHierarchy(t)
	plaintext := []byte("identical plaintext")

	wrappedA, ciphertextA, err := hierarchy.EncryptWithNewItemKey(plaintext)
	if err != nil {
		t.Fatalf("first EncryptWithNewItemKey() error: %v", err)
	}
	wrappedB, ciphertextB, err := hierarchy.EncryptWithNewItemKey(plaintext)
	if err != nil {
		t.Fatalf("second EncryptWithNewItemKey() error: %v", err)
	}

	if bytes.Equal(wrappedA, wrappedB) {
		t.Error("two encryptions produced identical wrapped keys")
	}
	if bytes.Equal(ciphertextA, ciphertextB) {
		t.Error("two encryptions produced identical ciphertext")
	}
}

func TestHierarchy_TamperedWrappedKey(t *testing.T) {
	hierarchy := newTestHierarchy(t)

	wrappedKey, ciphertext, err := hierarchy.EncryptWithNewItemKey([]byte("payload"))
	if err != nil {
		t.Fatalf("EncryptWithNewItemKey() error: %v", err)
	}

	for byteIndex := range wrappedKey {
		tampered := make([]byte, len(wrappedKey))
		copy(tampered, wrappedKey)
		tampered[byteIndex] ^= 0x80

		if _, err := hierarchy.DecryptWithWrappedKey(tampered, ciphertext); !errors.Is(err, ErrCryptographic) {
			t.Fatalf("byte %d tampered: error = %v, want ErrCryptographic", byteIndex, err)
		}
	}
}

func TestHierarchy_TamperedCiphertext(t *testing.T) {
	hierarchy := newTestHierarchy(t)

	wrappedKey, ciphertext, err := hierarchy.EncryptWithNewItemKey([]byte("payload"))
	if err != nil {
		t.Fatalf("EncryptWithNewItemKey() error: %v", err)
	}

	for byteIndex := range ciphertext {
		tampered := make([]byte, len(ciphertext))
		copy(tampered, ciphertext)
		tampered[byteIndex] ^= 0x01

		decrypted, err := hierarchy.DecryptWithWrappedKey(wrappedKey, tampered)
		if err == nil {
			t.Fatalf("byte %d tampered: decryption succeeded with %d bytes", byteIndex, len(decrypted))
		}
	}
}

func TestHierarchy_WrappedKeyFromWrongMaster(t *testing.T) {
	hierarchy := newTestHierarchy(t)
	other := newTestHierarchy(t)

	wrappedKey, ciphertext, err := hierarchy.EncryptWithNewItemKey([]byte("payload"))
	if err != nil {
		t.Fatalf("EncryptWithNewItemKey() error: %v", err)
	}

	if _, err := other.DecryptWithWrappedKey(wrappedKey, ciphertext); !errors.Is(err, ErrCryptographic) {
		t.Errorf("foreign master unwrap: error = %v, want ErrCryptographic", err)
	}
}

func TestHierarchy_RejectsOversizedUnwrappedKey(t *testing.T) {
	hierarchy := newTestHierarchy(t)

	// Wrap 33 bytes instead of a proper 32-byte item key. Unwrapping
	// authenticates fine but the length gate must reject it.
	bogus, err := Encrypt(hierarchy.master, make([]byte, 33))
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}

	_, err = hierarchy.DecryptWithWrappedKey(bogus, []byte("irrelevant"))
	if !errors.Is(err, ErrCryptographic) {
		t.Errorf("33-byte unwrapped key: error = %v, want ErrCryptographic", err)
	}
}

func TestHierarchy_DecryptLegacy(t *testing.T) {
	master, err := secret.Random(KeySize)
	if err != nil {
		t.Fatalf("generating master key: %v", err)
	}

	// A legacy record is encrypted directly under the master key,
	// before the hierarchy takes ownership of the buffer.
	legacyCiphertext, err := Encrypt(master, []byte("pre-envelope record"))
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}

	hierarchy, err := NewKeyHierarchy(master)
	if err != nil {
		t.Fatalf("NewKeyHierarchy() error: %v", err)
	}
	defer hierarchy.Close()

	decrypted, err := hierarchy.DecryptLegacy(legacyCiphertext)
	if err != nil {
		t.Fatalf("DecryptLegacy() error: %v", err)
	}
	if got, want := string(decrypted), "pre-envelope record"; got != want {
		t.Errorf("DecryptLegacy() = %q, want %q", got, want)
	}
}

func TestHierarchy_RewrapItemKey(t *testing.T) {
	oldHierarchy := newTestHierarchy(t)
	newHierarchy := newTestHierarchy(t)
	plaintext := []byte("survives rotation")

	wrappedKey, ciphertext, err := oldHierarchy.EncryptWithNewItemKey(plaintext)
	if err != nil {
		t.Fatalf("EncryptWithNewItemKey() error: %v", err)
	}

	rewrapped, err := oldHierarchy.RewrapItemKey(wrappedKey, newHierarchy)
	if err != nil {
		t.Fatalf("RewrapItemKey() error: %v", err)
	}

	// The ciphertext is untouched; only the wrapping moved.
	decrypted, err := newHierarchy.DecryptWithWrappedKey(rewrapped, ciphertext)
	if err != nil {
		t.Fatalf("DecryptWithWrappedKey() after rewrap error: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Error("rewrap round trip mismatch")
	}

	// The old wrapping must not open under the new master.
	if _, err := newHierarchy.DecryptWithWrappedKey(wrappedKey, ciphertext); err == nil {
		t.Error("old wrapped key decrypts under new master")
	}
}

func TestNewKeyHierarchy_RejectsBadMaster(t *testing.T) {
	short, err := secret.Random(16)
	if err != nil {
		t.Fatalf("generating short key: %v", err)
	}
	defer short.Close()

	if _, err := NewKeyHierarchy(short); !errors.Is(err, ErrCryptographic) {
		t.Errorf("NewKeyHierarchy(16-byte key): error = %v, want ErrCryptographic", err)
	}
	if _, err := NewKeyHierarchy(nil); !errors.Is(err, ErrCryptographic) {
		t.Errorf("NewKeyHierarchy(nil): error = %v, want ErrCryptographic", err)
	}
}
