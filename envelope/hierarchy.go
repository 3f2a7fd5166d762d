// Copyright 2026 The Coffer Authors
// SPDX-License-Identifier: Apache-2.0

package envelope

import (
	"fmt"

	"github.com/coffer-foundation/coffer/lib/secret"
)

// KeyHierarchy performs per-item envelope encryption rooted at the
// master key. Each stored secret is encrypted under its own random
// item key; the item key is wrapped (encrypted) by the master key and
// persisted next to the ciphertext. Item keys exist in memory only for
// the duration of a single call and are zeroed before it returns.
//
// The hierarchy takes ownership of the master key buffer; Close
// releases it. Safe for concurrent use; the master key is read-only
// after construction.
type KeyHierarchy struct {
	master *secret.Buffer
}

// NewKeyHierarchy wraps a derived master key. The hierarchy owns the
// buffer from this point; callers must not Close it themselves.
func NewKeyHierarchy(master *secret.Buffer) (*KeyHierarchy, error) {
	if master == nil || master.Len() != KeySize {
		return nil, fmt.Errorf("envelope: master key must be %d bytes: %w", KeySize, ErrCryptographic)
	}
	return &KeyHierarchy{master: master}, nil
}

// EncryptWithNewItemKey encrypts plaintext under a fresh random item
// key and wraps that key under the master key. Returns the wrapped key
// and the ciphertext; the raw item key is zeroed before return.
func (h *KeyHierarchy) EncryptWithNewItemKey(plaintext []byte) (wrappedKey, ciphertext []byte, err error) {
	itemKey, err := NewItemKey()
	if err != nil {
		return nil, nil, err
	}
	defer itemKey.Close()

	ciphertext, err = Encrypt(itemKey, plaintext)
	if err != nil {
		return nil, nil, err
	}

	wrappedKey, err = Encrypt(h.master, itemKey.Bytes())
	if err != nil {
		return nil, nil, err
	}

	return wrappedKey, ciphertext, nil
}

// DecryptWithWrappedKey unwraps the item key with the master key and
// decrypts the ciphertext with it. The unwrapped key must be exactly
// 32 bytes; anything else fails with ErrCryptographic. The item key is
// zeroed before return on every path.
func (h *KeyHierarchy) DecryptWithWrappedKey(wrappedKey, ciphertext []byte) ([]byte, error) {
	itemKey, err := h.unwrap(wrappedKey)
	if err != nil {
		return nil, err
	}
	defer itemKey.Close()

	return Decrypt(itemKey, ciphertext)
}

// DecryptLegacy decrypts a record written before item keys existed:
// the payload is encrypted directly under the master key, with no
// wrapped key alongside it.
func (h *KeyHierarchy) DecryptLegacy(ciphertext []byte) ([]byte, error) {
	return Decrypt(h.master, ciphertext)
}

// RewrapItemKey re-encrypts a wrapped item key under another
// hierarchy's master key. Used during master password rotation: the
// payload ciphertext is untouched, only the wrapping changes. The raw
// item key stays in locked memory throughout.
func (h *KeyHierarchy) RewrapItemKey(wrappedKey []byte, next *KeyHierarchy) ([]byte, error) {
	itemKey, err := h.unwrap(wrappedKey)
	if err != nil {
		return nil, err
	}
	defer itemKey.Close()

	return Encrypt(next.master, itemKey.Bytes())
}

// unwrap recovers the item key from its wrapping into locked memory.
func (h *KeyHierarchy) unwrap(wrappedKey []byte) (*secret.Buffer, error) {
	raw, err := Decrypt(h.master, wrappedKey)
	if err != nil {
		return nil, err
	}

	if len(raw) != KeySize {
		secret.Zero(raw)
		return nil, fmt.Errorf("envelope: unwrapped item key has invalid length: %w", ErrCryptographic)
	}

	// NewFromBytes zeros the heap copy the moment the key is in
	// locked memory.
	itemKey, err := secret.NewFromBytes(raw)
	if err != nil {
		secret.Zero(raw)
		return nil, err
	}

	return itemKey, nil
}

// Close zeroes and releases the master key. The hierarchy is unusable
// afterwards.
func (h *KeyHierarchy) Close() error {
	return h.master.Close()
}
