// Copyright 2026 The Coffer Authors
// SPDX-License-Identifier: Apache-2.0

// Package envelope implements the vault's two-tier encryption: an
// AES-256-GCM primitive and a key hierarchy that gives every stored
// secret its own single-use item key, wrapped by the master key.
//
// Wire layout for every ciphertext is a random 96-bit nonce followed
// by the GCM output: nonce || ciphertext+tag. The same layout is used
// for wrapped item keys (the "plaintext" is the 32 raw key bytes) and
// for credential payloads.
//
// Decryption failures are deliberately opaque: callers get
// [ErrCryptographic], never whether the tag failed, where, or why.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/coffer-foundation/coffer/lib/secret"
)

const (
	// KeySize is the AES-256 key length. Master keys and item keys
	// are both exactly this size.
	KeySize = 32

	// nonceSize is the standard GCM nonce length.
	nonceSize = 12
)

// ErrCryptographic is the generic category for every encryption and
// decryption failure: tag mismatch, truncated input, malformed wrapped
// key, wrong key length. Callers can test with errors.Is but learn
// nothing beyond the category.
var ErrCryptographic = errors.New("cryptographic failure")

// NewItemKey generates a fresh random 256-bit key in locked memory.
// The caller owns the buffer and must Close it; the hierarchy does
// this automatically inside its own operations.
func NewItemKey() (*secret.Buffer, error) {
	return secret.Random(KeySize)
}

// Encrypt seals plaintext under key with AES-256-GCM and a fresh
// random nonce, returning nonce || ciphertext+tag. Two calls with the
// same inputs never produce the same output.
func Encrypt(key *secret.Buffer, plaintext []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceSize, nonceSize+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("envelope: generating nonce: %w", err)
	}

	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens data produced by Encrypt. The first 12 bytes are the
// nonce; the remainder is authenticated ciphertext. Truncated input or
// a failed tag yields ErrCryptographic and no partial plaintext.
func Decrypt(key *secret.Buffer, data []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	if len(data) < nonceSize+aead.Overhead() {
		return nil, fmt.Errorf("envelope: decryption failed: %w", ErrCryptographic)
	}

	nonce := data[:nonceSize]
	ciphertext := data[nonceSize:]

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		// The underlying error is dropped: which byte failed or why
		// must not reach callers or logs.
		return nil, fmt.Errorf("envelope: decryption failed: %w", ErrCryptographic)
	}

	return plaintext, nil
}

func newAEAD(key *secret.Buffer) (cipher.AEAD, error) {
	if key == nil || key.Len() != KeySize {
		return nil, fmt.Errorf("envelope: key must be %d bytes: %w", KeySize, ErrCryptographic)
	}

	block, err := aes.NewCipher(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("envelope: %w", ErrCryptographic)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("envelope: %w", ErrCryptographic)
	}

	return aead, nil
}
