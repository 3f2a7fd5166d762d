// Copyright 2026 The Coffer Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	"github.com/coffer-foundation/coffer/lib/secret"
)

const (
	// masterKeyIterations is the PBKDF2-HMAC-SHA256 iteration count
	// for master-key derivation. Fixed: changing it would change
	// every derived key and orphan existing wrapped item keys.
	masterKeyIterations = 100_000

	// MasterKeySize is the derived key length, matching AES-256.
	MasterKeySize = 32

	// MasterSaltSize is the persisted salt length: a 16-byte random
	// base extended with 16 more random bytes.
	MasterSaltSize = 32

	masterSaltBaseSize = 16
)

// DeriveMasterKey derives the 32-byte master key from the password
// and the vault's salt using PBKDF2-HMAC-SHA256. The key lands in
// locked memory and is the root of the envelope hierarchy; it is
// never logged, serialized, or sent over any channel.
func DeriveMasterKey(password *secret.Buffer, salt []byte) (*secret.Buffer, error) {
	if len(salt) != MasterSaltSize {
		return nil, fmt.Errorf("auth: master salt must be %d bytes, got %d", MasterSaltSize, len(salt))
	}

	key := pbkdf2.Key(password.Bytes(), salt, masterKeyIterations, MasterKeySize, sha256.New)

	// NewFromBytes zeros the heap copy pbkdf2 produced.
	buffer, err := secret.NewFromBytes(key)
	if err != nil {
		secret.Zero(key)
		return nil, err
	}
	return buffer, nil
}

// NewMasterSalt generates a fresh 32-byte salt: a 16-byte random base
// extended with 16 additional random bytes. The salt has no secrecy
// requirement but must be unique per vault; it is persisted alongside
// the password hash and never changes once set.
func NewMasterSalt() ([]byte, error) {
	base := make([]byte, masterSaltBaseSize)
	if _, err := rand.Read(base); err != nil {
		return nil, fmt.Errorf("auth: generating salt base: %w", err)
	}

	extension := make([]byte, MasterSaltSize-masterSaltBaseSize)
	if _, err := rand.Read(extension); err != nil {
		return nil, fmt.Errorf("auth: extending salt: %w", err)
	}

	return append(base, extension...), nil
}
