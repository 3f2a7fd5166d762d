// Copyright 2026 The Coffer Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/zeebo/blake3"
)

// ErrInvalidInput reports a malformed request: an unknown credential
// type, an empty required field, or a payload that does not decode as
// the type it claims to be.
var ErrInvalidInput = errors.New("invalid input")

// CredentialType tags what a credential's payload contains. Values
// are stable storage strings.
type CredentialType string

const (
	TypePassword     CredentialType = "password"
	TypeSSHKey       CredentialType = "ssh_key"
	TypeCryptoWallet CredentialType = "crypto_wallet"
	TypeNote         CredentialType = "note"
	TypeFile         CredentialType = "file"
)

// Valid reports whether the type is one of the recognized tags.
func (t CredentialType) Valid() bool {
	switch t {
	case TypePassword, TypeSSHKey, TypeCryptoWallet, TypeNote, TypeFile:
		return true
	}
	return false
}

// SecurityLevel classifies how sensitive a credential is. It is an
// operator-facing attribute carried through storage and listings; the
// encryption applied is identical at every level.
type SecurityLevel int

const (
	LevelStandard SecurityLevel = iota
	LevelHigh
	LevelCritical
)

// String returns the storage and display name of the level.
func (l SecurityLevel) String() string {
	switch l {
	case LevelStandard:
		return "standard"
	case LevelHigh:
		return "high"
	case LevelCritical:
		return "critical"
	default:
		return fmt.Sprintf("unknown(%d)", int(l))
	}
}

// Credential is one identity-scoped secret record. The payload exists
// only as EncryptedData; everything else is attribution and routing.
//
// A nil WrappedItemKey marks a record written before per-item keys
// existed: its EncryptedData is sealed directly under the master key
// and carries the raw payload with no compression framing. Records
// written by this code always carry a wrapped item key and a framed
// payload. Legacy records migrate to the wrapped form the first time
// their payload is updated or the master password is rotated.
type Credential struct {
	ID         string
	IdentityID string
	Type       CredentialType
	Name       string
	Level      SecurityLevel

	EncryptedData  []byte
	WrappedItemKey []byte

	// Metadata holds small non-secret annotations (username, URL,
	// host). Secret material belongs in the encrypted payload.
	Metadata map[string]string

	// Fingerprint is the hex BLAKE3 digest of the ciphertext fields,
	// recomputed on every write. Updates are rejected when the stored
	// fingerprint no longer matches the one the writer read.
	Fingerprint string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SSHKeyData is the decrypted payload of a TypeSSHKey credential.
type SSHKeyData struct {
	// PrivateKey is the base64 encoding of the 32-byte ed25519 seed.
	PrivateKey string `json:"private_key"`
	// PublicKey is the OpenSSH authorized_keys form, including the
	// key type prefix and optional comment.
	PublicKey string `json:"public_key"`
}

// fingerprintKey is the BLAKE3 keyed-hash domain for credential
// fingerprints: the ASCII domain name zero-padded to 32 bytes.
var fingerprintKey = [32]byte{
	'c', 'o', 'f', 'f', 'e', 'r', '.', 'c', 'r', 'e', 'd', 'e', 'n', 't', 'i', 'a',
	'l', '.', 'f', 'i', 'n', 'g', 'e', 'r', 'p', 'r', 'i', 'n', 't', 0, 0, 0,
}

// ComputeFingerprint digests a credential's ciphertext fields:
// wrapped item key first (absent for legacy records), then the
// encrypted payload. The result changes whenever either field does,
// which is what the optimistic-concurrency check on updates needs.
func ComputeFingerprint(wrappedItemKey, encryptedData []byte) string {
	hasher, err := blake3.NewKeyed(fingerprintKey[:])
	if err != nil {
		// NewKeyed fails only for a wrong key length, which the
		// fixed-size array rules out.
		panic("vault: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(wrappedItemKey)
	hasher.Write(encryptedData)
	return hex.EncodeToString(hasher.Sum(nil))
}
