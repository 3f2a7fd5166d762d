// Copyright 2026 The Coffer Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// ArgonParams are the Argon2id cost parameters baked into an encoded
// password hash. Verification reads the parameters back out of the
// hash, so costs can be raised for new vaults without breaking old
// ones.
type ArgonParams struct {
	Memory      uint32 // KiB
	Time        uint32 // iterations
	Parallelism uint8
	SaltLength  int
	KeyLength   uint32
}

// DefaultArgonParams is the hashing cost for new vaults: 64 MiB,
// 3 iterations, single lane.
var DefaultArgonParams = ArgonParams{
	Memory:      64 * 1024,
	Time:        3,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// HashPassword hashes a password with Argon2id and a fresh random
// salt, returning the self-describing encoded form
// "argon2id$m=…,t=…,p=…$<b64 salt>$<b64 key>".
func HashPassword(params ArgonParams, password []byte) (string, error) {
	salt := make([]byte, params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("auth: generating hash salt: %w", err)
	}

	key := argon2.IDKey(password, salt, params.Time, params.Memory, params.Parallelism, params.KeyLength)

	return fmt.Sprintf("argon2id$m=%d,t=%d,p=%d$%s$%s",
		params.Memory, params.Time, params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// VerifyPassword checks a password against an encoded hash in
// constant time. Returns false with a nil error for a well-formed
// hash that simply does not match.
func VerifyPassword(password []byte, encoded string) (bool, error) {
	const prefix = "argon2id$"
	if !strings.HasPrefix(encoded, prefix) {
		return false, fmt.Errorf("auth: malformed password hash")
	}

	parts := strings.Split(encoded[len(prefix):], "$")
	if len(parts) != 3 {
		return false, fmt.Errorf("auth: malformed password hash")
	}

	var memory, timeCost uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[0], "m=%d,t=%d,p=%d", &memory, &timeCost, &parallelism); err != nil {
		return false, fmt.Errorf("auth: malformed password hash parameters")
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[1])
	if err != nil {
		return false, fmt.Errorf("auth: malformed password hash salt")
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[2])
	if err != nil {
		return false, fmt.Errorf("auth: malformed password hash key")
	}

	got := argon2.IDKey(password, salt, timeCost, memory, parallelism, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}
