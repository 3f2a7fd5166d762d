// Copyright 2026 The Coffer Authors
// SPDX-License-Identifier: Apache-2.0

// Package escrow provides age encryption for exporting vault credentials
// to a third party. It wraps filippo.io/age for the specific operations
// the escrow workflow needs: generate x25519 keypairs, encrypt a payload
// to multiple recipients, and decrypt with a private key.
//
// Ciphertext is base64-encoded so it survives files, pipes, and paste.
// Callers pass plaintext []byte to [Encrypt] and receive a base64 string;
// [Decrypt] accepts a base64 string and returns plaintext. Private keys
// and decrypted plaintext live in [secret.Buffer] values backed by mmap
// memory outside the Go heap (locked against swap, excluded from core
// dumps, zeroed on Close).
//
// Key exports:
//
//   - [GenerateKeypair] -- new age x25519 keypair for recipient setup
//   - [Encrypt] -- encrypt a payload to age public key recipients
//   - [Decrypt] -- decrypt with a secret.Buffer private key
//   - [ParsePublicKey] / [ParsePrivateKey] -- key validation
//
// Used by "coffer escrow" to hand a decrypted credential payload to a
// named recipient without the master password leaving the process.
//
// Depends on lib/secret for secure memory allocation.
package escrow
