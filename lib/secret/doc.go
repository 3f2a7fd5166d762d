// Copyright 2026 The Coffer Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret provides locked, non-swappable memory for key
// material: the master key, transient item keys, and the ed25519 seeds
// held by the key-custody agent.
//
// [Buffer] allocates memory outside the Go heap via
// mmap(MAP_ANONYMOUS), locks it into physical RAM via mlock so it can
// never reach swap, and excludes it from core dumps via
// madvise(MADV_DONTDUMP). Because the region is invisible to the
// garbage collector it is never copied or relocated, so Close can
// guarantee the material is zeroed exactly once, in place.
//
// Constructors:
//
//   - [New] -- a zero-filled buffer of a given size
//   - [NewFromBytes] -- copies into protected memory, zeros the source
//   - [Random] -- a buffer filled from crypto/rand (item keys)
//
// Access the contents with [Buffer.Bytes] (a slice into the locked
// region) or [Buffer.String] (a heap copy, for API boundaries that
// demand a string). After Close any access panics. Close is
// idempotent.
//
// [Zero] wipes ordinary heap slices that briefly held secrets, such as
// an expanded ed25519 private key after signing.
package secret
