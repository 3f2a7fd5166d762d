// Copyright 2026 The Coffer Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the standard CBOR encoding configuration for
// coffer's internal protocols.
//
// The vault uses two serialization formats with a clear boundary:
//
//   - JSON for data at rest and human-facing surfaces: credential
//     payloads (SshKeyData), metadata columns in the store, and CLI
//     output.
//   - CBOR for the agent control socket: the one-shot request/response
//     protocol the CLI uses to query and stop a running agent. (The
//     signing socket speaks the fixed SSH agent wire format and does
//     not go through this package.)
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2): sorted
// map keys, smallest integer encoding, no indefinite-length items, so
// the same logical request always produces identical bytes.
//
// Buffer-oriented use:
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// Stream-oriented use (the control socket):
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// Control protocol types carry `cbor` struct tags; types that are only
// ever JSON (credential payloads) carry `json` tags and never pass
// through this package.
package codec
