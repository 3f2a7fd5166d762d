// Copyright 2026 The Coffer Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent implements the key-custody agent: a long-running local
// process that holds decrypted ed25519 signing keys in memory and exposes
// them over an SSH-agent-compatible wire protocol on a UNIX socket.
//
// The package is organized around the request path:
//
//   - protocol.go: wire format (length-prefixed frames, SSH-string encoding)
//   - keycache.go: decrypted keys loaded from the vault at startup
//   - policy.go: the signing-policy gate every sign request passes through
//   - hostpolicy.go: known-hosts allow-list and target-host hints
//   - prompt.go: the dedicated worker for interactive confirmations
//   - server.go: connection handling and message dispatch
//   - control.go: the CBOR control socket (status, list-keys, shutdown)
//   - state.go: runtime files in the agent state directory
//
// Keys are read-only after startup; credential changes take effect on
// agent restart.
package agent

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Message type constants for the agent wire protocol. The values are
// fixed by the SSH agent protocol; clients such as ssh(1) send them
// as the first payload byte of each frame.
const (
	// MessageTypeFailure is the generic refusal. Sent for unknown
	// message types, unknown keys, and policy denials.
	MessageTypeFailure byte = 5

	// MessageTypeRequestIdentities asks for the list of held keys.
	MessageTypeRequestIdentities byte = 11

	// MessageTypeIdentitiesAnswer carries the key list: a 4-byte
	// big-endian count, then per key an SSH-string public-key blob
	// and an SSH-string comment.
	MessageTypeIdentitiesAnswer byte = 12

	// MessageTypeSignRequest asks for a signature. Payload after the
	// type byte is: SSH-string key blob, SSH-string data, uint32 flags.
	MessageTypeSignRequest byte = 13

	// MessageTypeSignResponse carries the signature as a single
	// SSH-string-wrapped signature blob.
	MessageTypeSignResponse byte = 14
)

// maxPayloadLength bounds a single frame payload. SSH agent requests
// are small; 1 MiB leaves room for large signed payloads without
// letting a client make the agent allocate without limit.
const maxPayloadLength = 1024 * 1024

// failurePayload is the refusal message: just the type byte. Framed
// by WriteFrame it becomes the fixed 5-byte packet 00 00 00 01 05.
var failurePayload = []byte{MessageTypeFailure}

// WriteFrame writes one protocol frame: a 4-byte big-endian payload
// length followed by the payload. The first payload byte is the
// message type.
func WriteFrame(w io.Writer, payload []byte) error {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one protocol frame and returns its payload. Returns
// an error for an empty frame (no type byte) or a payload length above
// maxPayloadLength; both terminate the connection, unlike malformed
// payload contents which only fail the single request.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	payloadLength := binary.BigEndian.Uint32(header[:])
	if payloadLength == 0 {
		return nil, fmt.Errorf("empty frame")
	}
	if payloadLength > maxPayloadLength {
		return nil, fmt.Errorf("payload length %d exceeds maximum %d", payloadLength, maxPayloadLength)
	}
	payload := make([]byte, payloadLength)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read frame payload: %w", err)
	}
	return payload, nil
}

// appendString appends the SSH-string encoding of value: a 4-byte
// big-endian length followed by the raw bytes.
func appendString(buffer, value []byte) []byte {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(value)))
	buffer = append(buffer, length[:]...)
	return append(buffer, value...)
}

// parseString consumes one SSH-string from the front of payload and
// returns its value and the remaining bytes. A length running past the
// end of the payload is an error.
func parseString(payload []byte) (value, rest []byte, err error) {
	if len(payload) < 4 {
		return nil, nil, fmt.Errorf("truncated string length")
	}
	length := binary.BigEndian.Uint32(payload[:4])
	payload = payload[4:]
	if uint32(len(payload)) < length {
		return nil, nil, fmt.Errorf("string length %d exceeds remaining payload %d", length, len(payload))
	}
	return payload[:length], payload[length:], nil
}

// signRequest is the decoded payload of a MessageTypeSignRequest.
type signRequest struct {
	// KeyBlob selects the key, matched by exact bytes against the
	// cached public-key blobs.
	KeyBlob []byte

	// Data is the payload to sign.
	Data []byte

	// Flags is parsed for frame integrity but otherwise ignored:
	// the flag values defined by the protocol select RSA signature
	// variants that do not apply to ed25519.
	Flags uint32
}

// parseSignRequest decodes a sign request payload (the bytes after the
// type byte).
func parseSignRequest(payload []byte) (signRequest, error) {
	keyBlob, rest, err := parseString(payload)
	if err != nil {
		return signRequest{}, fmt.Errorf("key blob: %w", err)
	}
	data, rest, err := parseString(rest)
	if err != nil {
		return signRequest{}, fmt.Errorf("data: %w", err)
	}
	if len(rest) != 4 {
		return signRequest{}, fmt.Errorf("flags: got %d trailing bytes, want 4", len(rest))
	}
	return signRequest{
		KeyBlob: keyBlob,
		Data:    data,
		Flags:   binary.BigEndian.Uint32(rest),
	}, nil
}

// marshalIdentitiesAnswer builds a MessageTypeIdentitiesAnswer payload
// for the given keys.
func marshalIdentitiesAnswer(keys []*Key) []byte {
	payload := []byte{MessageTypeIdentitiesAnswer}
	var count [4]byte
	binary.BigEndian.PutUint32(count[:], uint32(len(keys)))
	payload = append(payload, count[:]...)
	for _, key := range keys {
		payload = appendString(payload, key.PublicBlob)
		payload = appendString(payload, []byte(key.Comment))
	}
	return payload
}

// marshalSignResponse builds a MessageTypeSignResponse payload. The
// signature blob is the OpenSSH encoding: SSH-string "ssh-ed25519"
// followed by the SSH-string of the raw 64-byte signature, wrapped in
// an outer SSH-string.
func marshalSignResponse(signature []byte) []byte {
	blob := appendString(nil, []byte("ssh-ed25519"))
	blob = appendString(blob, signature)
	return appendString([]byte{MessageTypeSignResponse}, blob)
}
