// Copyright 2026 The Coffer Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// payloadCodec identifies the compression applied to a payload before
// encryption. The tag is the first byte of the framed plaintext and
// is a protocol constant: changing a value orphans stored payloads.
type payloadCodec uint8

const (
	codecNone payloadCodec = 0
	codecLZ4  payloadCodec = 1
	codecZstd payloadCodec = 2
)

// String returns the codec's name for error text.
func (c payloadCodec) String() string {
	switch c {
	case codecNone:
		return "none"
	case codecLZ4:
		return "lz4"
	case codecZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

const (
	// compressThreshold is the payload size at which compression is
	// attempted. Smaller payloads (passwords, notes) gain nothing
	// and would leak less length information uncompressed anyway.
	compressThreshold = 4 * 1024

	// frameHeaderSize is one codec tag byte plus the big-endian
	// uint32 raw payload length.
	frameHeaderSize = 5

	// maxRawPayloadSize caps the declared raw length a frame may
	// announce. Decompression allocates up front, so the declared
	// size is checked before any allocation happens.
	maxRawPayloadSize = 64 << 20
)

// zstdEncoder and zstdDecoder are shared across calls; both are safe
// for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
	)
	if err != nil {
		panic("vault: zstd encoder initialization failed: " + err.Error())
	}

	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("vault: zstd decoder initialization failed: " + err.Error())
	}
}

// codecFor picks the compression codec for a payload about to be
// encrypted. File payloads get zstd (ratio matters, content is often
// text-like); everything else large enough to bother with gets lz4.
func codecFor(credentialType CredentialType, size int) payloadCodec {
	if size < compressThreshold {
		return codecNone
	}
	if credentialType == TypeFile {
		return codecZstd
	}
	return codecLZ4
}

// packPayload builds the plaintext handed to the envelope layer:
// [codec tag][raw length, big endian][payload bytes]. When the chosen
// codec does not make the payload smaller, the frame falls back to
// codecNone with the raw bytes.
func packPayload(payload []byte, codec payloadCodec) ([]byte, error) {
	if len(payload) > maxRawPayloadSize {
		return nil, fmt.Errorf("%w: payload is %d bytes, limit %d", ErrInvalidInput, len(payload), maxRawPayloadSize)
	}

	var body []byte
	switch codec {
	case codecNone:
		body = payload

	case codecLZ4:
		compressed, err := compressLZ4(payload)
		if err != nil {
			if isIncompressible(err) {
				codec, body = codecNone, payload
				break
			}
			return nil, err
		}
		body = compressed

	case codecZstd:
		compressed := zstdEncoder.EncodeAll(payload, nil)
		if len(compressed) >= len(payload) {
			codec, body = codecNone, payload
			break
		}
		body = compressed

	default:
		return nil, fmt.Errorf("vault: unsupported payload codec: %d", codec)
	}

	framed := make([]byte, frameHeaderSize, frameHeaderSize+len(body))
	framed[0] = byte(codec)
	binary.BigEndian.PutUint32(framed[1:frameHeaderSize], uint32(len(payload)))
	return append(framed, body...), nil
}

// unpackPayload reverses packPayload. The declared raw length is
// validated against maxRawPayloadSize before anything is allocated,
// and the decompressed output must match it exactly.
func unpackPayload(framed []byte) ([]byte, error) {
	if len(framed) < frameHeaderSize {
		return nil, fmt.Errorf("%w: payload frame is %d bytes, want at least %d", ErrInvalidInput, len(framed), frameHeaderSize)
	}

	codec := payloadCodec(framed[0])
	rawLength := int(binary.BigEndian.Uint32(framed[1:frameHeaderSize]))
	if rawLength > maxRawPayloadSize {
		return nil, fmt.Errorf("%w: frame declares %d raw bytes, limit %d", ErrInvalidInput, rawLength, maxRawPayloadSize)
	}
	body := framed[frameHeaderSize:]

	switch codec {
	case codecNone:
		if len(body) != rawLength {
			return nil, fmt.Errorf("%w: uncompressed frame carries %d bytes, declares %d", ErrInvalidInput, len(body), rawLength)
		}
		return body, nil

	case codecLZ4:
		return decompressLZ4(body, rawLength)

	case codecZstd:
		destination := make([]byte, 0, rawLength)
		result, err := zstdDecoder.DecodeAll(body, destination)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(result) != rawLength {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), rawLength)
		}
		return result, nil

	default:
		return nil, fmt.Errorf("%w: unknown payload codec %d", ErrInvalidInput, uint8(codec))
	}
}

func compressLZ4(payload []byte) ([]byte, error) {
	bound := lz4.CompressBlockBound(len(payload))
	destination := make([]byte, bound)

	written, err := lz4.CompressBlock(payload, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}

	// CompressBlock returns 0 when it judges the input
	// incompressible; an output no smaller than the input is not
	// worth the tag either.
	if written == 0 || written >= len(payload) {
		return nil, errIncompressible
	}
	return destination[:written], nil
}

func decompressLZ4(compressed []byte, rawLength int) ([]byte, error) {
	destination := make([]byte, rawLength)
	read, err := lz4.UncompressBlock(compressed, destination)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if read != rawLength {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, rawLength)
	}
	return destination, nil
}

// errIncompressible marks data whose compressed form is not smaller
// than its raw form. packPayload falls back to codecNone on it.
var errIncompressible = fmt.Errorf("data is incompressible")

func isIncompressible(err error) bool {
	return err == errIncompressible
}
