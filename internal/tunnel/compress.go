package tunnel

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionTag selects how data frame payloads are compressed. The tag
// travels in the low bits of the frame flags, so every data frame is
// self-describing regardless of what was negotiated.
type CompressionTag uint8

const (
	CompressionNone CompressionTag = 0
	CompressionLZ4  CompressionTag = 1
	CompressionZstd CompressionTag = 2
)

func (tag CompressionTag) String() string {
	switch tag {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", tag)
	}
}

// ParseCompressionTag parses "none", "lz4" or "zstd". The empty string is none.
func ParseCompressionTag(name string) (CompressionTag, error) {
	switch name {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", name)
	}
}

// minCompressLength is the smallest payload worth compressing. Keystroke
// sized writes dominate interactive streams.
const minCompressLength = 256

var errIncompressible = errors.New("data is incompressible")

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		panic("tunnel: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("tunnel: zstd decoder initialization failed: " + err.Error())
	}
}

// compressPayload returns the frame payload and the tag actually used.
// A compressed payload is prefixed with its uncompressed length so the
// receiver can size the block. Payloads that do not shrink go out raw.
func compressPayload(data []byte, tag CompressionTag) ([]byte, CompressionTag) {
	if tag == CompressionNone || len(data) < minCompressLength {
		return data, CompressionNone
	}
	var body []byte
	var err error
	switch tag {
	case CompressionLZ4:
		body, err = compressLZ4(data)
	case CompressionZstd:
		body, err = compressZstd(data)
	default:
		err = fmt.Errorf("unsupported compression tag: %d", tag)
	}
	if err != nil {
		return data, CompressionNone
	}
	out := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(out[:4], uint32(len(data)))
	copy(out[4:], body)
	return out, tag
}

// decompressPayload reverses compressPayload.
func decompressPayload(payload []byte, tag CompressionTag) ([]byte, error) {
	if tag == CompressionNone {
		return payload, nil
	}
	if len(payload) < 4 {
		return nil, fmt.Errorf("%s payload too short: %d bytes", tag, len(payload))
	}
	size := int(binary.BigEndian.Uint32(payload[:4]))
	if size > MaxPayloadLength {
		return nil, fmt.Errorf("%s payload claims %d bytes, exceeds maximum", tag, size)
	}
	body := payload[4:]
	switch tag {
	case CompressionLZ4:
		return decompressLZ4(body, size)
	case CompressionZstd:
		return decompressZstd(body, size)
	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	destination := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	// CompressBlock reports 0 for incompressible input.
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return destination[:written], nil
}

func decompressLZ4(compressed []byte, size int) ([]byte, error) {
	destination := make([]byte, size)
	read, err := lz4.UncompressBlock(compressed, destination)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if read != size {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, size)
	}
	return destination, nil
}

func compressZstd(data []byte) ([]byte, error) {
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, errIncompressible
	}
	return compressed, nil
}

func decompressZstd(compressed []byte, size int) ([]byte, error) {
	out, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, size))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if len(out) != size {
		return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(out), size)
	}
	return out, nil
}
