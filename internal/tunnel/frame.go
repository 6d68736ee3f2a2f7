package tunnel

import (
	"encoding/binary"
	"fmt"
	"io"
)

// FrameType identifies a frame on the wire.
type FrameType byte

const (
	// FrameHello carries the client's Hello. Sent once, first.
	FrameHello FrameType = 0x01

	// FrameWelcome carries the daemon's answer to Hello.
	FrameWelcome FrameType = 0x02

	// FrameControl carries one CBOR-encoded control Message on stream 0.
	FrameControl FrameType = 0x03

	// FrameOpen opens a logical stream. Payload is a CBOR OpenRequest.
	FrameOpen FrameType = 0x04

	// FrameData carries stream bytes, possibly compressed (see flags).
	FrameData FrameType = 0x05

	// FrameClose ends a stream. Flag FlagHalfClose means the sender will
	// write no more but still reads; otherwise the stream is gone.
	// A non-empty payload is an error text.
	FrameClose FrameType = 0x06

	// FramePing and FramePong keep an idle transport alive.
	FramePing FrameType = 0x07
	FramePong FrameType = 0x08

	// FrameWindow grants the sender of a stream more bytes to write.
	// Payload is a 4-byte big-endian increment.
	FrameWindow FrameType = 0x09
)

func (t FrameType) String() string {
	switch t {
	case FrameHello:
		return "hello"
	case FrameWelcome:
		return "welcome"
	case FrameControl:
		return "control"
	case FrameOpen:
		return "open"
	case FrameData:
		return "data"
	case FrameClose:
		return "close"
	case FramePing:
		return "ping"
	case FramePong:
		return "pong"
	case FrameWindow:
		return "window"
	default:
		return fmt.Sprintf("frame(0x%02x)", byte(t))
	}
}

// Frame flags.
const (
	// flagCompressionMask selects the CompressionTag of a data frame.
	flagCompressionMask byte = 0x03

	// FlagHalfClose marks a close frame as write-side only.
	FlagHalfClose byte = 0x10
)

// frameHeaderLength is 1 byte type, 1 byte flags, 4 bytes stream id and
// 4 bytes payload length, all big-endian.
const frameHeaderLength = 10

// MaxPayloadLength bounds a single frame payload.
const MaxPayloadLength = 10 * 1024 * 1024

// Frame is one unit of the tunnel wire format.
type Frame struct {
	Type    FrameType
	Flags   byte
	Stream  uint32
	Payload []byte
}

// WriteFrame writes f to w as [type][flags][stream][length][payload].
func WriteFrame(w io.Writer, f Frame) error {
	if len(f.Payload) > MaxPayloadLength {
		return fmt.Errorf("payload length %d exceeds maximum %d", len(f.Payload), MaxPayloadLength)
	}
	buf := make([]byte, frameHeaderLength+len(f.Payload))
	buf[0] = byte(f.Type)
	buf[1] = f.Flags
	binary.BigEndian.PutUint32(buf[2:6], f.Stream)
	binary.BigEndian.PutUint32(buf[6:10], uint32(len(f.Payload)))
	copy(buf[frameHeaderLength:], f.Payload)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write %s frame: %w", f.Type, err)
	}
	return nil
}

// ReadFrame reads one frame from r.
func ReadFrame(r io.Reader) (Frame, error) {
	var header [frameHeaderLength]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Frame{}, err
	}
	f := Frame{
		Type:   FrameType(header[0]),
		Flags:  header[1],
		Stream: binary.BigEndian.Uint32(header[2:6]),
	}
	length := binary.BigEndian.Uint32(header[6:10])
	if length > MaxPayloadLength {
		return Frame{}, fmt.Errorf("payload length %d exceeds maximum %d", length, MaxPayloadLength)
	}
	if length > 0 {
		f.Payload = make([]byte, length)
		if _, err := io.ReadFull(r, f.Payload); err != nil {
			return Frame{}, fmt.Errorf("read %s payload: %w", f.Type, err)
		}
	}
	return f, nil
}
