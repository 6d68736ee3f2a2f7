package tunnel

import (
	"fmt"
	"net"
	"regexp"
	"slices"
	"time"
)

// DefaultHandshakeTimeout bounds Hello/Welcome exchange.
const DefaultHandshakeTimeout = 10 * time.Second

var identityPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)

// ValidateIdentity checks that a container identity is usable as a
// registry key and a file name.
func ValidateIdentity(identity string) error {
	if !identityPattern.MatchString(identity) {
		return fmt.Errorf("invalid container identity %q", identity)
	}
	return nil
}

// RejectedError is returned by ClientHandshake when the daemon refuses
// the session.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return "session rejected: " + e.Reason
}

// ClientHandshake sends hello and waits for the daemon's Welcome.
func ClientHandshake(conn net.Conn, hello Hello, timeout time.Duration) (Welcome, error) {
	if hello.Version == 0 {
		hello.Version = ProtocolVersion
	}
	conn.SetDeadline(time.Now().Add(timeout))
	defer conn.SetDeadline(time.Time{})

	payload, err := Marshal(hello)
	if err != nil {
		return Welcome{}, fmt.Errorf("encode hello: %w", err)
	}
	if err := WriteFrame(conn, Frame{Type: FrameHello, Payload: payload}); err != nil {
		return Welcome{}, err
	}

	f, err := ReadFrame(conn)
	if err != nil {
		return Welcome{}, fmt.Errorf("read welcome: %w", err)
	}
	if f.Type != FrameWelcome {
		return Welcome{}, fmt.Errorf("expected welcome, got %s frame", f.Type)
	}
	var welcome Welcome
	if err := Unmarshal(f.Payload, &welcome); err != nil {
		return Welcome{}, fmt.Errorf("decode welcome: %w", err)
	}
	if !welcome.OK {
		return welcome, &RejectedError{Reason: welcome.Error}
	}
	return welcome, nil
}

// ReadHello reads and validates the client's Hello.
func ReadHello(conn net.Conn, timeout time.Duration) (Hello, error) {
	conn.SetReadDeadline(time.Now().Add(timeout))
	defer conn.SetReadDeadline(time.Time{})

	f, err := ReadFrame(conn)
	if err != nil {
		return Hello{}, fmt.Errorf("read hello: %w", err)
	}
	if f.Type != FrameHello {
		return Hello{}, fmt.Errorf("expected hello, got %s frame", f.Type)
	}
	var hello Hello
	if err := Unmarshal(f.Payload, &hello); err != nil {
		return Hello{}, fmt.Errorf("decode hello: %w", err)
	}
	if hello.Version != ProtocolVersion {
		return hello, fmt.Errorf("unsupported protocol version %d", hello.Version)
	}
	if err := ValidateIdentity(hello.Identity); err != nil {
		return hello, err
	}
	return hello, nil
}

// WriteWelcome answers a Hello.
func WriteWelcome(conn net.Conn, welcome Welcome, timeout time.Duration) error {
	payload, err := Marshal(welcome)
	if err != nil {
		return fmt.Errorf("encode welcome: %w", err)
	}
	conn.SetWriteDeadline(time.Now().Add(timeout))
	defer conn.SetWriteDeadline(time.Time{})
	return WriteFrame(conn, Frame{Type: FrameWelcome, Payload: payload})
}

// NegotiateCompression picks the daemon's preferred compression when the
// client offered it, and none otherwise.
func NegotiateCompression(offered []string, preferred CompressionTag) CompressionTag {
	if preferred != CompressionNone && slices.Contains(offered, preferred.String()) {
		return preferred
	}
	return CompressionNone
}

// SupportedCompression lists what this build can decode.
func SupportedCompression() []string {
	return []string{CompressionZstd.String(), CompressionLZ4.String()}
}
