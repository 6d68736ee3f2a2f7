package tunnel

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	boxerrors "github.com/scharc/boxctl/internal/errors"
)

// ProtocolVersion is sent in Hello and checked by the daemon.
const ProtocolVersion = 1

// Message kinds.
const (
	KindRequest  = "request"
	KindResponse = "response"
	KindEvent    = "event"
)

// Control request types.
const (
	TypeNotify         = "notify"
	TypePortActivate   = "port_activate"
	TypePortDeactivate = "port_deactivate"
	TypePortList       = "port_list"
	TypeSessionResumed = "session_resumed"
)

// Control event types.
const (
	TypeHeartbeat     = "heartbeat"
	TypeForwardListen = "forward_listen"
	TypeForwardClose  = "forward_close"
	TypeSessionState  = "session_state"
)

// Stream kinds named in OpenRequest.
const (
	StreamTerminal = "terminal"
	StreamExpose   = "expose"
	StreamForward  = "forward"
)

// Message is the envelope of every control frame.
type Message struct {
	Kind    string     `cbor:"kind"`
	Type    string     `cbor:"type"`
	ID      string     `cbor:"id,omitempty"`
	TS      int64      `cbor:"ts"`
	Payload RawMessage `cbor:"payload,omitempty"`
	OK      bool       `cbor:"ok,omitempty"`
	Error   string     `cbor:"error,omitempty"`

	// Code carries the exit code of a typed error so the caller can
	// rebuild it with errors.Is semantics intact.
	Code int `cbor:"code,omitempty"`
}

// Time returns the message timestamp.
func (m Message) Time() time.Time {
	return time.UnixMilli(m.TS)
}

// Decode unmarshals the payload into v. An absent payload leaves v untouched.
func (m Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return nil
	}
	if err := Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Type, err)
	}
	return nil
}

// Err returns the remote error carried by a failed response.
func (m Message) Err() error {
	if m.Kind != KindResponse || m.OK {
		return nil
	}
	if m.Code != 0 {
		return boxerrors.New(m.Code, m.Error)
	}
	return fmt.Errorf("remote: %s", m.Error)
}

func newMessage(kind, typ string, payload any) (Message, error) {
	msg := Message{Kind: kind, Type: typ, TS: time.Now().UnixMilli()}
	if kind == KindRequest {
		msg.ID = uuid.NewString()
	}
	if payload != nil {
		data, err := Marshal(payload)
		if err != nil {
			return Message{}, fmt.Errorf("encode %s payload: %w", typ, err)
		}
		msg.Payload = data
	}
	return msg, nil
}

// Hello opens a tunnel session.
type Hello struct {
	Version     int      `cbor:"version"`
	Identity    string   `cbor:"identity"`
	Project     string   `cbor:"project,omitempty"`
	ProjectDir  string   `cbor:"project_dir,omitempty"`
	Token       string   `cbor:"token,omitempty"`
	Compression []string `cbor:"compression,omitempty"`
}

// Welcome answers Hello.
type Welcome struct {
	OK          bool   `cbor:"ok"`
	Error       string `cbor:"error,omitempty"`
	SessionID   string `cbor:"session_id,omitempty"`
	Compression string `cbor:"compression,omitempty"`
}

// OpenRequest describes a stream being opened.
type OpenRequest struct {
	Kind string `cbor:"kind"`

	// Terminal streams.
	Session string `cbor:"session,omitempty"`

	// Port streams.
	ContainerPort int    `cbor:"container_port,omitempty"`
	HostPort      int    `cbor:"host_port,omitempty"`
	Bind          string `cbor:"bind,omitempty"`
}

// Heartbeat is sent by the client when the agent shows activity.
type Heartbeat struct {
	Terminals []string `cbor:"terminals,omitempty"`
}

// NotifyRequest asks the daemon to alert the user.
type NotifyRequest struct {
	Title    string            `cbor:"title"`
	Message  string            `cbor:"message"`
	Urgency  string            `cbor:"urgency,omitempty"`
	Metadata map[string]string `cbor:"metadata,omitempty"`
}

// NotifyResult reports what happened to a NotifyRequest.
type NotifyResult struct {
	ID         string `cbor:"id,omitempty" json:"id,omitempty"`
	Delivered  bool   `cbor:"delivered" json:"delivered"`
	Suppressed bool   `cbor:"suppressed,omitempty" json:"suppressed,omitempty"`
}

// PortRequest names one port tunnel.
type PortRequest struct {
	Direction     string `cbor:"direction"`
	ContainerPort int    `cbor:"container_port"`
	HostPort      int    `cbor:"host_port"`
	Bind          string `cbor:"bind,omitempty"`
}

// PortStatus describes a configured port tunnel.
type PortStatus struct {
	Project       string `cbor:"project" json:"project"`
	Direction     string `cbor:"direction" json:"direction"`
	ContainerPort int    `cbor:"container_port" json:"container_port"`
	HostPort      int    `cbor:"host_port" json:"host_port"`
	Bind          string `cbor:"bind,omitempty" json:"bind,omitempty"`
	State         string `cbor:"state" json:"state"`
}

// ForwardListen tells the client to listen on a container port and open
// a forward stream per accepted connection.
type ForwardListen struct {
	ContainerPort int    `cbor:"container_port"`
	HostPort      int    `cbor:"host_port"`
	Bind          string `cbor:"bind,omitempty"`
}

// SessionState is pushed to the client when the daemon changes its view
// of the session.
type SessionState struct {
	State   string `cbor:"state" json:"state"`
	Stalled bool   `cbor:"stalled,omitempty" json:"stalled,omitempty"`
}

// TerminalSnapshot is one frame of a terminal stream.
type TerminalSnapshot struct {
	Session string `cbor:"session"`
	Content string `cbor:"content"`
	CursorX int    `cbor:"cursor_x"`
	CursorY int    `cbor:"cursor_y"`
	Width   int    `cbor:"width"`
	Height  int    `cbor:"height"`
}
