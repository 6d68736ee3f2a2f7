// Package multiplexer reads terminal sessions from the multiplexer running
// inside a container (tmux or wezterm) so the client can stream their
// contents to the daemon.
package multiplexer

import (
	"context"

	"github.com/scharc/boxctl/internal/system"
)

// Type identifies a terminal multiplexer backend.
type Type string

const (
	TypeTmux    Type = "tmux"
	TypeWezterm Type = "wezterm"
)

// Session is one terminal session the client can capture.
type Session struct {
	// Name is the human-readable session name.
	Name string
	// Target addresses the session in capture commands.
	Target   string
	Attached bool
	Windows  int
}

// Snapshot is the visible content of a session's active pane.
type Snapshot struct {
	Session string
	Content string
	CursorX int
	CursorY int
	Width   int
	Height  int
}

// Multiplexer is the interface that every multiplexer backend implements.
type Multiplexer interface {
	// Type returns the multiplexer type identifier.
	Type() Type

	// ListSessions returns the running sessions. No running server is
	// not an error and yields an empty list.
	ListSessions(ctx context.Context) ([]Session, error)

	// Capture returns the current content of a session.
	Capture(ctx context.Context, s Session) (Snapshot, error)
}

// New returns a Multiplexer for the given type that runs its commands
// through exec. Defaults to TypeTmux for empty or unrecognised values.
func New(t Type, exec system.CommandExecutor) Multiplexer {
	switch t {
	case TypeWezterm:
		return &Wezterm{exec: exec}
	default:
		return &Tmux{exec: exec}
	}
}
