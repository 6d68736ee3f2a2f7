package multiplexer

import (
	"context"
	"errors"
	"testing"

	"github.com/scharc/boxctl/internal/system"
)

func TestNew(t *testing.T) {
	exec := system.NewMockExecutor()
	tests := []struct {
		in   Type
		want Type
	}{
		{"", TypeTmux},
		{TypeTmux, TypeTmux},
		{TypeWezterm, TypeWezterm},
		{"screen", TypeTmux},
	}
	for _, tt := range tests {
		if got := New(tt.in, exec).Type(); got != tt.want {
			t.Errorf("New(%q).Type() = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// --- Tmux tests ---

func TestTmuxListSessions(t *testing.T) {
	exec := system.NewMockExecutor()
	exec.AddResponse("tmux list-sessions", []byte("claude\t1\t2\nshell\t0\t1\n"), nil)
	mux := New(TypeTmux, exec)

	sessions, err := mux.ListSessions(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 2 {
		t.Fatalf("got %d sessions, want 2", len(sessions))
	}
	if sessions[0].Name != "claude" || !sessions[0].Attached || sessions[0].Windows != 2 {
		t.Errorf("sessions[0] = %+v", sessions[0])
	}
	if sessions[1].Target != "shell" || sessions[1].Attached {
		t.Errorf("sessions[1] = %+v", sessions[1])
	}
}

func TestTmuxListSessions_NoServer(t *testing.T) {
	exec := system.NewMockExecutor()
	exec.AddResponse("tmux list-sessions", []byte("no server running on /tmp/tmux-1000/default\n"), errors.New("exit status 1"))

	sessions, err := New(TypeTmux, exec).ListSessions(context.Background())
	if err != nil || len(sessions) != 0 {
		t.Errorf("ListSessions() = %v, %v; want empty, nil", sessions, err)
	}
}

func TestTmuxListSessions_Error(t *testing.T) {
	exec := system.NewMockExecutor()
	exec.AddResponse("tmux list-sessions", []byte("permission denied"), errors.New("exit status 1"))

	if _, err := New(TypeTmux, exec).ListSessions(context.Background()); err == nil {
		t.Error("expected error")
	}
}

func TestTmuxCapture(t *testing.T) {
	exec := system.NewMockExecutor()
	exec.AddResponse("tmux display-message", []byte("4,10,120,40\n"), nil)
	exec.AddResponse("tmux capture-pane", []byte("$ claude\n> thinking\n"), nil)

	snap, err := New(TypeTmux, exec).Capture(context.Background(), Session{Name: "claude", Target: "claude"})
	if err != nil {
		t.Fatal(err)
	}
	if snap.Content != "$ claude\n> thinking\n" {
		t.Errorf("content = %q", snap.Content)
	}
	if snap.CursorX != 4 || snap.CursorY != 10 || snap.Width != 120 || snap.Height != 40 {
		t.Errorf("geometry = %+v", snap)
	}

	cmd, _ := exec.LastCommand()
	if cmd.Args[len(cmd.Args)-1] != "claude" {
		t.Errorf("capture target = %v", cmd.Args)
	}
}

// --- Wezterm tests ---

const weztermList = `[
  {"window_id":0,"tab_id":0,"pane_id":0,"title":"zsh","tab_title":"claude","is_active":true,"cursor_x":2,"cursor_y":5,"size":{"rows":30,"cols":100}},
  {"window_id":0,"tab_id":0,"pane_id":3,"title":"htop","tab_title":"claude","is_active":false,"size":{"rows":30,"cols":100}},
  {"window_id":0,"tab_id":1,"pane_id":1,"title":"bash","tab_title":"","is_active":false,"size":{"rows":24,"cols":80}}
]`

func TestWeztermListSessions(t *testing.T) {
	exec := system.NewMockExecutor()
	exec.AddResponse("wezterm cli", []byte(weztermList), nil)

	sessions, err := New(TypeWezterm, exec).ListSessions(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 2 {
		t.Fatalf("got %d sessions, want 2", len(sessions))
	}
	if sessions[0].Name != "claude" || sessions[0].Target != "0" || sessions[0].Windows != 2 {
		t.Errorf("sessions[0] = %+v", sessions[0])
	}
	if sessions[1].Name != "bash" || sessions[1].Target != "1" {
		t.Errorf("sessions[1] = %+v", sessions[1])
	}
}

func TestWeztermListSessions_BadJSON(t *testing.T) {
	exec := system.NewMockExecutor()
	exec.AddResponse("wezterm cli", []byte("not json"), nil)

	if _, err := New(TypeWezterm, exec).ListSessions(context.Background()); err == nil {
		t.Error("expected parse error")
	}
}
