package multiplexer

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/scharc/boxctl/internal/system"
)

// Tmux implements Multiplexer for tmux.
type Tmux struct {
	exec system.CommandExecutor
}

func (t *Tmux) Type() Type { return TypeTmux }

func (t *Tmux) ListSessions(ctx context.Context) ([]Session, error) {
	out, err := t.exec.Execute(ctx, "tmux", "list-sessions", "-F", "#{session_name}\t#{session_attached}\t#{session_windows}")
	if err != nil {
		if noServer(out) {
			return nil, nil
		}
		return nil, fmt.Errorf("tmux list-sessions: %w", err)
	}
	return parseSessionList(string(out)), nil
}

// noServer matches the messages tmux prints when no server is running.
func noServer(out []byte) bool {
	s := string(out)
	return strings.Contains(s, "no server running") ||
		strings.Contains(s, "error connecting to") ||
		strings.Contains(s, "no sessions")
}

func parseSessionList(output string) []Session {
	var sessions []Session
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		s := Session{Name: fields[0], Target: fields[0]}
		if len(fields) > 1 {
			n, _ := strconv.Atoi(fields[1])
			s.Attached = n > 0
		}
		if len(fields) > 2 {
			s.Windows, _ = strconv.Atoi(fields[2])
		}
		sessions = append(sessions, s)
	}
	return sessions
}

func (t *Tmux) Capture(ctx context.Context, s Session) (Snapshot, error) {
	geometry, err := t.exec.Execute(ctx, "tmux", "display-message", "-p", "-t", s.Target, "#{cursor_x},#{cursor_y},#{pane_width},#{pane_height}")
	if err != nil {
		return Snapshot{}, fmt.Errorf("tmux display-message %s: %w", s.Target, err)
	}
	content, err := t.exec.Execute(ctx, "tmux", "capture-pane", "-p", "-t", s.Target)
	if err != nil {
		return Snapshot{}, fmt.Errorf("tmux capture-pane %s: %w", s.Target, err)
	}

	snap := Snapshot{Session: s.Name, Content: string(content)}
	parts := strings.Split(strings.TrimSpace(string(geometry)), ",")
	if len(parts) == 4 {
		snap.CursorX, _ = strconv.Atoi(parts[0])
		snap.CursorY, _ = strconv.Atoi(parts[1])
		snap.Width, _ = strconv.Atoi(parts[2])
		snap.Height, _ = strconv.Atoi(parts[3])
	}
	return snap, nil
}
