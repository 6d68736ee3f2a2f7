package multiplexer

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/scharc/boxctl/internal/system"
)

// Wezterm implements Multiplexer for wezterm-mux-server. Each tab is a
// session; its active pane is captured.
type Wezterm struct {
	exec system.CommandExecutor
}

func (w *Wezterm) Type() Type { return TypeWezterm }

type weztermPane struct {
	WindowID int    `json:"window_id"`
	TabID    int    `json:"tab_id"`
	PaneID   int    `json:"pane_id"`
	Title    string `json:"title"`
	TabTitle string `json:"tab_title"`
	IsActive bool   `json:"is_active"`
	CursorX  int    `json:"cursor_x"`
	CursorY  int    `json:"cursor_y"`
	Size     struct {
		Rows int `json:"rows"`
		Cols int `json:"cols"`
	} `json:"size"`
}

func (w *Wezterm) panes(ctx context.Context) ([]weztermPane, error) {
	out, err := w.exec.Execute(ctx, "wezterm", "cli", "list", "--format", "json")
	if err != nil {
		return nil, fmt.Errorf("wezterm cli list: %w", err)
	}
	var panes []weztermPane
	if err := json.Unmarshal(out, &panes); err != nil {
		return nil, fmt.Errorf("parse wezterm pane list: %w", err)
	}
	return panes, nil
}

func (w *Wezterm) ListSessions(ctx context.Context) ([]Session, error) {
	panes, err := w.panes(ctx)
	if err != nil {
		return nil, err
	}

	byTab := make(map[int]*Session)
	var order []int
	for _, p := range panes {
		s, ok := byTab[p.TabID]
		if !ok {
			name := p.TabTitle
			if name == "" {
				name = p.Title
			}
			if name == "" {
				name = "tab-" + strconv.Itoa(p.TabID)
			}
			s = &Session{Name: name, Target: strconv.Itoa(p.PaneID)}
			byTab[p.TabID] = s
			order = append(order, p.TabID)
		}
		s.Windows++
		if p.IsActive {
			s.Target = strconv.Itoa(p.PaneID)
			s.Attached = true
		}
	}

	sessions := make([]Session, 0, len(order))
	for _, tab := range order {
		sessions = append(sessions, *byTab[tab])
	}
	return sessions, nil
}

func (w *Wezterm) Capture(ctx context.Context, s Session) (Snapshot, error) {
	content, err := w.exec.Execute(ctx, "wezterm", "cli", "get-text", "--pane-id", s.Target)
	if err != nil {
		return Snapshot{}, fmt.Errorf("wezterm cli get-text %s: %w", s.Target, err)
	}
	snap := Snapshot{Session: s.Name, Content: string(content)}

	panes, err := w.panes(ctx)
	if err != nil {
		return snap, nil
	}
	for _, p := range panes {
		if strconv.Itoa(p.PaneID) == s.Target {
			snap.CursorX, snap.CursorY = p.CursorX, p.CursorY
			snap.Width, snap.Height = p.Size.Cols, p.Size.Rows
			break
		}
	}
	return snap, nil
}
