package tui

import (
	"strings"
	"testing"

	"github.com/charmbracelet/bubbles/list"

	"github.com/scharc/boxctl/internal/daemon"
	"github.com/scharc/boxctl/internal/health"
	"github.com/scharc/boxctl/internal/registry"
)

func view(identity, project string, status health.Status) daemon.SessionView {
	return daemon.SessionView{
		Summary: registry.Summary{Identity: identity, Project: project},
		Status:  status,
		Idle:    "5s",
		Uptime:  "2h30m",
	}
}

func TestGroupKey(t *testing.T) {
	if got := groupKey(view("boxctl-a", "a", health.StatusActive)); got != "a" {
		t.Errorf("groupKey = %q, want project", got)
	}
	if got := groupKey(view("adhoc", "", health.StatusActive)); got != "adhoc" {
		t.Errorf("groupKey = %q, want identity fallback", got)
	}
}

func TestBuildGroupedItems(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		if items := buildGroupedItems(nil); items != nil {
			t.Errorf("expected nil, got %d items", len(items))
		}
	})

	t.Run("groups sorted with headers", func(t *testing.T) {
		items := buildGroupedItems([]daemon.SessionView{
			view("boxctl-web-2", "web", health.StatusIdle),
			view("boxctl-api", "api", health.StatusActive),
			view("boxctl-web", "web", health.StatusStalled),
		})

		want := []string{"api", "boxctl-api", "web", "boxctl-web", "boxctl-web-2"}
		if len(items) != len(want) {
			t.Fatalf("got %d items, want %d", len(items), len(want))
		}
		for i, w := range want {
			var got string
			switch it := items[i].(type) {
			case headerItem:
				got = it.label
			case sessionItem:
				got = it.view.Identity
			}
			if got != w {
				t.Errorf("item %d = %q, want %q", i, got, w)
			}
		}
		if _, ok := items[0].(headerItem); !ok {
			t.Error("first item should be a header")
		}
	})
}

func TestSessionItemDescription(t *testing.T) {
	tests := []struct {
		status health.Status
		icon   string
	}{
		{health.StatusActive, "✓"},
		{health.StatusIdle, "○"},
		{health.StatusStalled, "⚠"},
		{health.StatusConnecting, "…"},
		{health.StatusDisconnected, "●"},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			desc := sessionItem{view: view("boxctl-a", "a", tt.status)}.Description()
			if !strings.HasPrefix(desc, tt.icon) {
				t.Errorf("Description() = %q, want icon %q", desc, tt.icon)
			}
			if !strings.Contains(desc, "2h30m") || !strings.Contains(desc, string(tt.status)) {
				t.Errorf("Description() = %q missing status or uptime", desc)
			}
		})
	}
}

func TestSkipHeaders(t *testing.T) {
	items := []list.Item{
		headerItem{label: "a"},
		sessionItem{view: view("boxctl-a", "a", health.StatusActive)},
		headerItem{label: "b"},
		sessionItem{view: view("boxctl-b", "b", health.StatusActive)},
	}

	tests := []struct {
		name      string
		start     int
		direction int
		want      int
	}{
		{"down from header", 0, 1, 1},
		{"down onto second header", 2, 1, 3},
		{"up onto second header", 2, -1, 1},
		{"not on header", 1, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := list.New(items, newGroupedDelegate(), 80, 20)
			l.Select(tt.start)
			skipHeaders(&l, tt.direction)
			if l.Index() != tt.want {
				t.Errorf("index = %d, want %d", l.Index(), tt.want)
			}
		})
	}
}

func TestSelectIdentity(t *testing.T) {
	items := buildGroupedItems([]daemon.SessionView{
		view("boxctl-a", "a", health.StatusActive),
		view("boxctl-b", "b", health.StatusActive),
	})
	l := list.New(items, newGroupedDelegate(), 80, 20)

	if !selectIdentity(&l, "boxctl-b") || l.Index() != 3 {
		t.Errorf("selectIdentity moved to %d, want 3", l.Index())
	}
	if selectIdentity(&l, "boxctl-ghost") {
		t.Error("selectIdentity found an unknown identity")
	}
}
