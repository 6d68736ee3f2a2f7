package tui

import (
	"fmt"
	"io"
	"sort"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/scharc/boxctl/internal/daemon"
	"github.com/scharc/boxctl/internal/health"
)

// headerItem is a non-selectable project separator in the session list.
type headerItem struct {
	label string
}

func (h headerItem) FilterValue() string { return "" }
func (h headerItem) Title() string       { return h.label }
func (h headerItem) Description() string { return "" }

// sessionItem implements list.Item for one container session.
type sessionItem struct {
	view daemon.SessionView
}

func (i sessionItem) Title() string {
	return i.view.Identity
}

func (i sessionItem) Description() string {
	streams := len(i.view.Streams)
	return fmt.Sprintf("%s %s | idle %s | up %s | %d streams",
		statusIcon(i.view.Status),
		i.view.Status,
		i.view.Idle,
		i.view.Uptime,
		streams,
	)
}

func (i sessionItem) FilterValue() string {
	return i.view.Identity
}

func statusIcon(s health.Status) string {
	switch s {
	case health.StatusActive:
		return "✓"
	case health.StatusIdle:
		return "○"
	case health.StatusStalled:
		return "⚠"
	case health.StatusConnecting:
		return "…"
	default:
		return "●"
	}
}

// groupKey returns the grouping key for a session.
func groupKey(s daemon.SessionView) string {
	if s.Project != "" {
		return s.Project
	}
	return s.Identity
}

// buildGroupedItems groups sessions by project and returns list items
// with headerItem separators.
func buildGroupedItems(sessions []daemon.SessionView) []list.Item {
	if len(sessions) == 0 {
		return nil
	}

	groupMap := make(map[string][]daemon.SessionView)
	for _, s := range sessions {
		key := groupKey(s)
		groupMap[key] = append(groupMap[key], s)
	}

	keys := make([]string, 0, len(groupMap))
	for k := range groupMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var items []list.Item
	for _, k := range keys {
		items = append(items, headerItem{label: k})
		group := groupMap[k]
		sort.Slice(group, func(i, j int) bool { return group[i].Identity < group[j].Identity })
		for _, s := range group {
			items = append(items, sessionItem{view: s})
		}
	}
	return items
}

// headerStyle is the style for group header items.
var headerStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("241")).
	PaddingLeft(2)

// groupedDelegate renders both headerItem and sessionItem in the list.
type groupedDelegate struct {
	inner list.DefaultDelegate
}

func newGroupedDelegate() groupedDelegate {
	delegate := list.NewDefaultDelegate()
	delegate.Styles.SelectedTitle = selectedStyle
	delegate.Styles.SelectedDesc = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	return groupedDelegate{inner: delegate}
}

func (d groupedDelegate) Height() int                             { return d.inner.Height() }
func (d groupedDelegate) Spacing() int                            { return d.inner.Spacing() }
func (d groupedDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd { return nil }

func (d groupedDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	if h, ok := item.(headerItem); ok {
		fmt.Fprint(w, headerStyle.Render(h.label))
		return
	}
	d.inner.Render(w, m, index, item)
}

// skipHeaders moves the cursor off a headerItem. direction should be 1
// (down) or -1 (up).
func skipHeaders(l *list.Model, direction int) {
	items := l.Items()
	if len(items) == 0 {
		return
	}

	idx := l.Index()
	if _, ok := items[idx].(headerItem); !ok {
		return
	}

	next := idx + direction
	if next >= 0 && next < len(items) {
		if _, ok := items[next].(headerItem); !ok {
			l.Select(next)
			return
		}
	}

	opposite := idx - direction
	if opposite >= 0 && opposite < len(items) {
		if _, ok := items[opposite].(headerItem); !ok {
			l.Select(opposite)
			return
		}
	}

	for i := 0; i < len(items); i++ {
		candidate := (idx + i*direction + len(items)) % len(items)
		if _, ok := items[candidate].(headerItem); !ok {
			l.Select(candidate)
			return
		}
	}
}

// navigationDirection returns -1 for up/k keys and 1 otherwise.
func navigationDirection(msg tea.KeyMsg) int {
	switch msg.String() {
	case "up", "k":
		return -1
	default:
		return 1
	}
}

// selectIdentity moves the cursor to identity, if it is listed.
func selectIdentity(l *list.Model, identity string) bool {
	for i, item := range l.Items() {
		if s, ok := item.(sessionItem); ok && s.view.Identity == identity {
			l.Select(i)
			return true
		}
	}
	return false
}
