package tui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/scharc/boxctl/internal/daemon"
	"github.com/scharc/boxctl/internal/notify"
	"github.com/scharc/boxctl/internal/port"
)

// Source is where the dashboard reads daemon state from.
type Source interface {
	Sessions(ctx context.Context) ([]daemon.SessionView, error)
	Terminals(ctx context.Context, identity string) ([]daemon.Terminal, error)
	Ports(ctx context.Context, project string) ([]port.Tunnel, error)
	Notifications(ctx context.Context, limit int) ([]notify.Notification, error)
}

// ErrNoTerminal is returned by RunWatch when stdout is not a terminal.
var ErrNoTerminal = errors.New("watch needs an interactive terminal; use `boxctl sessions` instead")

const recentNotifications = 5

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")).
			MarginBottom(1)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			MarginTop(1)

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(0, 1)

	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

type mode int

const (
	modeSessions mode = iota
	modeTerminal
)

// snapshotMsg carries one refresh of daemon state.
type snapshotMsg struct {
	sessions      []daemon.SessionView
	ports         []port.Tunnel
	notifications []notify.Notification
	err           error
}

// terminalMsg carries the terminals of one session.
type terminalMsg struct {
	identity  string
	terminals []daemon.Terminal
	err       error
}

type tickMsg time.Time

// Model is the bubbletea model of `boxctl watch`.
type Model struct {
	src      Source
	interval time.Duration

	list     list.Model
	viewport viewport.Model
	mode     mode

	sessions      []daemon.SessionView
	ports         []port.Tunnel
	notifications []notify.Notification
	terminalOf    string
	err           error
	updated       time.Time

	width  int
	height int
}

// NewWatch creates the dashboard model.
func NewWatch(src Source, interval time.Duration) Model {
	l := list.New(nil, newGroupedDelegate(), 80, 20)
	l.Title = "boxctl - Sessions"
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(false)
	l.SetShowHelp(false)
	l.Styles.Title = titleStyle

	return Model{
		src:      src,
		interval: interval,
		list:     l,
		viewport: viewport.New(80, 20),
	}
}

func (m Model) Init() tea.Cmd {
	return m.refresh()
}

func (m Model) refresh() tea.Cmd {
	src := m.src
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		var msg snapshotMsg
		if msg.sessions, msg.err = src.Sessions(ctx); msg.err != nil {
			return msg
		}
		if msg.ports, msg.err = src.Ports(ctx, ""); msg.err != nil {
			return msg
		}
		msg.notifications, msg.err = src.Notifications(ctx, recentNotifications)
		return msg
	}
}

func (m Model) loadTerminals(identity string) tea.Cmd {
	src := m.src
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		terms, err := src.Terminals(ctx, identity)
		return terminalMsg{identity: identity, terminals: terms, err: err}
	}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.list.SetSize(msg.Width, max(msg.Height/2, 5))
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-4, 3)
		return m, nil

	case tickMsg:
		cmds := []tea.Cmd{m.refresh()}
		if m.mode == modeTerminal {
			cmds = append(cmds, m.loadTerminals(m.terminalOf))
		}
		return m, tea.Batch(cmds...)

	case snapshotMsg:
		m.err = msg.err
		if msg.err == nil {
			m.applySnapshot(msg)
		}
		return m, m.tick()

	case terminalMsg:
		if msg.identity != m.terminalOf {
			return m, nil
		}
		if msg.err != nil {
			m.viewport.SetContent(errorStyle.Render(msg.err.Error()))
			return m, nil
		}
		m.viewport.SetContent(renderTerminals(msg.terminals))
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m *Model) applySnapshot(msg snapshotMsg) {
	selected := m.selectedIdentity()
	m.sessions = msg.sessions
	m.ports = msg.ports
	m.notifications = msg.notifications
	m.updated = time.Now()

	m.list.SetItems(buildGroupedItems(msg.sessions))
	if selected == "" || !selectIdentity(&m.list, selected) {
		skipHeaders(&m.list, 1)
	}
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.mode == modeTerminal {
		switch msg.String() {
		case "esc", "backspace":
			m.mode = modeSessions
			m.terminalOf = ""
			return m, nil
		case "q", "ctrl+c":
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "q", "esc", "ctrl+c":
		return m, tea.Quit
	case "r":
		return m, m.refresh()
	case "enter":
		if id := m.selectedIdentity(); id != "" {
			m.mode = modeTerminal
			m.terminalOf = id
			m.viewport.SetContent(dimStyle.Render("loading..."))
			return m, m.loadTerminals(id)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	skipHeaders(&m.list, navigationDirection(msg))
	return m, cmd
}

func (m Model) selectedIdentity() string {
	if item, ok := m.list.SelectedItem().(sessionItem); ok {
		return item.view.Identity
	}
	return ""
}

func (m Model) View() string {
	if m.mode == modeTerminal {
		header := titleStyle.Render("boxctl - " + m.terminalOf)
		help := helpStyle.Render("[esc] Back  [↑/↓] Scroll  [q] Quit")
		return header + "\n" + m.viewport.View() + "\n" + help
	}

	var b strings.Builder
	if len(m.sessions) == 0 {
		b.WriteString(titleStyle.Render("boxctl - Sessions"))
		b.WriteString("\n")
		b.WriteString(dimStyle.Render("  No container sessions."))
		b.WriteString("\n")
	} else {
		b.WriteString(m.list.View())
		b.WriteString("\n")
	}

	b.WriteString(panelStyle.Render(m.portsPanel()))
	b.WriteString("\n")
	b.WriteString(panelStyle.Render(m.notificationsPanel()))

	if m.err != nil {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render("✗ " + m.err.Error()))
	}
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("[enter] Terminals  [r] Refresh  [q] Quit"))
	return b.String()
}

func (m Model) portsPanel() string {
	var b strings.Builder
	b.WriteString("Ports")
	if len(m.ports) == 0 {
		b.WriteString("\n" + dimStyle.Render("none configured"))
		return b.String()
	}
	for _, t := range m.ports {
		line := fmt.Sprintf("%-12s %-7s %5d ↔ %-21s %s", t.Project, t.Direction, t.ContainerPort, t.HostAddr(), t.State)
		if t.Error != "" {
			line += " " + errorStyle.Render(t.Error)
		}
		b.WriteString("\n" + line)
	}
	return b.String()
}

func (m Model) notificationsPanel() string {
	var b strings.Builder
	b.WriteString("Notifications")
	if len(m.notifications) == 0 {
		b.WriteString("\n" + dimStyle.Render("none yet"))
		return b.String()
	}
	for _, n := range m.notifications {
		mark := "✓"
		if n.Suppressed {
			mark = "≡"
		} else if !n.Delivered {
			mark = "✗"
		}
		b.WriteString(fmt.Sprintf("\n%s %s %-16s %s", mark, n.Time.Format("15:04:05"), n.Identity, n.Short()))
	}
	return b.String()
}

func renderTerminals(terms []daemon.Terminal) string {
	if len(terms) == 0 {
		return dimStyle.Render("No terminal output streamed for this session.")
	}
	var b strings.Builder
	for i, t := range terms {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(selectedStyle.Render(fmt.Sprintf("── %s (%dx%d) ", t.Session, t.Width, t.Height)))
		b.WriteString("\n")
		b.WriteString(strings.TrimRight(t.Content, "\n"))
		b.WriteString("\n")
	}
	return b.String()
}

// RunWatch runs the dashboard until the user quits or ctx is cancelled.
func RunWatch(ctx context.Context, src Source, interval time.Duration) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return ErrNoTerminal
	}
	p := tea.NewProgram(NewWatch(src, interval), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
