// Package tui implements `boxctl watch`, a live dashboard of the daemon.
//
// The dashboard polls the daemon's control API and shows:
//
//   - container sessions grouped by project, with derived status
//     (active, idle, stalled, disconnected), idle time and uptime
//   - configured port tunnels and their state
//   - the most recent notifications
//
// Enter opens the latest terminal snapshots of the selected session.
//
// # Dependencies
//
// Uses the Charm libraries:
//   - github.com/charmbracelet/bubbletea - TUI framework
//   - github.com/charmbracelet/bubbles - list and viewport components
//   - github.com/charmbracelet/lipgloss - Styling
package tui
