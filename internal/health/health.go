package health

import (
	"fmt"
	"time"

	"github.com/scharc/boxctl/internal/registry"
)

// Status represents the derived status of a session
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusActive       Status = "active"
	StatusIdle         Status = "idle"
	StatusStalled      Status = "stalled"
	StatusDisconnected Status = "disconnected"
)

// Report is the status of one session at a point in time
type Report struct {
	Identity string        `json:"identity"`
	Project  string        `json:"project,omitempty"`
	Status   Status        `json:"status"`
	Idle     time.Duration `json:"idle"`
	IdleText string        `json:"idle_text"`
	Uptime   string        `json:"uptime"`
	Streams  int           `json:"streams"`
}

// Derive returns the status of s at now. Sessions without activity for
// longer than idleAfter are idle; a zero idleAfter never reports idle.
func Derive(s registry.Summary, now time.Time, idleAfter time.Duration) Status {
	switch s.State {
	case registry.StateConnecting:
		return StatusConnecting
	case registry.StateDisconnected:
		return StatusDisconnected
	}
	if s.Stalled {
		return StatusStalled
	}
	if idleAfter > 0 && now.Sub(lastActivity(s)) > idleAfter {
		return StatusIdle
	}
	return StatusActive
}

// Check builds the report for s.
func Check(s registry.Summary, now time.Time, idleAfter time.Duration) Report {
	r := Report{
		Identity: s.Identity,
		Project:  s.Project,
		Status:   Derive(s, now, idleAfter),
		Streams:  len(s.Streams),
		Uptime:   "-",
		IdleText: "-",
	}
	if r.Status == StatusDisconnected {
		return r
	}
	r.Idle = now.Sub(lastActivity(s))
	r.IdleText = FormatDuration(r.Idle)
	r.Uptime = FormatDuration(now.Sub(s.ConnectedAt))
	return r
}

func lastActivity(s registry.Summary) time.Time {
	if s.LastActivity.IsZero() {
		return s.ConnectedAt
	}
	return s.LastActivity
}

// FormatDuration renders d compactly, e.g. "45s", "3m", "2h 5m", "1d 4h".
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	} else if d < 24*time.Hour {
		hours := int(d.Hours())
		mins := int(d.Minutes()) % 60
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd %dh", days, hours)
}
