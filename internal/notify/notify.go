package notify

import (
	"fmt"
	"strings"
	"time"

	boxerrors "github.com/scharc/boxctl/internal/errors"
)

// Urgency of a notification.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyNormal   Urgency = "normal"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// ParseUrgency parses an urgency name. The empty string is normal.
func ParseUrgency(s string) (Urgency, error) {
	switch u := Urgency(strings.ToLower(strings.TrimSpace(s))); u {
	case "":
		return UrgencyNormal, nil
	case UrgencyLow, UrgencyNormal, UrgencyHigh, UrgencyCritical:
		return u, nil
	default:
		return "", boxerrors.ValidationError(fmt.Sprintf("invalid urgency %q: must be low, normal, high or critical", s))
	}
}

// Sink returns the urgency a sink should present; high is shown as
// critical.
func (u Urgency) Sink() Urgency {
	if u == UrgencyHigh {
		return UrgencyCritical
	}
	return u
}

// Source says what raised a notification.
type Source string

const (
	SourceRequest Source = "request"
	SourceStall   Source = "stall"
)

// Request asks the dispatcher to deliver a notification.
type Request struct {
	Identity string
	Project  string
	Title    string
	Message  string
	Urgency  Urgency
	Source   Source
	Metadata map[string]string
}

// Notification is a request after dispatch.
type Notification struct {
	ID       string    `json:"id"`
	Identity string    `json:"identity"`
	Project  string    `json:"project,omitempty"`
	Title    string    `json:"title"`
	Message  string    `json:"message"`
	Summary  string    `json:"summary,omitempty"`
	Detail   string    `json:"detail,omitempty"`
	Urgency  Urgency   `json:"urgency"`
	Source   Source    `json:"source"`
	Time     time.Time `json:"time"`

	Delivered  bool     `json:"delivered"`
	Suppressed bool     `json:"suppressed"`
	Errors     []string `json:"errors,omitempty"`
}

// Short is the text shown on compact sinks.
func (n Notification) Short() string {
	if n.Summary != "" {
		return n.Summary
	}
	return n.Message
}

// Long is the text shown on verbose sinks.
func (n Notification) Long() string {
	if n.Detail != "" {
		return n.Detail
	}
	return n.Message
}
