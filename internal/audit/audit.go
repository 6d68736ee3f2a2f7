// Package audit records session, port and notification events.
// Events are stored as JSON Lines (JSONL) files, one per container identity.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventType classifies an event.
type EventType string

const (
	EventConnect        EventType = "connect"
	EventSuperseded     EventType = "superseded"
	EventDisconnect     EventType = "disconnect"
	EventPortActivate   EventType = "port_activate"
	EventPortDeactivate EventType = "port_deactivate"
	EventPortError      EventType = "port_error"
	EventNotify         EventType = "notify"
	EventNotifySuppress EventType = "notify_suppressed"
	EventStall          EventType = "stall"
	EventResume         EventType = "resume"
)

// Event represents a single journal entry.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	Identity  string    `json:"identity"`
	Details   string    `json:"details,omitempty"`
}

// Logger appends and reads events. Events are stored in
// {dir}/{identity}.jsonl. A nil *Logger discards everything.
type Logger struct {
	dir string
	now func() time.Time

	mu sync.Mutex
}

// NewLogger creates a logger rooted at dir.
func NewLogger(dir string) *Logger {
	return &Logger{dir: dir, now: time.Now}
}

// WithClock replaces the timestamp source.
func (l *Logger) WithClock(now func() time.Time) *Logger {
	l.now = now
	return l
}

func (l *Logger) eventPath(identity string) string {
	return filepath.Join(l.dir, identity+".jsonl")
}

// Log appends an event to the identity's journal.
func (l *Logger) Log(event Event) error {
	if l == nil {
		return nil
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = l.now()
	}
	if event.Identity == "" || filepath.Base(event.Identity) != event.Identity {
		return fmt.Errorf("invalid journal identity %q", event.Identity)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("failed to create journal directory: %w", err)
	}
	f, err := os.OpenFile(l.eventPath(event.Identity), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}

// LogEvent is a convenience method that creates and logs an event.
func (l *Logger) LogEvent(eventType EventType, identity, details string) error {
	return l.Log(Event{Type: eventType, Identity: identity, Details: details})
}

// Events reads all events for an identity in chronological order.
func (l *Logger) Events(identity string) ([]Event, error) {
	if l == nil {
		return nil, nil
	}
	f, err := os.Open(l.eventPath(identity))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			continue // Skip malformed lines
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return events, fmt.Errorf("error reading journal: %w", err)
	}
	return events, nil
}

// Tail returns the last n events for an identity.
func (l *Logger) Tail(identity string, n int) ([]Event, error) {
	events, err := l.Events(identity)
	if err != nil || n <= 0 || len(events) <= n {
		return events, err
	}
	return events[len(events)-n:], nil
}

// Remove deletes the journal of an identity.
func (l *Logger) Remove(identity string) error {
	if l == nil {
		return nil
	}
	if err := os.Remove(l.eventPath(identity)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
