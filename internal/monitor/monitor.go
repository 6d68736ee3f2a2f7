// Package monitor detects stalled agent sessions.
//
// The detector runs on its own ticker, independent of session traffic. On
// each check it compares the time since the last agent activity of every
// active session against the stall threshold and raises at most one stall
// notification per session per cooldown window.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/scharc/boxctl/internal/app"
	"github.com/scharc/boxctl/internal/audit"
	"github.com/scharc/boxctl/internal/config"
	"github.com/scharc/boxctl/internal/health"
	"github.com/scharc/boxctl/internal/logging"
	"github.com/scharc/boxctl/internal/notify"
	"github.com/scharc/boxctl/internal/registry"
)

// Notifier delivers stall notifications.
type Notifier interface {
	Dispatch(ctx context.Context, req notify.Request) (notify.Notification, error)
}

// OverrideFunc returns the stall settings a project overrides, if any.
type OverrideFunc func(project string) (config.StallOverride, bool)

// CheckResult holds the outcome of one session check.
type CheckResult struct {
	Identity string
	Idle     time.Duration
	Stalled  bool
	Notified bool
}

// Detector periodically checks active sessions for stalls.
type Detector struct {
	app       *app.App
	reg       *registry.Registry
	notifier  Notifier
	overrides OverrideFunc
	log       *slog.Logger

	mu sync.Mutex
	// lastNotice is keyed by session ID so a reconnect starts fresh.
	lastNotice map[string]time.Time
}

// Option configures a Detector.
type Option func(*Detector)

// WithOverrides sets the per-project settings lookup.
func WithOverrides(fn OverrideFunc) Option {
	return func(d *Detector) {
		d.overrides = fn
	}
}

// New creates a detector. Settings are read from the host config on every
// check.
func New(a *app.App, reg *registry.Registry, notifier Notifier, opts ...Option) *Detector {
	d := &Detector{
		app:        a,
		reg:        reg,
		notifier:   notifier,
		log:        logging.With("component", "stall"),
		lastNotice: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run checks on every configured interval. It blocks until the context is
// cancelled. The interval is re-read after each check.
func (d *Detector) Run(ctx context.Context) error {
	d.log.Debug("starting stall detector", "interval", d.interval())

	timer := time.NewTimer(d.interval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			d.log.Debug("stall detector stopping")
			return ctx.Err()
		case <-timer.C:
			d.Check(ctx)
			timer.Reset(d.interval())
		}
	}
}

func (d *Detector) interval() time.Duration {
	if iv := d.app.HostConfig().Stall.CheckInterval; iv > 0 {
		return iv
	}
	return config.DefaultHostConfig().Stall.CheckInterval
}

// Check runs one pass over every active session.
func (d *Detector) Check(ctx context.Context) []CheckResult {
	cfg := d.app.HostConfig().Stall
	now := d.app.Now()

	var results []CheckResult
	live := make(map[string]bool)
	for _, s := range d.reg.List() {
		if ctx.Err() != nil {
			break
		}
		if s.State != registry.StateActive {
			continue
		}
		live[s.ID] = true

		enabled, threshold := cfg.Enabled, cfg.Threshold
		if d.overrides != nil {
			if o, ok := d.overrides(s.Project); ok {
				if o.Enabled != nil {
					enabled = *o.Enabled
				}
				if o.Threshold > 0 {
					threshold = o.Threshold
				}
			}
		}
		if !enabled || threshold <= 0 {
			continue
		}

		result := CheckResult{Identity: s.Identity, Idle: now.Sub(s.LastActivity)}
		if result.Idle > threshold {
			result.Stalled = true
			result.Notified = d.stalled(ctx, s, result.Idle, cfg.Cooldown, now)
		}
		results = append(results, result)
	}

	d.mu.Lock()
	for id := range d.lastNotice {
		if !live[id] {
			delete(d.lastNotice, id)
		}
	}
	d.mu.Unlock()

	return results
}

// stalled flags s and sends a notice unless one went out within the
// cooldown. It reports whether a notice was sent.
func (d *Detector) stalled(ctx context.Context, s registry.Summary, idle, cooldown time.Duration, now time.Time) bool {
	d.reg.MarkStalled(s.Identity)

	d.mu.Lock()
	last, seen := d.lastNotice[s.ID]
	if seen && now.Sub(last) < cooldown {
		d.mu.Unlock()
		return false
	}
	d.lastNotice[s.ID] = now
	d.mu.Unlock()

	idleText := health.FormatDuration(idle)
	d.log.Info("session possibly stalled", "identity", s.Identity, "idle", idleText)
	d.app.Audit.LogEvent(audit.EventStall, s.Identity, "idle "+idleText)

	name := s.Project
	if name == "" {
		name = s.Identity
	}
	_, err := d.notifier.Dispatch(ctx, notify.Request{
		Identity: s.Identity,
		Project:  s.Project,
		Title:    "Agent possibly stalled",
		Message:  fmt.Sprintf("%s has shown no activity for %s", name, idleText),
		Urgency:  notify.UrgencyNormal,
		Source:   notify.SourceStall,
	})
	if err != nil {
		d.log.Warn("failed to send stall notification", "identity", s.Identity, "error", err)
	}
	return true
}
