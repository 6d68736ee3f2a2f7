// Package syncloop keeps runtime and project config documents in step by
// polling their modification times.
//
// Polling is used instead of file system events because the project and
// home directories are often bind mounts or overlay mounts where change
// notifications are not delivered.
package syncloop

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"github.com/scharc/boxctl/internal/agentconf"
	"github.com/scharc/boxctl/internal/logging"
	"github.com/scharc/boxctl/internal/system"
)

// DefaultInterval is the poll interval when none is configured.
const DefaultInterval = 3 * time.Second

// State is the phase of one pair's sync state machine.
type State int

const (
	Idle State = iota
	SyncingToRuntime
	SyncingToProject
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case SyncingToRuntime:
		return "syncing-to-runtime"
	case SyncingToProject:
		return "syncing-to-project"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Action is what a tick decided to do.
type Action int

const (
	ActionNone Action = iota
	ActionMerge
	ActionSplit
)

func (a Action) String() string {
	switch a {
	case ActionMerge:
		return "merge"
	case ActionSplit:
		return "split"
	default:
		return "none"
	}
}

// Syncer performs the merge and split operations for a pair.
type Syncer interface {
	Merge(ctx context.Context, p *agentconf.Pair) error
	Split(ctx context.Context, p *agentconf.Pair) error
}

// Stats counts what a loop has done.
type Stats struct {
	Merges    int
	Splits    int
	Failures  int
	LastError string
	LastSync  time.Time
}

// Loop is the sync state machine for one pair.
type Loop struct {
	pair   *agentconf.Pair
	syncer Syncer
	fs     system.FileSystem
	log    *slog.Logger

	mu          sync.Mutex
	state       State
	lastProject time.Time
	lastRuntime time.Time
	stats       Stats
}

// NewLoop creates a loop for pair.
func NewLoop(pair *agentconf.Pair, syncer Syncer, fsys system.FileSystem) *Loop {
	return &Loop{
		pair:   pair,
		syncer: syncer,
		fs:     fsys,
		log:    logging.With("component", "syncloop", "agent", pair.Agent.Name),
	}
}

// Pair returns the pair this loop watches.
func (l *Loop) Pair() *agentconf.Pair {
	return l.pair
}

// State returns the current state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Stats returns a snapshot of the loop counters.
func (l *Loop) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

// Prime runs the startup merge when a project document exists and records
// the current modification times as the baseline for later ticks.
func (l *Loop) Prime(ctx context.Context) error {
	project := l.mtime(l.pair.Files.Project)
	if !project.IsZero() {
		if err := l.syncer.Merge(ctx, l.pair); err != nil {
			l.fail(err)
			return err
		}
		l.mu.Lock()
		l.stats.Merges++
		l.stats.LastSync = time.Now()
		l.mu.Unlock()
	}

	l.mu.Lock()
	l.lastProject = project
	l.lastRuntime = l.mtime(l.pair.Files.Runtime)
	l.mu.Unlock()
	return nil
}

// Tick evaluates the transition rules once. Project changes win over
// runtime changes. On failure the recorded times are left alone so the
// next tick retries the same change.
func (l *Loop) Tick(ctx context.Context) (Action, error) {
	project := l.mtime(l.pair.Files.Project)
	runtime := l.mtime(l.pair.Files.Runtime)

	l.mu.Lock()
	projectChanged := !project.Equal(l.lastProject)
	runtimeChanged := !runtime.Equal(l.lastRuntime)
	l.mu.Unlock()

	switch {
	case projectChanged:
		l.setState(SyncingToRuntime)
		defer l.setState(Idle)

		if err := l.syncer.Merge(ctx, l.pair); err != nil {
			l.fail(err)
			return ActionMerge, err
		}
		l.mu.Lock()
		l.lastProject = project
		l.lastRuntime = l.mtime(l.pair.Files.Runtime)
		l.stats.Merges++
		l.stats.LastSync = time.Now()
		l.mu.Unlock()
		l.log.Info("project config changed, runtime updated")
		return ActionMerge, nil

	case runtimeChanged:
		l.setState(SyncingToProject)
		defer l.setState(Idle)

		if err := l.syncer.Split(ctx, l.pair); err != nil {
			l.fail(err)
			return ActionSplit, err
		}
		l.mu.Lock()
		l.lastRuntime = runtime
		l.lastProject = l.mtime(l.pair.Files.Project)
		l.stats.Splits++
		l.stats.LastSync = time.Now()
		l.mu.Unlock()
		l.log.Info("runtime config changed, project overrides updated")
		return ActionSplit, nil
	}

	return ActionNone, nil
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

func (l *Loop) fail(err error) {
	l.mu.Lock()
	l.stats.Failures++
	l.stats.LastError = err.Error()
	l.mu.Unlock()
	l.log.Warn("config sync failed, retrying next tick", "error", err)
}

// mtime returns the modification time of path, or the zero time when the
// file is missing or unreadable.
func (l *Loop) mtime(path string) time.Time {
	info, err := l.fs.Stat(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			l.log.Debug("stat failed", "path", path, "error", err)
		}
		return time.Time{}
	}
	return info.ModTime()
}
