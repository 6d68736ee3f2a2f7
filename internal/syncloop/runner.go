package syncloop

import (
	"context"
	"time"

	"github.com/scharc/boxctl/internal/logging"
)

// Runner drives every loop of one container on a shared ticker.
type Runner struct {
	interval time.Duration
	loops    []*Loop
	onTick   func(*Loop, Action, error)
}

// Option configures a Runner.
type Option func(*Runner)

// WithTickHook registers a function called after every loop tick that
// did something or failed.
func WithTickHook(fn func(*Loop, Action, error)) Option {
	return func(r *Runner) {
		r.onTick = fn
	}
}

// NewRunner creates a Runner. A non-positive interval uses DefaultInterval.
func NewRunner(interval time.Duration, loops []*Loop, opts ...Option) *Runner {
	if interval <= 0 {
		interval = DefaultInterval
	}
	r := &Runner{
		interval: interval,
		loops:    loops,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Loops returns the loops driven by r.
func (r *Runner) Loops() []*Loop {
	return r.loops
}

// Run primes every loop, then ticks them until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	logging.Debug("starting config sync", "interval", r.interval, "pairs", len(r.loops))

	for _, l := range r.loops {
		if err := l.Prime(ctx); err != nil {
			logging.Warn("initial merge failed", "agent", l.pair.Agent.Name, "error", err)
		}
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Debug("config sync stopping")
			return ctx.Err()
		case <-ticker.C:
			r.TickAll(ctx)
		}
	}
}

// TickAll ticks every loop once.
func (r *Runner) TickAll(ctx context.Context) {
	for _, l := range r.loops {
		if ctx.Err() != nil {
			return
		}
		action, err := l.Tick(ctx)
		if r.onTick != nil && (action != ActionNone || err != nil) {
			r.onTick(l, action, err)
		}
	}
}
