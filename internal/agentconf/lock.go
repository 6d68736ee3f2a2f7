package agentconf

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

const lockPollInterval = 50 * time.Millisecond

// lockPath returns the lock file guarding a pair, placed next to the
// runtime document so every process syncing that file agrees on it.
func lockPath(p *Pair) string {
	dir, base := filepath.Split(p.Files.Runtime)
	return filepath.Join(dir, "."+base+".sync.lock")
}

// acquire takes the sync lock for p. A lock older than the lock timeout,
// or one that cannot be obtained within it, is removed and taken over.
// Two writers can overlap after a steal; that window is accepted so a
// crashed holder never blocks sync forever.
func (e *Engine) acquire(ctx context.Context, p *Pair) (func(), error) {
	path := lockPath(p)
	if err := e.fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	owner := []byte(fmt.Sprintf("%d %s\n", os.Getpid(), e.now().UTC().Format(time.RFC3339)))
	start := time.Now()

	for {
		err := e.fs.CreateExclusive(path, owner, 0644)
		if err == nil {
			return func() {
				if err := e.fs.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
					e.log.Warn("failed to release sync lock", "path", path, "error", err)
				}
			}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("create sync lock: %w", err)
		}

		var age time.Duration
		if info, statErr := e.fs.Stat(path); statErr == nil {
			age = e.now().Sub(info.ModTime())
		}
		waited := time.Since(start)
		if age > e.lockTimeout || waited > e.lockTimeout {
			e.log.Warn("stealing stale sync lock", "path", path, "age", age, "waited", waited)
			if err := e.fs.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("remove stale sync lock: %w", err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}
