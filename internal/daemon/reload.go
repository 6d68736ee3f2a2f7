package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/scharc/boxctl/internal/config"
)

// reloadDebounce coalesces the burst of events an editor's save produces.
const reloadDebounce = 250 * time.Millisecond

// Reload re-reads the host config. Listener addresses cannot change while
// running, so the current daemon section is kept. On error the running
// config stays in effect.
func (d *Daemon) Reload() error {
	cfg, err := config.LoadHostConfig(d.app.FS, d.app.Paths.HostConfigFile())
	if err != nil {
		return err
	}
	cfg.Daemon = d.app.HostConfig().Daemon
	d.app.SetHostConfig(cfg)
	d.log.Info("host config reloaded")
	return nil
}

// WatchConfig reloads the host config whenever its file changes, until
// ctx is done. The directory is watched so that atomic renames are seen.
func (d *Daemon) WatchConfig(ctx context.Context) error {
	path := d.app.Paths.HostConfigFile()
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	name := filepath.Base(path)
	timer := time.NewTimer(reloadDebounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != name || ev.Op == fsnotify.Chmod {
				continue
			}
			timer.Reset(reloadDebounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			d.log.Warn("config watcher error", "error", err)
		case <-timer.C:
			if err := d.Reload(); err != nil {
				d.log.Warn("host config reload failed, keeping previous config", "error", err)
			}
		}
	}
}
