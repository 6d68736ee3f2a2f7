package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeHostConfig(t *testing.T, td *testDaemon, body string) {
	t.Helper()
	path := td.app.Paths.HostConfigFile()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
}

func TestReload_KeepsDaemonSection(t *testing.T) {
	td := newTestDaemon(t, nil)
	socket := td.app.HostConfig().Daemon.Socket

	writeHostConfig(t, td, "daemon:\n  socket: /elsewhere.sock\nstall:\n  enabled: true\n  threshold: 2m\n  cooldown: 5m\n  check_interval: 10s\n")
	if err := td.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	cfg := td.app.HostConfig()
	if cfg.Stall.Threshold != 2*time.Minute {
		t.Errorf("threshold = %v, want 2m", cfg.Stall.Threshold)
	}
	if cfg.Daemon.Socket != socket {
		t.Errorf("socket changed to %q on reload", cfg.Daemon.Socket)
	}
}

func TestReload_InvalidConfigKeepsPrevious(t *testing.T) {
	td := newTestDaemon(t, nil)
	before := td.app.HostConfig()

	writeHostConfig(t, td, "stall: [not, a, map\n")
	if err := td.Reload(); err == nil {
		t.Fatal("Reload accepted malformed config")
	}
	if td.app.HostConfig() != before {
		t.Error("config replaced after failed reload")
	}
}

func TestWatchConfig_AppliesChanges(t *testing.T) {
	td := newTestDaemon(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- td.WatchConfig(ctx) }()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("WatchConfig: %v", err)
		}
	}()

	// Give the watcher time to register before writing.
	time.Sleep(50 * time.Millisecond)
	writeHostConfig(t, td, "notifications:\n  desktop: false\n  dedup_window: 1s\n  history_size: 7\n")

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if td.app.HostConfig().Notifications.HistorySize == 7 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("config change was not applied")
}
