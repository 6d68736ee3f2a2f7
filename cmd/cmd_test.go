package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/scharc/boxctl/internal/agent"
	"github.com/scharc/boxctl/internal/client"
	"github.com/scharc/boxctl/internal/daemon"
	"github.com/scharc/boxctl/internal/errors"
	"github.com/scharc/boxctl/internal/health"
	"github.com/scharc/boxctl/internal/notify"
	"github.com/scharc/boxctl/internal/port"
	"github.com/scharc/boxctl/internal/registry"
	"github.com/scharc/boxctl/internal/testutil"
	"github.com/scharc/boxctl/internal/tunnel"
)

type fakeControl struct {
	sessions      []daemon.SessionView
	tunnels       []port.Tunnel
	notifications []notify.Notification
	err           error

	portsProject string
	added        []daemon.PortRequest
	removed      []port.Key
	notified     []daemon.NotifyRequest
	limit        int
}

func (f *fakeControl) Sessions(ctx context.Context) ([]daemon.SessionView, error) {
	return f.sessions, f.err
}

func (f *fakeControl) Terminals(ctx context.Context, identity string) ([]daemon.Terminal, error) {
	return nil, f.err
}

func (f *fakeControl) Ports(ctx context.Context, project string) ([]port.Tunnel, error) {
	f.portsProject = project
	return f.tunnels, f.err
}

func (f *fakeControl) AddPort(ctx context.Context, req daemon.PortRequest) (port.Tunnel, error) {
	if f.err != nil {
		return port.Tunnel{}, f.err
	}
	f.added = append(f.added, req)
	hostPort := req.HostPort
	if hostPort == 0 {
		hostPort = req.ContainerPort
	}
	return port.Tunnel{
		Project:       req.Project,
		Direction:     port.Direction(req.Direction),
		ContainerPort: req.ContainerPort,
		HostPort:      hostPort,
		State:         port.StateConfigured,
	}, nil
}

func (f *fakeControl) RemovePort(ctx context.Context, project string, dir port.Direction, hostPort int) (port.Tunnel, error) {
	if f.err != nil {
		return port.Tunnel{}, f.err
	}
	f.removed = append(f.removed, port.Key{Project: project, Direction: dir, HostPort: hostPort})
	return port.Tunnel{Project: project, Direction: dir, HostPort: hostPort, State: port.StateRemoved}, nil
}

func (f *fakeControl) Notifications(ctx context.Context, limit int) ([]notify.Notification, error) {
	f.limit = limit
	return f.notifications, f.err
}

func (f *fakeControl) Notify(ctx context.Context, req daemon.NotifyRequest) (notify.Notification, error) {
	if f.err != nil {
		return notify.Notification{}, f.err
	}
	f.notified = append(f.notified, req)
	return notify.Notification{ID: "n1", Title: req.Title, Delivered: true}, nil
}

type fakeLocal struct {
	statuses []tunnel.PortStatus
	err      error

	notified []client.LocalNotify
	added    []client.LocalPort
	removed  []string
	resumed  int
}

func (f *fakeLocal) Notify(ctx context.Context, n client.LocalNotify) (tunnel.NotifyResult, error) {
	if f.err != nil {
		return tunnel.NotifyResult{}, f.err
	}
	f.notified = append(f.notified, n)
	return tunnel.NotifyResult{ID: "n2", Delivered: true}, nil
}

func (f *fakeLocal) Resume(ctx context.Context) (tunnel.SessionState, error) {
	f.resumed++
	return tunnel.SessionState{State: "active"}, f.err
}

func (f *fakeLocal) Ports(ctx context.Context) ([]tunnel.PortStatus, error) {
	return f.statuses, f.err
}

func (f *fakeLocal) AddPort(ctx context.Context, p client.LocalPort) (tunnel.PortStatus, error) {
	if f.err != nil {
		return tunnel.PortStatus{}, f.err
	}
	f.added = append(f.added, p)
	return tunnel.PortStatus{Project: "webapp", Direction: p.Direction, ContainerPort: p.ContainerPort, HostPort: p.HostPort, State: "active"}, nil
}

func (f *fakeLocal) RemovePort(ctx context.Context, direction string, hostPort int) (tunnel.PortStatus, error) {
	if f.err != nil {
		return tunnel.PortStatus{}, f.err
	}
	f.removed = append(f.removed, direction)
	return tunnel.PortStatus{Project: "webapp", Direction: direction, HostPort: hostPort, State: "removed"}, nil
}

// useFakes installs ctl as the daemon API and local as the container
// socket; a nil local means boxctl runs on the host.
func useFakes(t *testing.T, ctl *fakeControl, local *fakeLocal) {
	t.Helper()
	origControl, origLocal := newControlAPI, newLocalAPI
	newControlAPI = func() controlAPI { return ctl }
	newLocalAPI = func() (localAPI, bool) {
		if local == nil {
			return nil, false
		}
		return local, true
	}
	t.Cleanup(func() {
		newControlAPI, newLocalAPI = origControl, origLocal
	})
}

func executeCommand(args ...string) (string, string, error) {
	// Reset flag values before each test
	verbose = false
	jsonOutput = false
	daemonCheck = false
	portsProject = ""
	portsBind = ""
	notifyUrgency = string(notify.UrgencyNormal)
	notifyProject = ""
	notificationsLimit = 20
	syncOnce = false
	syncLibraryDir = agent.DefaultLibraryDir
	syncProjectDir = agent.DefaultProjectDir
	syncHomeDir = agent.DefaultHomeDir

	cmd := rootCmd
	cmd.SetArgs(args)

	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)

	err := cmd.Execute()

	cmd.SetArgs(nil)
	cmd.SetOut(nil)
	cmd.SetErr(nil)

	return stdout.String(), stderr.String(), err
}

func TestRootCommand_Help(t *testing.T) {
	stdout, _, err := executeCommand("--help")
	if err != nil {
		t.Fatalf("Help command failed: %v", err)
	}

	for _, name := range []string{"boxctl", "daemon", "connect", "sync", "ports", "sessions", "notify", "watch", "--json", "--verbose"} {
		if !strings.Contains(stdout, name) {
			t.Errorf("Help output should contain %q", name)
		}
	}
}

func TestCommandRequiresArgs(t *testing.T) {
	tests := [][]string{
		{"notify", "only-title"},
		{"ports", "expose"},
		{"ports", "unforward"},
		{"config", "show"},
		{"sessions", "extra"},
	}

	for _, args := range tests {
		t.Run(strings.Join(args, " "), func(t *testing.T) {
			useFakes(t, &fakeControl{}, nil)
			if _, _, err := executeCommand(args...); err == nil {
				t.Errorf("%v: expected argument error", args)
			}
		})
	}
}

func TestSessions_Table(t *testing.T) {
	now := time.Now()
	ctl := &fakeControl{sessions: []daemon.SessionView{
		{
			Summary: registry.Summary{Identity: "boxctl-webapp", Project: "webapp", ConnectedAt: now,
				Streams: []registry.StreamInfo{{ID: 1, Kind: "terminal"}, {ID: 3, Kind: "expose"}}},
			Status: health.StatusStalled,
			Idle:   "2m",
			Uptime: "1h",
		},
		{
			Summary: registry.Summary{Identity: "boxctl-api", Project: "api"},
			Status:  health.StatusActive,
			Idle:    "1s",
			Uptime:  "5m",
		},
	}}
	useFakes(t, ctl, nil)

	stdout, _, err := executeCommand("sessions")
	if err != nil {
		t.Fatalf("sessions failed: %v", err)
	}
	for _, want := range []string{"IDENTITY", "boxctl-webapp", "⚠ stalled", "terminal,expose", "boxctl-api", "✓ active"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("output missing %q:\n%s", want, stdout)
		}
	}
}

func TestSessions_JSON(t *testing.T) {
	ctl := &fakeControl{sessions: []daemon.SessionView{{
		Summary: registry.Summary{Identity: "boxctl-webapp", StateName: "active"},
		Status:  health.StatusActive,
	}}}
	useFakes(t, ctl, nil)

	stdout, _, err := executeCommand("sessions", "--json")
	if err != nil {
		t.Fatalf("sessions --json failed: %v", err)
	}
	var got []map[string]any
	if err := json.Unmarshal([]byte(stdout), &got); err != nil {
		t.Fatalf("invalid JSON %q: %v", stdout, err)
	}
	if len(got) != 1 || got[0]["identity"] != "boxctl-webapp" || got[0]["status"] != "active" {
		t.Errorf("got %v", got)
	}
}

func TestSessions_DaemonDown(t *testing.T) {
	useFakes(t, &fakeControl{err: errors.DaemonUnavailable(os.ErrNotExist)}, nil)

	_, _, err := executeCommand("sessions")
	if errors.GetExitCode(err) != errors.ExitDaemonUnavailable {
		t.Errorf("exit code = %d, want %d (err %v)", errors.GetExitCode(err), errors.ExitDaemonUnavailable, err)
	}
}

func TestNotifications(t *testing.T) {
	ctl := &fakeControl{notifications: []notify.Notification{
		{Identity: "boxctl-webapp", Title: "Build done", Message: "all green", Summary: "green", Urgency: notify.UrgencyNormal, Delivered: true, Time: time.Now()},
		{Identity: "host", Title: "Again", Message: "dup", Urgency: notify.UrgencyLow, Suppressed: true, Time: time.Now()},
	}}
	useFakes(t, ctl, nil)

	stdout, _, err := executeCommand("notifications", "-n", "5")
	if err != nil {
		t.Fatalf("notifications failed: %v", err)
	}
	if ctl.limit != 5 {
		t.Errorf("limit = %d, want 5", ctl.limit)
	}
	for _, want := range []string{"Build done", "green", "delivered", "suppressed"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("output missing %q:\n%s", want, stdout)
		}
	}
}

func TestPortsList_Host(t *testing.T) {
	ctl := &fakeControl{tunnels: []port.Tunnel{
		{Project: "webapp", Direction: port.Expose, ContainerPort: 3000, HostPort: 3000, Bind: "127.0.0.1", State: port.StateActive},
		{Project: "webapp", Direction: port.Forward, ContainerPort: 5432, HostPort: 5432, State: port.StateConfigured, Error: "session gone"},
	}}
	useFakes(t, ctl, nil)

	stdout, _, err := executeCommand("ports", "list", "--project", "webapp")
	if err != nil {
		t.Fatalf("ports list failed: %v", err)
	}
	if ctl.portsProject != "webapp" {
		t.Errorf("project = %q, want webapp", ctl.portsProject)
	}
	for _, want := range []string{"127.0.0.1:3000", "✓ active", "○ configured (session gone)", "forward"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("output missing %q:\n%s", want, stdout)
		}
	}
}

func TestPortsList_ContainerJSON(t *testing.T) {
	local := &fakeLocal{}
	useFakes(t, &fakeControl{}, local)

	stdout, _, err := executeCommand("ports", "list", "--json")
	if err != nil {
		t.Fatalf("ports list failed: %v", err)
	}
	if strings.TrimSpace(stdout) != "[]" {
		t.Errorf("empty list = %q, want []", stdout)
	}
}

func TestPortsExpose_Container(t *testing.T) {
	local := &fakeLocal{}
	useFakes(t, &fakeControl{}, local)

	if _, _, err := executeCommand("ports", "expose", "3000", "13000", "--bind", "0.0.0.0"); err != nil {
		t.Fatalf("ports expose failed: %v", err)
	}
	want := client.LocalPort{Direction: "expose", ContainerPort: 3000, HostPort: 13000, Bind: "0.0.0.0"}
	if len(local.added) != 1 || local.added[0] != want {
		t.Errorf("added = %+v, want %+v", local.added, want)
	}
}

func TestPortsForward_Host(t *testing.T) {
	ctl := &fakeControl{}
	useFakes(t, ctl, &fakeLocal{})

	stdout, _, err := executeCommand("ports", "forward", "5432", "-p", "webapp", "--json")
	if err != nil {
		t.Fatalf("ports forward failed: %v", err)
	}
	want := daemon.PortRequest{Project: "webapp", Direction: "forward", ContainerPort: 5432}
	if len(ctl.added) != 1 || ctl.added[0] != want {
		t.Errorf("added = %+v, want %+v", ctl.added, want)
	}
	var row portRow
	if err := json.Unmarshal([]byte(stdout), &row); err != nil {
		t.Fatalf("invalid JSON %q: %v", stdout, err)
	}
	if row.HostPort != 5432 || row.State != "configured" {
		t.Errorf("row = %+v", row)
	}
}

func TestPortsRemove(t *testing.T) {
	ctl := &fakeControl{}
	useFakes(t, ctl, nil)

	if _, _, err := executeCommand("ports", "unforward", "5432", "-p", "webapp"); err != nil {
		t.Fatalf("ports unforward failed: %v", err)
	}
	if _, _, err := executeCommand("ports", "unexpose", "3000", "-p", "webapp"); err != nil {
		t.Fatalf("ports unexpose failed: %v", err)
	}
	want := []port.Key{
		{Project: "webapp", Direction: port.Forward, HostPort: 5432},
		{Project: "webapp", Direction: port.Expose, HostPort: 3000},
	}
	if len(ctl.removed) != 2 || ctl.removed[0] != want[0] || ctl.removed[1] != want[1] {
		t.Errorf("removed = %+v, want %+v", ctl.removed, want)
	}
}

func TestPorts_InvalidPort(t *testing.T) {
	useFakes(t, &fakeControl{}, &fakeLocal{})

	for _, arg := range []string{"abc", "0", "70000"} {
		_, _, err := executeCommand("ports", "expose", arg)
		if errors.GetExitCode(err) != errors.ExitUsage {
			t.Errorf("expose %s: exit code = %d, want %d", arg, errors.GetExitCode(err), errors.ExitUsage)
		}
	}
}

func TestPorts_ConflictKeepsCode(t *testing.T) {
	useFakes(t, &fakeControl{}, &fakeLocal{err: errors.PortInUse(3000, "other")})

	_, _, err := executeCommand("ports", "expose", "3000")
	if !errors.Is(err, errors.ErrPortInUse) {
		t.Errorf("err = %v, want PortInUse", err)
	}
}

func TestNotify_Container(t *testing.T) {
	local := &fakeLocal{}
	ctl := &fakeControl{}
	useFakes(t, ctl, local)

	if _, _, err := executeCommand("notify", "Done", "tests pass", "--urgency", "high"); err != nil {
		t.Fatalf("notify failed: %v", err)
	}
	want := client.LocalNotify{Title: "Done", Message: "tests pass", Urgency: "high"}
	if len(local.notified) != 1 || local.notified[0].Title != want.Title || local.notified[0].Urgency != want.Urgency {
		t.Errorf("notified = %+v, want %+v", local.notified, want)
	}
	if len(ctl.notified) != 0 {
		t.Error("daemon API used inside a container")
	}
}

func TestNotify_Host(t *testing.T) {
	ctl := &fakeControl{}
	useFakes(t, ctl, nil)

	stdout, _, err := executeCommand("notify", "Deploy", "finished", "-p", "webapp", "--json")
	if err != nil {
		t.Fatalf("notify failed: %v", err)
	}
	if len(ctl.notified) != 1 || ctl.notified[0].Project != "webapp" || ctl.notified[0].Urgency != "normal" {
		t.Errorf("notified = %+v", ctl.notified)
	}
	if !strings.Contains(stdout, `"delivered": true`) {
		t.Errorf("output = %s", stdout)
	}
}

func TestNotify_InvalidUrgency(t *testing.T) {
	ctl := &fakeControl{}
	useFakes(t, ctl, nil)

	if _, _, err := executeCommand("notify", "a", "b", "--urgency", "panic"); err == nil {
		t.Fatal("expected error for invalid urgency")
	}
	if len(ctl.notified) != 0 {
		t.Error("invalid notification was sent")
	}
}

func TestResume(t *testing.T) {
	useFakes(t, &fakeControl{}, nil)
	_, _, err := executeCommand("resume")
	if errors.GetExitCode(err) != errors.ExitDaemonUnavailable {
		t.Errorf("exit code on host = %d, want %d", errors.GetExitCode(err), errors.ExitDaemonUnavailable)
	}

	local := &fakeLocal{}
	useFakes(t, &fakeControl{}, local)
	if _, _, err := executeCommand("resume"); err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if local.resumed != 1 {
		t.Errorf("resumed = %d, want 1", local.resumed)
	}
}

func TestDaemonCheck(t *testing.T) {
	tests := []struct {
		name     string
		config   string
		wantCode int
	}{
		{"missing file uses defaults", "", 0},
		{"valid", "stall:\n  threshold: 1m\n", 0},
		{"invalid value", "daemon:\n  compression: brotli\n", errors.ExitConfigError},
		{"malformed", "daemon: [", errors.ExitConfigParse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := testutil.NewTestEnv(t)
			if tt.config != "" {
				env.WriteFile("config/config.yml", []byte(tt.config))
			}

			_, _, err := executeCommand("daemon", "--check")
			if tt.wantCode == 0 {
				if err != nil {
					t.Fatalf("daemon --check failed: %v", err)
				}
				return
			}
			if got := errors.GetExitCode(err); got != tt.wantCode {
				t.Errorf("exit code = %d, want %d (err %v)", got, tt.wantCode, err)
			}
		})
	}
}

func TestSyncOnceAndConfigShow(t *testing.T) {
	testutil.NewTestEnv(t)
	root := t.TempDir()
	lib := filepath.Join(root, "lib")
	project := filepath.Join(root, "project")
	home := filepath.Join(root, "home")

	write := func(path, data string) {
		t.Helper()
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(data), 0644); err != nil {
			t.Fatal(err)
		}
	}
	write(filepath.Join(lib, "config.json"), `{"settings": {"theme": "light", "verbose": true}}`)
	write(filepath.Join(project, ".boxctl", "claude.json"), `{"theme": "dark"}`)

	dirs := []string{"--library", lib, "--project-dir", project, "--home", home}

	if _, _, err := executeCommand(append([]string{"sync", "--once", "claude"}, dirs...)...); err != nil {
		t.Fatalf("sync --once failed: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(home, ".claude", "config.json"))
	if err != nil {
		t.Fatalf("runtime config not written: %v", err)
	}
	var runtime map[string]any
	if err := json.Unmarshal(data, &runtime); err != nil {
		t.Fatalf("runtime config is not JSON: %v", err)
	}
	if runtime["theme"] != "dark" || runtime["verbose"] != true {
		t.Errorf("runtime = %v", runtime)
	}

	stdout, _, err := executeCommand(append([]string{"config", "show", "claude"}, dirs...)...)
	if err != nil {
		t.Fatalf("config show failed: %v", err)
	}
	if !strings.Contains(stdout, `"theme": "dark"`) {
		t.Errorf("config show = %s", stdout)
	}
}

func TestSync_UnknownAgent(t *testing.T) {
	testutil.NewTestEnv(t)
	_, _, err := executeCommand("sync", "--once", "vim")
	if errors.GetExitCode(err) != errors.ExitUsage {
		t.Errorf("exit code = %d, want %d", errors.GetExitCode(err), errors.ExitUsage)
	}
}

func TestCurrentProject(t *testing.T) {
	if got, err := currentProject("webapp"); err != nil || got != "webapp" {
		t.Errorf("currentProject(webapp) = %q, %v", got, err)
	}
	if _, err := currentProject("Bad Name"); err == nil {
		t.Error("expected error for invalid project name")
	}

	dir := filepath.Join(t.TempDir(), "checkout")
	if err := os.MkdirAll(filepath.Join(dir, ".boxctl"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".boxctl", "config.yml"), []byte("project: named\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)
	if got, err := currentProject(""); err != nil || got != "named" {
		t.Errorf("currentProject from config = %q, %v", got, err)
	}
}
