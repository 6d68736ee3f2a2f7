package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/scharc/boxctl/internal/app"
	"github.com/scharc/boxctl/internal/audit"
	"github.com/scharc/boxctl/internal/config"
	boxerrors "github.com/scharc/boxctl/internal/errors"
	"github.com/scharc/boxctl/internal/system"
)

type recordingSink struct {
	name string
	err  error

	mu        sync.Mutex
	delivered []Notification
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Deliver(ctx context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.delivered = append(s.delivered, n)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.delivered)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	app   *app.App
	clock *clock
	cfg   *config.HostConfig
	sink  *recordingSink
	exec  *system.MockExecutor
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.DefaultHostConfig()
	cfg.Notifications.Desktop = true
	clk := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	exec := system.NewMockExecutor()
	env := &testEnv{
		clock: clk,
		cfg:   cfg,
		sink:  &recordingSink{name: "desktop"},
		exec:  exec,
	}
	env.app = app.New(
		app.WithPaths(&config.Paths{StateDir: t.TempDir()}),
		app.WithHostConfig(cfg),
		app.WithClock(clk.Now),
		app.WithExecutor(exec),
		app.WithAudit(audit.NewLogger(t.TempDir()).WithClock(clk.Now)),
	)
	return env
}

func (e *testEnv) dispatcher(opts ...Option) *Dispatcher {
	return NewDispatcher(e.app, append([]Option{WithDesktopSink(e.sink)}, opts...)...)
}

func TestDispatch_DedupWindow(t *testing.T) {
	env := newTestEnv(t)
	d := env.dispatcher()
	ctx := context.Background()
	req := Request{Identity: "boxctl-web", Title: "Done", Message: "tests pass"}

	first, err := d.Dispatch(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if !first.Delivered || first.Suppressed {
		t.Fatalf("first = %+v, want delivered", first)
	}

	env.clock.Advance(5 * time.Second)
	second, _ := d.Dispatch(ctx, req)
	if !second.Suppressed || second.Delivered {
		t.Errorf("second = %+v, want suppressed", second)
	}

	env.clock.Advance(6 * time.Second)
	third, _ := d.Dispatch(ctx, req)
	if !third.Delivered {
		t.Errorf("third = %+v, want delivered after window", third)
	}

	if got := env.sink.count(); got != 2 {
		t.Errorf("sink received %d notifications, want 2", got)
	}

	events, err := env.app.Audit.Events("boxctl-web")
	if err != nil {
		t.Fatal(err)
	}
	var suppressed int
	for _, e := range events {
		if e.Type == audit.EventNotifySuppress {
			suppressed++
		}
	}
	if suppressed != 1 {
		t.Errorf("audit has %d suppressed events, want 1", suppressed)
	}
}

func TestDispatch_DedupKeyedBySessionAndContent(t *testing.T) {
	env := newTestEnv(t)
	d := env.dispatcher()
	ctx := context.Background()

	d.Dispatch(ctx, Request{Identity: "boxctl-a", Title: "Done", Message: "ok"})
	d.Dispatch(ctx, Request{Identity: "boxctl-b", Title: "Done", Message: "ok"})
	d.Dispatch(ctx, Request{Identity: "boxctl-a", Title: "Done", Message: "ok again"})

	if got := env.sink.count(); got != 3 {
		t.Errorf("sink received %d notifications, want 3", got)
	}
}

func TestDispatch_ZeroWindowDisablesDedup(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Notifications.DedupWindow = 0
	d := env.dispatcher()

	for range 3 {
		d.Dispatch(context.Background(), Request{Identity: "boxctl-a", Title: "x", Message: "y"})
	}
	if got := env.sink.count(); got != 3 {
		t.Errorf("sink received %d notifications, want 3", got)
	}
}

func TestDispatch_Validation(t *testing.T) {
	env := newTestEnv(t)
	d := env.dispatcher()

	if _, err := d.Dispatch(context.Background(), Request{Identity: "boxctl-a"}); err == nil {
		t.Error("expected error for empty notification")
	}
	_, err := d.Dispatch(context.Background(), Request{Identity: "boxctl-a", Message: "m", Urgency: "panic"})
	if boxerrors.GetExitCode(err) != boxerrors.ExitUsage {
		t.Errorf("bad urgency error = %v", err)
	}

	n, err := d.Dispatch(context.Background(), Request{Identity: "boxctl-a", Message: "only a message"})
	if err != nil {
		t.Fatal(err)
	}
	if n.Title != "boxctl" || n.Urgency != UrgencyNormal || n.Source != SourceRequest || n.ID == "" {
		t.Errorf("defaults not applied: %+v", n)
	}
}

func TestDispatch_SinkFailureIsRecorded(t *testing.T) {
	env := newTestEnv(t)
	env.sink.err = boxerrors.NotificationDelivery("desktop", errors.New("no dbus"))
	other := &recordingSink{name: "other"}
	d := env.dispatcher(WithSinks(other))

	n, err := d.Dispatch(context.Background(), Request{Identity: "boxctl-a", Title: "t", Message: "m"})
	if err != nil {
		t.Fatalf("Dispatch error = %v, sink failures must not fail dispatch", err)
	}
	if !n.Delivered {
		t.Error("delivered should be true when one sink succeeds")
	}
	if len(n.Errors) != 1 || !strings.Contains(n.Errors[0], "no dbus") {
		t.Errorf("errors = %v", n.Errors)
	}
	if other.count() != 1 {
		t.Error("second sink not called")
	}
}

func TestDispatch_DesktopDisabled(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Notifications.Desktop = false
	d := env.dispatcher()

	n, _ := d.Dispatch(context.Background(), Request{Identity: "boxctl-a", Title: "t", Message: "m"})
	if n.Delivered || env.sink.count() != 0 {
		t.Errorf("desktop sink used while disabled: %+v", n)
	}
}

type blockingSummarizer struct{}

func (blockingSummarizer) Summarize(ctx context.Context, title, message string) (Summary, error) {
	<-ctx.Done()
	return Summary{}, ctx.Err()
}

type stuckSummarizer struct{ release chan struct{} }

func (s stuckSummarizer) Summarize(ctx context.Context, title, message string) (Summary, error) {
	<-s.release
	return Summary{Short: "late"}, nil
}

type staticSummarizer struct {
	summary Summary
	calls   int
}

func (s *staticSummarizer) Summarize(ctx context.Context, title, message string) (Summary, error) {
	s.calls++
	return s.summary, nil
}

func TestDispatch_Summarizer(t *testing.T) {
	env := newTestEnv(t)
	s := &staticSummarizer{summary: Summary{Short: "Agent needs approval", Long: "The agent asks whether to run migrations."}}
	d := env.dispatcher(WithSummarizer(s))

	n, _ := d.Dispatch(context.Background(), Request{Identity: "boxctl-a", Title: "Waiting", Message: strings.Repeat("log line\n", 50)})
	if n.Summary != "Agent needs approval" || n.Long() != "The agent asks whether to run migrations." {
		t.Errorf("summary not applied: %+v", n)
	}
	if env.sink.delivered[0].Short() != "Agent needs approval" {
		t.Error("sink did not receive summary")
	}

	// Container-provided summaries and stall notices skip the summarizer.
	d.Dispatch(context.Background(), Request{
		Identity: "boxctl-a", Title: "Done", Message: "m",
		Metadata: map[string]string{MetaSummaryShort: "given"},
	})
	d.Dispatch(context.Background(), Request{Identity: "boxctl-a", Title: "Stalled", Message: "idle", Source: SourceStall})
	if s.calls != 1 {
		t.Errorf("summarizer called %d times, want 1", s.calls)
	}
}

func TestDispatch_SummarizerTimeoutFallsBack(t *testing.T) {
	tests := []struct {
		name string
		s    Summarizer
	}{
		{"honours context", blockingSummarizer{}},
		{"ignores context", stuckSummarizer{release: make(chan struct{})}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.cfg.Notifications.Summarizer.Timeout = 20 * time.Millisecond
			d := env.dispatcher(WithSummarizer(tt.s))

			start := time.Now()
			n, err := d.Dispatch(context.Background(), Request{Identity: "boxctl-a", Title: "t", Message: "raw message"})
			if err != nil {
				t.Fatal(err)
			}
			if elapsed := time.Since(start); elapsed > 2*time.Second {
				t.Errorf("dispatch blocked for %s", elapsed)
			}
			if n.Summary != "" || n.Short() != "raw message" || !n.Delivered {
				t.Errorf("notification = %+v, want raw message delivered", n)
			}
			if s, ok := tt.s.(stuckSummarizer); ok {
				close(s.release)
			}
		})
	}
}

func TestDispatch_HookSink(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Notifications.Desktop = false
	env.cfg.Notifications.Hook = `~/bin/notify-hook --channel "agent alerts"`
	d := env.dispatcher()

	n, err := d.Dispatch(context.Background(), Request{Identity: "boxctl-web", Project: "web", Title: "Done", Message: "all green", Urgency: UrgencyHigh})
	if err != nil {
		t.Fatal(err)
	}
	if !n.Delivered {
		t.Fatalf("hook delivery failed: %v", n.Errors)
	}

	cmd, ok := env.exec.LastCommand()
	if !ok {
		t.Fatal("hook not executed")
	}
	if cmd.Name != "~/bin/notify-hook" || len(cmd.Args) != 2 || cmd.Args[1] != "agent alerts" {
		t.Errorf("command = %s %q", cmd.Name, cmd.Args)
	}
	want := map[string]bool{
		"BOXCTL_TITLE=Done":         false,
		"BOXCTL_MESSAGE=all green":  false,
		"BOXCTL_URGENCY=critical":   false,
		"BOXCTL_SESSION=boxctl-web": false,
	}
	for _, kv := range cmd.Env {
		if _, ok := want[kv]; ok {
			want[kv] = true
		}
	}
	for kv, seen := range want {
		if !seen {
			t.Errorf("hook env missing %s", kv)
		}
	}
}

func TestDispatch_HookFailure(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Notifications.Desktop = false
	env.cfg.Notifications.Hook = "notify-hook"
	env.exec.AddResponse("notify-hook", []byte("boom"), errors.New("exit status 1"))
	d := env.dispatcher()

	n, _ := d.Dispatch(context.Background(), Request{Identity: "boxctl-a", Title: "t", Message: "m"})
	if n.Delivered || len(n.Errors) != 1 || !strings.Contains(n.Errors[0], "boom") {
		t.Errorf("notification = %+v", n)
	}
}

func TestDispatcher_Recent(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Notifications.HistorySize = 3
	d := env.dispatcher()

	for i := range 5 {
		d.Dispatch(context.Background(), Request{Identity: "boxctl-a", Title: "t", Message: fmt.Sprintf("m%d", i)})
	}

	recent := d.Recent(0)
	if len(recent) != 3 {
		t.Fatalf("Recent returned %d, want 3", len(recent))
	}
	for i, want := range []string{"m4", "m3", "m2"} {
		if recent[i].Message != want {
			t.Errorf("recent[%d] = %s, want %s", i, recent[i].Message, want)
		}
	}
	if got := d.Recent(1); len(got) != 1 || got[0].Message != "m4" {
		t.Errorf("Recent(1) = %+v", got)
	}

	// Shrinking the history keeps the newest entries.
	env.cfg.Notifications.HistorySize = 2
	d.Dispatch(context.Background(), Request{Identity: "boxctl-a", Title: "t", Message: "m5"})
	recent = d.Recent(0)
	if len(recent) != 2 || recent[0].Message != "m5" || recent[1].Message != "m4" {
		t.Errorf("after shrink: %+v", recent)
	}
}

func TestDesktopSink_Urgency(t *testing.T) {
	var calls []string
	sink := &DesktopSink{
		notify: func(title, message string, icon any) error {
			calls = append(calls, "notify:"+title)
			return nil
		},
		alert: func(title, message string, icon any) error {
			calls = append(calls, "alert:"+title)
			return nil
		},
	}

	for _, u := range []Urgency{UrgencyLow, UrgencyNormal, UrgencyHigh, UrgencyCritical} {
		sink.Deliver(context.Background(), Notification{Title: string(u), Urgency: u})
	}
	want := []string{"notify:low", "notify:normal", "alert:high", "alert:critical"}
	if fmt.Sprint(calls) != fmt.Sprint(want) {
		t.Errorf("calls = %v, want %v", calls, want)
	}

	sink.notify = func(string, string, any) error { return errors.New("no notification daemon") }
	err := sink.Deliver(context.Background(), Notification{Title: "x", Project: "web"})
	if !errors.Is(err, boxerrors.ErrNotificationDelivery) {
		t.Errorf("error = %v, want NotificationDelivery", err)
	}
}

func TestParseUrgency(t *testing.T) {
	tests := []struct {
		in      string
		want    Urgency
		wantErr bool
	}{
		{"", UrgencyNormal, false},
		{"LOW", UrgencyLow, false},
		{" critical ", UrgencyCritical, false},
		{"urgent", "", true},
	}
	for _, tt := range tests {
		got, err := ParseUrgency(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseUrgency(%q) = %q, %v", tt.in, got, err)
		}
	}
}
