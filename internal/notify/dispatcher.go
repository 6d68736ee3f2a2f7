package notify

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scharc/boxctl/internal/app"
	"github.com/scharc/boxctl/internal/audit"
	"github.com/scharc/boxctl/internal/config"
	boxerrors "github.com/scharc/boxctl/internal/errors"
	"github.com/scharc/boxctl/internal/logging"
)

const (
	defaultTitle             = "boxctl"
	defaultSummarizerTimeout = 5 * time.Second
)

// Metadata keys a container may set to provide its own summaries.
const (
	MetaSummaryShort = "summary_short"
	MetaSummaryLong  = "summary_long"
)

// Dispatcher delivers notifications. Settings are read from the host
// config on every dispatch so reloads apply immediately.
type Dispatcher struct {
	app *app.App
	log *slog.Logger

	desktop    Sink
	extra      []Sink
	summarizer Summarizer
	httpClient *http.Client

	dedup   *dedupWindow
	history history
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithDesktopSink replaces the desktop sink.
func WithDesktopSink(s Sink) Option {
	return func(d *Dispatcher) {
		d.desktop = s
	}
}

// WithSinks adds sinks that receive every notification.
func WithSinks(sinks ...Sink) Option {
	return func(d *Dispatcher) {
		d.extra = append(d.extra, sinks...)
	}
}

// WithSummarizer replaces the configured summarizer.
func WithSummarizer(s Summarizer) Option {
	return func(d *Dispatcher) {
		d.summarizer = s
	}
}

// WithHTTPClient sets the client used by the LLM summarizer.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) {
		d.httpClient = c
	}
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(a *app.App, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		app:        a,
		log:        logging.With("component", "notify"),
		httpClient: &http.Client{},
		dedup:      newDedupWindow(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.desktop == nil {
		d.desktop = NewDesktopSink()
	}
	return d
}

// Dispatch delivers req to every configured sink unless an identical
// notification from the same session was delivered within the dedup
// window. Sink failures are recorded on the returned notification; the
// error is only set for invalid requests.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Notification, error) {
	title := strings.TrimSpace(req.Title)
	message := strings.TrimSpace(req.Message)
	if title == "" && message == "" {
		return Notification{}, boxerrors.ValidationError("notification needs a title or a message")
	}
	if title == "" {
		title = defaultTitle
	}
	urgency, err := ParseUrgency(string(req.Urgency))
	if err != nil {
		return Notification{}, err
	}
	source := req.Source
	if source == "" {
		source = SourceRequest
	}

	cfg := d.app.HostConfig().Notifications
	n := Notification{
		ID:       uuid.NewString(),
		Identity: req.Identity,
		Project:  req.Project,
		Title:    title,
		Message:  message,
		Urgency:  urgency,
		Source:   source,
		Time:     d.app.Now(),
	}

	if !d.dedup.admit(contentKey(n.Identity, n.Title, n.Message), n.Time, cfg.DedupWindow) {
		n.Suppressed = true
		d.log.Debug("duplicate notification suppressed", "identity", n.Identity, "title", n.Title)
		d.app.Audit.LogEvent(audit.EventNotifySuppress, n.Identity, n.Title)
		return n, nil
	}

	n.Summary = req.Metadata[MetaSummaryShort]
	n.Detail = req.Metadata[MetaSummaryLong]
	if n.Summary == "" && source == SourceRequest {
		d.summarize(ctx, cfg.Summarizer, &n)
	}

	sinks := d.sinks(cfg)
	for _, s := range sinks {
		if err := s.Deliver(ctx, n); err != nil {
			d.log.Warn("notification delivery failed", "sink", s.Name(), "identity", n.Identity, "error", err)
			n.Errors = append(n.Errors, err.Error())
			continue
		}
		n.Delivered = true
	}

	d.history.add(n, cfg.HistorySize)
	d.log.Info("notification dispatched", "identity", n.Identity, "title", n.Title, "urgency", n.Urgency, "source", n.Source, "delivered", n.Delivered)
	d.app.Audit.LogEvent(audit.EventNotify, n.Identity, n.Title+": "+n.Short())
	return n, nil
}

func (d *Dispatcher) sinks(cfg config.NotificationsConfig) []Sink {
	var sinks []Sink
	if cfg.Desktop && d.desktop != nil {
		sinks = append(sinks, d.desktop)
	}
	if cfg.Hook != "" {
		sinks = append(sinks, NewHookSink(cfg.Hook, d.app.Executor))
	}
	return append(sinks, d.extra...)
}

// summarize fills n.Summary and n.Detail. On error or timeout n keeps the
// raw message.
func (d *Dispatcher) summarize(ctx context.Context, cfg config.SummarizerConfig, n *Notification) {
	s := d.summarizer
	if s == nil {
		if !cfg.Enabled {
			return
		}
		s = NewLLMSummarizer(cfg, d.httpClient)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultSummarizerTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		summary Summary
		err     error
	}
	done := make(chan result, 1)
	go func() {
		summary, err := s.Summarize(ctx, n.Title, n.Message)
		done <- result{summary, err}
	}()

	var r result
	select {
	case r = <-done:
	case <-ctx.Done():
		r.err = ctx.Err()
	}
	if r.err != nil {
		err := r.err
		if errors.Is(err, context.DeadlineExceeded) {
			err = boxerrors.SummarizerTimeout(timeout)
		}
		d.log.Warn("summarizer failed, using raw message", "identity", n.Identity, "error", err)
		return
	}
	n.Summary = r.summary.Short
	n.Detail = r.summary.Long
}

// Recent returns up to limit notifications, newest first. A limit of zero
// or less returns all retained notifications.
func (d *Dispatcher) Recent(limit int) []Notification {
	items := d.history.list()
	out := make([]Notification, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		out = append(out, items[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
