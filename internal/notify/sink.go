package notify

import (
	"context"
	"fmt"
	"os"

	"github.com/gen2brain/beeep"
	"github.com/kballard/go-shellquote"

	boxerrors "github.com/scharc/boxctl/internal/errors"
	"github.com/scharc/boxctl/internal/system"
)

// Sink presents a notification to the user.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, n Notification) error
}

// DesktopSink shows notifications on the host desktop. Critical
// notifications also sound an alert.
type DesktopSink struct {
	notify func(title, message string, icon any) error
	alert  func(title, message string, icon any) error
}

// NewDesktopSink creates a sink backed by beeep.
func NewDesktopSink() *DesktopSink {
	beeep.AppName = "boxctl"
	return &DesktopSink{notify: beeep.Notify, alert: beeep.Alert}
}

func (d *DesktopSink) Name() string { return "desktop" }

func (d *DesktopSink) Deliver(ctx context.Context, n Notification) error {
	title := n.Title
	if n.Project != "" {
		title = fmt.Sprintf("%s [%s]", n.Title, n.Project)
	}

	send := d.notify
	if n.Urgency.Sink() == UrgencyCritical {
		send = d.alert
	}
	if err := send(title, n.Short(), ""); err != nil {
		return boxerrors.NotificationDelivery(d.Name(), err)
	}
	return nil
}

// HookSink runs a user command for each notification. The command line is
// split with shell quoting rules and run without a shell; the notification
// is passed in BOXCTL_* environment variables.
type HookSink struct {
	command string
	exec    system.CommandExecutor
}

// NewHookSink creates a hook sink for command.
func NewHookSink(command string, exec system.CommandExecutor) *HookSink {
	return &HookSink{command: command, exec: exec}
}

func (h *HookSink) Name() string { return "hook" }

func (h *HookSink) Deliver(ctx context.Context, n Notification) error {
	argv, err := shellquote.Split(h.command)
	if err != nil {
		return boxerrors.NotificationDelivery(h.Name(), fmt.Errorf("parse hook command: %w", err))
	}
	if len(argv) == 0 {
		return nil
	}

	env := append(os.Environ(),
		"BOXCTL_TITLE="+n.Title,
		"BOXCTL_MESSAGE="+n.Short(),
		"BOXCTL_DETAIL="+n.Long(),
		"BOXCTL_URGENCY="+string(n.Urgency.Sink()),
		"BOXCTL_SESSION="+n.Identity,
		"BOXCTL_PROJECT="+n.Project,
		"BOXCTL_SOURCE="+string(n.Source),
	)
	if out, err := h.exec.ExecuteWithEnv(ctx, env, argv[0], argv[1:]...); err != nil {
		if len(out) > 0 {
			err = fmt.Errorf("%w: %s", err, out)
		}
		return boxerrors.NotificationDelivery(h.Name(), err)
	}
	return nil
}
