package system

import (
	"context"
	"os/exec"
	"strings"
	"testing"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestExecute_StdoutOnly(t *testing.T) {
	requireShell(t)

	out, err := DefaultExecutor().Execute(context.Background(), "sh", "-c", "echo pane; echo noise >&2")
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if string(out) != "pane\n" {
		t.Errorf("output = %q, want stdout only", out)
	}
}

func TestExecute_FailureIncludesStderr(t *testing.T) {
	requireShell(t)

	out, err := DefaultExecutor().Execute(context.Background(), "sh", "-c", "echo 'no server running' >&2; exit 1")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(string(out), "no server running") {
		t.Errorf("output = %q, want stderr", out)
	}
}

func TestExecuteWithEnv(t *testing.T) {
	requireShell(t)

	out, err := DefaultExecutor().ExecuteWithEnv(context.Background(), []string{"BOXCTL_TITLE=done"}, "sh", "-c", "printf %s \"$BOXCTL_TITLE\"")
	if err != nil {
		t.Fatalf("ExecuteWithEnv error: %v", err)
	}
	if string(out) != "done" {
		t.Errorf("output = %q, want done", out)
	}
}
