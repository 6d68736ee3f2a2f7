package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	boxerrors "github.com/scharc/boxctl/internal/errors"
	"github.com/scharc/boxctl/internal/notify"
	"github.com/scharc/boxctl/internal/port"
	"github.com/scharc/boxctl/internal/tunnel"
)

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestAPI_Sessions(t *testing.T) {
	td := newTestDaemon(t, nil)
	if _, err := td.dial(t, tunnel.Hello{Identity: "boxctl-alpha"}); err != nil {
		t.Fatal(err)
	}
	mustLookup(t, td, "boxctl-alpha")

	rec := doJSON(t, td.Handler(), http.MethodGet, "/v1/sessions", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var sessions []SessionView
	decodeJSON(t, rec, &sessions)
	if len(sessions) != 1 {
		t.Fatalf("sessions = %+v", sessions)
	}
	if sessions[0].Identity != "boxctl-alpha" || sessions[0].Project != "alpha" || sessions[0].Status != "active" {
		t.Errorf("session = %+v", sessions[0])
	}
}

func TestAPI_Terminals(t *testing.T) {
	td := newTestDaemon(t, nil)

	rec := doJSON(t, td.Handler(), http.MethodGet, "/v1/sessions/boxctl-ghost/terminals", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown session status = %d, want 404", rec.Code)
	}

	if _, err := td.dial(t, tunnel.Hello{Identity: "boxctl-alpha"}); err != nil {
		t.Fatal(err)
	}
	mustLookup(t, td, "boxctl-alpha")
	td.terminals.update("boxctl-alpha", Terminal{Session: "main", Content: "$ ls"})

	rec = doJSON(t, td.Handler(), http.MethodGet, "/v1/sessions/boxctl-alpha/terminals", nil)
	var terms []Terminal
	decodeJSON(t, rec, &terms)
	if len(terms) != 1 || terms[0].Content != "$ ls" {
		t.Errorf("terminals = %+v", terms)
	}
}

func TestAPI_Ports(t *testing.T) {
	td := newTestDaemon(t, nil)
	h := td.Handler()
	hostPort := freePort(t)

	rec := doJSON(t, h, http.MethodPost, "/v1/ports", PortRequest{Project: "alpha", Direction: "expose", ContainerPort: 3000, HostPort: hostPort})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add status = %d: %s", rec.Code, rec.Body)
	}
	var added port.Tunnel
	decodeJSON(t, rec, &added)
	if added.State != port.StateConfigured {
		t.Errorf("state without session = %s, want configured", added.State)
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/ports", PortRequest{Project: "beta", Direction: "expose", ContainerPort: 8080, HostPort: hostPort})
	if rec.Code != http.StatusConflict {
		t.Errorf("conflict status = %d, want 409", rec.Code)
	}
	var errResp ErrorResponse
	decodeJSON(t, rec, &errResp)
	if errResp.Code != boxerrors.ExitPortInUse {
		t.Errorf("error code = %d, want %d", errResp.Code, boxerrors.ExitPortInUse)
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/ports?project=alpha", nil)
	var list []port.Tunnel
	decodeJSON(t, rec, &list)
	if len(list) != 1 || list[0].HostPort != hostPort {
		t.Errorf("list = %+v", list)
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/ports?project=beta", nil)
	if rec.Body.String() != "[]\n" {
		t.Errorf("empty list body = %q", rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodDelete, fmt.Sprintf("/v1/ports/alpha/expose/%d", hostPort), nil)
	if rec.Code != http.StatusOK {
		t.Errorf("delete status = %d: %s", rec.Code, rec.Body)
	}
	rec = doJSON(t, h, http.MethodDelete, fmt.Sprintf("/v1/ports/alpha/expose/%d", hostPort), nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("second delete status = %d, want 400", rec.Code)
	}
}

func TestAPI_BadRequests(t *testing.T) {
	td := newTestDaemon(t, nil)
	h := td.Handler()

	tests := []struct {
		name   string
		method string
		path   string
		body   any
	}{
		{"bad direction", http.MethodPost, "/v1/ports", PortRequest{Project: "alpha", Direction: "sideways", ContainerPort: 1}},
		{"privileged port", http.MethodPost, "/v1/ports", PortRequest{Project: "alpha", Direction: "expose", ContainerPort: 80, HostPort: 80}},
		{"unknown field", http.MethodPost, "/v1/ports", map[string]any{"project": "alpha", "colour": "red"}},
		{"bad host port", http.MethodDelete, "/v1/ports/alpha/expose/abc", nil},
		{"bad limit", http.MethodGet, "/v1/notifications?limit=-1", nil},
		{"empty notification", http.MethodPost, "/v1/notify", NotifyRequest{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, h, tt.method, tt.path, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400: %s", rec.Code, rec.Body)
			}
		})
	}
}

func TestAPI_NotifyAndHistory(t *testing.T) {
	td := newTestDaemon(t, nil)
	h := td.Handler()

	for _, title := range []string{"first", "second", "third"} {
		rec := doJSON(t, h, http.MethodPost, "/v1/notify", NotifyRequest{Title: title, Message: "m"})
		if rec.Code != http.StatusOK {
			t.Fatalf("notify status = %d: %s", rec.Code, rec.Body)
		}
	}

	rec := doJSON(t, h, http.MethodGet, "/v1/notifications?limit=2", nil)
	var got []notify.Notification
	decodeJSON(t, rec, &got)
	if len(got) != 2 || got[0].Title != "third" || got[1].Title != "second" {
		t.Errorf("recent = %+v", got)
	}
	if got[0].Identity != HostIdentity {
		t.Errorf("identity = %q, want %q", got[0].Identity, HostIdentity)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{boxerrors.PortInUse(8080, "alpha"), http.StatusConflict},
		{boxerrors.DuplicateSession("x"), http.StatusConflict},
		{boxerrors.SessionNotFound("x"), http.StatusNotFound},
		{boxerrors.ValidationError("x"), http.StatusBadRequest},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(boxerrors.GetExitCode(tt.err)); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestResponseError_RoundTrip(t *testing.T) {
	err := ResponseError(ErrorResponse{Error: "port 8080 in use", Code: boxerrors.ExitPortInUse})
	if !boxerrors.Is(err, boxerrors.ErrPortInUse) {
		t.Errorf("err = %v, want port in use", err)
	}
	if boxerrors.GetExitCode(ResponseError(ErrorResponse{Error: "x"})) != boxerrors.ExitGeneralError {
		t.Error("untyped error lost its general exit code")
	}
}

func TestAPIClient_AgainstHandler(t *testing.T) {
	td := newTestDaemon(t, nil)
	srv := httptest.NewServer(td.Handler())
	defer srv.Close()
	c := newAPIClientURL(srv.URL, srv.Client())
	ctx := context.Background()

	hostPort := freePort(t)
	if _, err := c.AddPort(ctx, PortRequest{Project: "alpha", Direction: "forward", ContainerPort: 5432, HostPort: hostPort}); err != nil {
		t.Fatalf("AddPort: %v", err)
	}
	_, err := c.AddPort(ctx, PortRequest{Project: "beta", Direction: "forward", ContainerPort: 5432, HostPort: hostPort})
	if !errors.Is(err, boxerrors.ErrPortInUse) {
		t.Errorf("conflicting AddPort err = %v, want port in use", err)
	}

	ports, err := c.Ports(ctx, "")
	if err != nil || len(ports) != 1 {
		t.Fatalf("Ports = %+v, %v", ports, err)
	}
	if _, err := c.RemovePort(ctx, "alpha", port.Forward, hostPort); err != nil {
		t.Errorf("RemovePort: %v", err)
	}

	if _, err := c.Terminals(ctx, "boxctl-ghost"); !errors.Is(err, boxerrors.ErrSessionNotFound) {
		t.Errorf("Terminals err = %v, want session not found", err)
	}

	n, err := c.Notify(ctx, NotifyRequest{Title: "deploy", Message: "done"})
	if err != nil || !n.Delivered {
		t.Fatalf("Notify = %+v, %v", n, err)
	}
	recent, err := c.Notifications(ctx, 5)
	if err != nil || len(recent) != 1 || recent[0].ID != n.ID {
		t.Errorf("Notifications = %+v, %v", recent, err)
	}

	sessions, err := c.Sessions(ctx)
	if err != nil || len(sessions) != 0 {
		t.Errorf("Sessions = %+v, %v", sessions, err)
	}
}

func TestAPIClient_DaemonDown(t *testing.T) {
	c := NewAPIClient(filepath.Join(t.TempDir(), "missing.sock"))
	_, err := c.Sessions(context.Background())
	if !errors.Is(err, boxerrors.ErrDaemonUnavailable) {
		t.Errorf("err = %v, want daemon unavailable", err)
	}
}
