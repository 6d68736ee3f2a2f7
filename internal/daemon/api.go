package daemon

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/scharc/boxctl/internal/health"
	boxerrors "github.com/scharc/boxctl/internal/errors"
	"github.com/scharc/boxctl/internal/notify"
	"github.com/scharc/boxctl/internal/port"
	"github.com/scharc/boxctl/internal/registry"
)

// HostIdentity is the identity of notifications raised on the host.
const HostIdentity = "host"

// SessionView is a session as listed by the API.
type SessionView struct {
	registry.Summary
	Status health.Status `json:"status"`
	Idle   string        `json:"idle"`
	Uptime string        `json:"uptime"`
}

// PortRequest is the body of POST /v1/ports.
type PortRequest struct {
	Project       string `json:"project"`
	Direction     string `json:"direction"`
	ContainerPort int    `json:"container_port"`
	HostPort      int    `json:"host_port,omitempty"`
	Bind          string `json:"bind,omitempty"`
}

// NotifyRequest is the body of POST /v1/notify.
type NotifyRequest struct {
	Identity string `json:"identity,omitempty"`
	Project  string `json:"project,omitempty"`
	Title    string `json:"title"`
	Message  string `json:"message"`
	Urgency  string `json:"urgency,omitempty"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// Handler returns the HTTP query API.
func (d *Daemon) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/sessions", d.handleSessions)
	mux.HandleFunc("GET /v1/sessions/{identity}/terminals", d.handleTerminals)
	mux.HandleFunc("GET /v1/ports", d.handleListPorts)
	mux.HandleFunc("POST /v1/ports", d.handleAddPort)
	mux.HandleFunc("DELETE /v1/ports/{project}/{direction}/{host_port}", d.handleRemovePort)
	mux.HandleFunc("GET /v1/notifications", d.handleNotifications)
	mux.HandleFunc("POST /v1/notify", d.handleNotify)
	return mux
}

func (d *Daemon) handleSessions(w http.ResponseWriter, r *http.Request) {
	now := d.app.Now()
	idleAfter := d.app.HostConfig().Stall.Threshold
	summaries := d.reg.List()
	out := make([]SessionView, 0, len(summaries))
	for _, s := range summaries {
		report := health.Check(s, now, idleAfter)
		out = append(out, SessionView{Summary: s, Status: report.Status, Idle: report.IdleText, Uptime: report.Uptime})
	}
	writeJSON(w, http.StatusOK, out)
}

func (d *Daemon) handleTerminals(w http.ResponseWriter, r *http.Request) {
	identity := r.PathValue("identity")
	if _, err := d.reg.Get(identity); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d.terminals.list(identity))
}

func (d *Daemon) handleListPorts(w http.ResponseWriter, r *http.Request) {
	tunnels := d.ports.List(r.URL.Query().Get("project"))
	if tunnels == nil {
		tunnels = []port.Tunnel{}
	}
	writeJSON(w, http.StatusOK, tunnels)
}

func (d *Daemon) handleAddPort(w http.ResponseWriter, r *http.Request) {
	var req PortRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	dir, err := port.ParseDirection(req.Direction)
	if err != nil {
		writeError(w, err)
		return
	}

	t, err := d.ports.Add(r.Context(), port.Tunnel{
		Project:       req.Project,
		Direction:     dir,
		ContainerPort: req.ContainerPort,
		HostPort:      req.HostPort,
		Bind:          req.Bind,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (d *Daemon) handleRemovePort(w http.ResponseWriter, r *http.Request) {
	dir, err := port.ParseDirection(r.PathValue("direction"))
	if err != nil {
		writeError(w, err)
		return
	}
	hostPort, err := strconv.Atoi(r.PathValue("host_port"))
	if err != nil {
		writeError(w, boxerrors.ValidationError("invalid host port "+r.PathValue("host_port")))
		return
	}

	removed, err := d.ports.Remove(port.Key{Project: r.PathValue("project"), Direction: dir, HostPort: hostPort})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, removed)
}

func (d *Daemon) handleNotifications(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, boxerrors.ValidationError("invalid limit "+s))
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, d.notifier.Recent(limit))
}

func (d *Daemon) handleNotify(w http.ResponseWriter, r *http.Request) {
	var req NotifyRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Identity == "" {
		req.Identity = HostIdentity
	}

	n, err := d.notifier.Dispatch(r.Context(), notify.Request{
		Identity: req.Identity,
		Project:  req.Project,
		Title:    req.Title,
		Message:  req.Message,
		Urgency:  notify.Urgency(req.Urgency),
		Source:   notify.SourceRequest,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

const maxBodySize = 1 << 20

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return boxerrors.ValidationError("invalid request body: " + err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps typed errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	code := boxerrors.GetExitCode(err)
	writeJSON(w, statusFor(code), ErrorResponse{Error: strings.TrimSpace(err.Error()), Code: code})
}

func statusFor(code int) int {
	switch code {
	case boxerrors.ExitPortInUse, boxerrors.ExitDuplicateSession:
		return http.StatusConflict
	case boxerrors.ExitSessionNotFound:
		return http.StatusNotFound
	case boxerrors.ExitUsage:
		return http.StatusBadRequest
	case boxerrors.ExitSummarizerTimeout:
		return http.StatusGatewayTimeout
	case boxerrors.ExitNotificationDelivery:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ResponseError rebuilds the typed error carried by an ErrorResponse.
func ResponseError(resp ErrorResponse) error {
	if resp.Code == 0 || resp.Code == boxerrors.ExitGeneralError {
		return errors.New(resp.Error)
	}
	return boxerrors.New(resp.Code, resp.Error)
}
