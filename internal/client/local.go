package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	boxerrors "github.com/scharc/boxctl/internal/errors"
	"github.com/scharc/boxctl/internal/tunnel"
)

// LocalNotify is the body of POST /notify on the local socket.
type LocalNotify struct {
	Title    string            `json:"title"`
	Message  string            `json:"message"`
	Urgency  string            `json:"urgency,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// LocalPort is the body of POST /ports on the local socket.
type LocalPort struct {
	Direction     string `json:"direction"`
	ContainerPort int    `json:"container_port"`
	HostPort      int    `json:"host_port,omitempty"`
	Bind          string `json:"bind,omitempty"`
}

type localError struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// LocalHandler serves the local socket API.
func (c *Client) LocalHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /notify", func(w http.ResponseWriter, r *http.Request) {
		var req LocalNotify
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeLocalError(w, boxerrors.ValidationError("invalid request body: "+err.Error()))
			return
		}
		res, err := c.Notify(r.Context(), tunnel.NotifyRequest{
			Title:    req.Title,
			Message:  req.Message,
			Urgency:  req.Urgency,
			Metadata: req.Metadata,
		})
		if err != nil {
			writeLocalError(w, err)
			return
		}
		writeLocalJSON(w, http.StatusOK, res)
	})
	mux.HandleFunc("POST /resume", func(w http.ResponseWriter, r *http.Request) {
		res, err := c.Resume(r.Context())
		if err != nil {
			writeLocalError(w, err)
			return
		}
		writeLocalJSON(w, http.StatusOK, res)
	})
	mux.HandleFunc("GET /ports", func(w http.ResponseWriter, r *http.Request) {
		res, err := c.Ports(r.Context())
		if err != nil {
			writeLocalError(w, err)
			return
		}
		if res == nil {
			res = []tunnel.PortStatus{}
		}
		writeLocalJSON(w, http.StatusOK, res)
	})
	mux.HandleFunc("POST /ports", func(w http.ResponseWriter, r *http.Request) {
		var req LocalPort
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeLocalError(w, boxerrors.ValidationError("invalid request body: "+err.Error()))
			return
		}
		res, err := c.ActivatePort(r.Context(), tunnel.PortRequest(req))
		if err != nil {
			writeLocalError(w, err)
			return
		}
		writeLocalJSON(w, http.StatusCreated, res)
	})
	mux.HandleFunc("DELETE /ports/{direction}/{host_port}", func(w http.ResponseWriter, r *http.Request) {
		hostPort, err := strconv.Atoi(r.PathValue("host_port"))
		if err != nil {
			writeLocalError(w, boxerrors.ValidationError("invalid host port "+r.PathValue("host_port")))
			return
		}
		res, err := c.DeactivatePort(r.Context(), tunnel.PortRequest{Direction: r.PathValue("direction"), HostPort: hostPort})
		if err != nil {
			writeLocalError(w, err)
			return
		}
		writeLocalJSON(w, http.StatusOK, res)
	})
	return mux
}

// ServeLocal serves the local socket API on ln until ctx is done.
func (c *Client) ServeLocal(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      c.LocalHandler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func listenLocal(path string) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create socket directory: %w", err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", path, err)
	}
	return ln, nil
}

func writeLocalJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeLocalError(w http.ResponseWriter, err error) {
	code := boxerrors.GetExitCode(err)
	status := http.StatusInternalServerError
	switch code {
	case boxerrors.ExitUsage:
		status = http.StatusBadRequest
	case boxerrors.ExitPortInUse:
		status = http.StatusConflict
	case boxerrors.ExitDaemonUnavailable:
		status = http.StatusServiceUnavailable
	}
	writeLocalJSON(w, status, localError{Error: err.Error(), Code: code})
}

// LocalClient talks to a running client over its local socket.
type LocalClient struct {
	http *http.Client
}

// NewLocalClient returns a LocalClient for the socket at path.
func NewLocalClient(path string) *LocalClient {
	return &LocalClient{http: &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", path)
			},
		},
	}}
}

func (l *LocalClient) do(ctx context.Context, method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, "http://boxctl"+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.http.Do(req)
	if err != nil {
		return boxerrors.DaemonUnavailable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e localError
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
			return fmt.Errorf("local socket returned %s", resp.Status)
		}
		if e.Code == 0 || e.Code == boxerrors.ExitGeneralError {
			return errors.New(e.Error)
		}
		return boxerrors.New(e.Code, e.Error)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// Notify sends a notification through the container's tunnel.
func (l *LocalClient) Notify(ctx context.Context, n LocalNotify) (tunnel.NotifyResult, error) {
	var res tunnel.NotifyResult
	err := l.do(ctx, http.MethodPost, "/notify", n, &res)
	return res, err
}

// Resume clears the stalled state of the container's session.
func (l *LocalClient) Resume(ctx context.Context) (tunnel.SessionState, error) {
	var res tunnel.SessionState
	err := l.do(ctx, http.MethodPost, "/resume", nil, &res)
	return res, err
}

// Ports lists the port tunnels of the container's project.
func (l *LocalClient) Ports(ctx context.Context) ([]tunnel.PortStatus, error) {
	var res []tunnel.PortStatus
	err := l.do(ctx, http.MethodGet, "/ports", nil, &res)
	return res, err
}

// AddPort configures and activates a port tunnel.
func (l *LocalClient) AddPort(ctx context.Context, p LocalPort) (tunnel.PortStatus, error) {
	var res tunnel.PortStatus
	err := l.do(ctx, http.MethodPost, "/ports", p, &res)
	return res, err
}

// RemovePort removes a port tunnel.
func (l *LocalClient) RemovePort(ctx context.Context, direction string, hostPort int) (tunnel.PortStatus, error) {
	var res tunnel.PortStatus
	err := l.do(ctx, http.MethodDelete, fmt.Sprintf("/ports/%s/%d", direction, hostPort), nil, &res)
	return res, err
}
