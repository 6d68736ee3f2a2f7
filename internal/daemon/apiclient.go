package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	boxerrors "github.com/scharc/boxctl/internal/errors"
	"github.com/scharc/boxctl/internal/notify"
	"github.com/scharc/boxctl/internal/port"
)

// APIClient queries a running daemon over its control socket.
type APIClient struct {
	http *http.Client
	base string
}

// NewAPIClient returns a client for the control socket at path.
func NewAPIClient(path string) *APIClient {
	return &APIClient{
		base: "http://boxctld",
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", path)
				},
			},
		},
	}
}

// newAPIClientURL returns a client for an HTTP base URL.
func newAPIClientURL(base string, hc *http.Client) *APIClient {
	return &APIClient{base: base, http: hc}
}

func (c *APIClient) do(ctx context.Context, method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return boxerrors.DaemonUnavailable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
			return fmt.Errorf("daemon returned %s", resp.Status)
		}
		return ResponseError(e)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// Sessions lists every known session.
func (c *APIClient) Sessions(ctx context.Context) ([]SessionView, error) {
	var out []SessionView
	err := c.do(ctx, http.MethodGet, "/v1/sessions", nil, &out)
	return out, err
}

// Terminals returns the latest terminal snapshots of identity.
func (c *APIClient) Terminals(ctx context.Context, identity string) ([]Terminal, error) {
	var out []Terminal
	err := c.do(ctx, http.MethodGet, "/v1/sessions/"+url.PathEscape(identity)+"/terminals", nil, &out)
	return out, err
}

// Ports lists the port tunnels of project, or of all projects.
func (c *APIClient) Ports(ctx context.Context, project string) ([]port.Tunnel, error) {
	path := "/v1/ports"
	if project != "" {
		path += "?project=" + url.QueryEscape(project)
	}
	var out []port.Tunnel
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// AddPort configures a port tunnel.
func (c *APIClient) AddPort(ctx context.Context, req PortRequest) (port.Tunnel, error) {
	var out port.Tunnel
	err := c.do(ctx, http.MethodPost, "/v1/ports", req, &out)
	return out, err
}

// RemovePort removes a port tunnel.
func (c *APIClient) RemovePort(ctx context.Context, project string, dir port.Direction, hostPort int) (port.Tunnel, error) {
	path := "/v1/ports/" + url.PathEscape(project) + "/" + string(dir) + "/" + strconv.Itoa(hostPort)
	var out port.Tunnel
	err := c.do(ctx, http.MethodDelete, path, nil, &out)
	return out, err
}

// Notifications returns up to limit recent notifications, newest first.
// A zero limit returns all of them.
func (c *APIClient) Notifications(ctx context.Context, limit int) ([]notify.Notification, error) {
	var out []notify.Notification
	err := c.do(ctx, http.MethodGet, "/v1/notifications?limit="+strconv.Itoa(limit), nil, &out)
	return out, err
}

// Notify raises a notification from the host.
func (c *APIClient) Notify(ctx context.Context, req NotifyRequest) (notify.Notification, error) {
	var out notify.Notification
	err := c.do(ctx, http.MethodPost, "/v1/notify", req, &out)
	return out, err
}
