package daemon

import (
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/scharc/boxctl/internal/registry"
	"github.com/scharc/boxctl/internal/tunnel"
)

// Terminal is the latest snapshot of one terminal session.
type Terminal struct {
	Session string    `json:"session"`
	Content string    `json:"content"`
	CursorX int       `json:"cursor_x"`
	CursorY int       `json:"cursor_y"`
	Width   int       `json:"width"`
	Height  int       `json:"height"`
	Updated time.Time `json:"updated"`
}

// terminalCache keeps the latest snapshot per identity and session name.
type terminalCache struct {
	mu    sync.Mutex
	items map[string]map[string]Terminal
}

func newTerminalCache() *terminalCache {
	return &terminalCache{items: make(map[string]map[string]Terminal)}
}

func (c *terminalCache) update(identity string, t Terminal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.items[identity]
	if m == nil {
		m = make(map[string]Terminal)
		c.items[identity] = m
	}
	m[t.Session] = t
}

func (c *terminalCache) remove(identity, session string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items[identity], session)
}

func (c *terminalCache) drop(identity string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, identity)
}

func (c *terminalCache) list(identity string) []Terminal {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Terminal, 0, len(c.items[identity]))
	for _, t := range c.items[identity] {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Session < out[j].Session })
	return out
}

// serveTerminal reads CBOR snapshots from a terminal stream until it
// closes. A snapshot that differs from the previous one counts as
// activity.
func (d *Daemon) serveTerminal(s *registry.Session, st *tunnel.Stream) {
	name := st.Request().Session
	info := registry.StreamInfo{ID: st.ID(), Kind: tunnel.StreamTerminal, Label: name}
	if err := d.reg.AddStream(s.Identity, info); err != nil {
		st.Reject(err.Error())
		return
	}
	defer func() {
		d.reg.RemoveStream(s.Identity, st.ID())
		if d.reg.IsActive(s) {
			d.terminals.remove(s.Identity, name)
		}
		st.Close()
	}()

	dec := tunnel.NewDecoder(st)
	var prev *tunnel.TerminalSnapshot
	for {
		var snap tunnel.TerminalSnapshot
		if err := dec.Decode(&snap); err != nil {
			if !errors.Is(err, io.EOF) && d.reg.IsActive(s) {
				d.log.Debug("terminal stream ended", "identity", s.Identity, "session", name, "error", err)
			}
			return
		}
		if snap.Session == "" {
			snap.Session = name
		}
		d.terminals.update(s.Identity, Terminal{
			Session: snap.Session,
			Content: snap.Content,
			CursorX: snap.CursorX,
			CursorY: snap.CursorY,
			Width:   snap.Width,
			Height:  snap.Height,
			Updated: d.app.Now(),
		})
		if prev != nil && *prev != snap {
			d.reg.Heartbeat(s.Identity)
		}
		prev = &snap
	}
}
