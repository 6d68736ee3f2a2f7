package client

import (
	"context"
	"sort"
	"time"

	"github.com/scharc/boxctl/internal/multiplexer"
	"github.com/scharc/boxctl/internal/tunnel"
)

// terminalStream is the open stream of one multiplexer session.
type terminalStream struct {
	stream *tunnel.Stream
	enc    *tunnel.Encoder
	last   multiplexer.Snapshot
	sent   bool
}

// watchTerminals polls the multiplexer and streams a snapshot of every
// session whose pane changed. Changes are reported as agent activity.
func (s *session) watchTerminals(ctx context.Context) {
	streams := make(map[string]*terminalStream)
	defer func() {
		for _, ts := range streams {
			ts.stream.Close()
		}
	}()

	ticker := time.NewTicker(s.c.pollInterval)
	defer ticker.Stop()
	for {
		if changed := s.pollTerminals(ctx, streams); len(changed) > 0 {
			if err := s.mux.Send(tunnel.TypeHeartbeat, tunnel.Heartbeat{Terminals: changed}); err != nil {
				s.log.Debug("failed to send heartbeat", "error", err)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// pollTerminals runs one poll and returns the names of changed sessions.
func (s *session) pollTerminals(ctx context.Context, streams map[string]*terminalStream) []string {
	sessions, err := s.c.term.ListSessions(ctx)
	if err != nil {
		s.log.Debug("failed to list terminal sessions", "error", err)
		return nil
	}

	seen := make(map[string]bool, len(sessions))
	var changed []string
	for _, ts := range sessions {
		seen[ts.Name] = true
		snap, err := s.c.term.Capture(ctx, ts)
		if err != nil {
			s.log.Debug("failed to capture terminal", "session", ts.Name, "error", err)
			continue
		}

		cur := streams[ts.Name]
		if cur == nil {
			st, err := s.mux.OpenStream(ctx, tunnel.OpenRequest{Kind: tunnel.StreamTerminal, Session: ts.Name})
			if err != nil {
				s.log.Debug("failed to open terminal stream", "session", ts.Name, "error", err)
				continue
			}
			cur = &terminalStream{stream: st, enc: tunnel.NewEncoder(st)}
			streams[ts.Name] = cur
		}
		if cur.sent && cur.last == snap {
			continue
		}

		err = cur.enc.Encode(tunnel.TerminalSnapshot{
			Session: snap.Session,
			Content: snap.Content,
			CursorX: snap.CursorX,
			CursorY: snap.CursorY,
			Width:   snap.Width,
			Height:  snap.Height,
		})
		if err != nil {
			s.log.Debug("terminal stream failed", "session", ts.Name, "error", err)
			cur.stream.Close()
			delete(streams, ts.Name)
			continue
		}
		// The first snapshot of a stream is not activity.
		if cur.sent {
			changed = append(changed, ts.Name)
		}
		cur.last = snap
		cur.sent = true
	}

	for name, ts := range streams {
		if !seen[name] {
			ts.stream.Close()
			delete(streams, name)
		}
	}
	sort.Strings(changed)
	return changed
}
