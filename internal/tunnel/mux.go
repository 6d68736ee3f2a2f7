package tunnel

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	boxerrors "github.com/scharc/boxctl/internal/errors"
	"github.com/scharc/boxctl/internal/logging"
)

// Role decides which stream ids a side allocates: clients use odd ids,
// servers even ones, so both sides can open streams without colliding.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

const (
	// DefaultKeepAlive is the ping interval.
	DefaultKeepAlive = 15 * time.Second

	// maxChunkLength bounds a single data frame written by Stream.Write.
	maxChunkLength = 32 * 1024

	// writeTimeout bounds a single frame write.
	writeTimeout = 30 * time.Second
)

var (
	// ErrClosed is returned by operations on a closed Mux.
	ErrClosed = errors.New("tunnel closed")

	// ErrIdleTimeout closes a Mux whose peer sent nothing for IdleTimeout.
	ErrIdleTimeout = errors.New("tunnel idle timeout")
)

// Config configures a Mux.
type Config struct {
	Role        Role
	Compression CompressionTag

	// KeepAlive is the ping interval; zero disables pings.
	KeepAlive time.Duration

	// IdleTimeout closes the Mux when no frame arrived for this long;
	// zero disables the check. Requires KeepAlive.
	IdleTimeout time.Duration

	// OnRequest answers a control request. It runs on its own goroutine.
	OnRequest func(ctx context.Context, msg Message) (any, error)

	// OnEvent receives control events in arrival order on the read loop,
	// so it must not block.
	OnEvent func(msg Message)

	// OnStream receives streams opened by the peer, each on its own
	// goroutine. A nil OnStream rejects every stream.
	OnStream func(s *Stream)

	Logger *slog.Logger
}

// Mux multiplexes a control channel and any number of byte streams over
// one connection. Frames of one stream are delivered in order; there is no
// ordering between streams.
type Mux struct {
	conn net.Conn
	cfg  Config
	log  *slog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	streams map[uint32]*Stream
	pending map[string]chan Message
	nextID  uint32

	lastSeen atomic.Int64

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewMux wraps an already handshaken connection.
func NewMux(conn net.Conn, cfg Config) *Mux {
	log := cfg.Logger
	if log == nil {
		log = logging.With("component", "tunnel")
	}
	next := uint32(1)
	if cfg.Role == RoleServer {
		next = 2
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Mux{
		conn:    conn,
		cfg:     cfg,
		log:     log,
		streams: make(map[uint32]*Stream),
		pending: make(map[string]chan Message),
		nextID:  next,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	m.lastSeen.Store(time.Now().UnixNano())
	return m
}

// Run reads frames until the connection fails, ctx is cancelled or Close
// is called. It returns nil after Close.
func (m *Mux) Run(ctx context.Context) error {
	go func() {
		select {
		case <-ctx.Done():
			m.closeWith(ctx.Err())
		case <-m.done:
		}
	}()
	if m.cfg.KeepAlive > 0 {
		go m.keepAlive()
	}

	for {
		f, err := ReadFrame(m.conn)
		if err != nil {
			m.closeWith(err)
			return m.Err()
		}
		m.lastSeen.Store(time.Now().UnixNano())
		if err := m.handle(f); err != nil {
			m.log.Warn("protocol error", "error", err)
			m.closeWith(err)
			return m.Err()
		}
	}
}

// Close tears down the connection and every stream.
func (m *Mux) Close() error {
	m.closeWith(nil)
	return nil
}

// Done is closed once the Mux has shut down.
func (m *Mux) Done() <-chan struct{} {
	return m.done
}

// Err returns why the Mux shut down, or nil if it was closed locally.
func (m *Mux) Err() error {
	select {
	case <-m.done:
		return m.closeErr
	default:
		return nil
	}
}

// LastSeen returns when the last frame arrived from the peer.
func (m *Mux) LastSeen() time.Time {
	return time.Unix(0, m.lastSeen.Load())
}

// NumStreams returns the number of open streams.
func (m *Mux) NumStreams() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams)
}

// RemoteAddr returns the peer address of the underlying connection.
func (m *Mux) RemoteAddr() net.Addr {
	return m.conn.RemoteAddr()
}

func (m *Mux) closeWith(cause error) {
	m.closeOnce.Do(func() {
		m.closeErr = cause
		m.cancel()
		m.conn.Close()

		m.mu.Lock()
		streams := m.streams
		m.streams = make(map[uint32]*Stream)
		pending := m.pending
		m.pending = make(map[string]chan Message)
		m.mu.Unlock()

		for _, s := range streams {
			s.reset(ErrClosed)
		}
		for _, ch := range pending {
			close(ch)
		}
		close(m.done)
	})
}

func (m *Mux) isClosed() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

func (m *Mux) keepAlive() {
	ticker := time.NewTicker(m.cfg.KeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			if m.cfg.IdleTimeout > 0 && time.Since(m.LastSeen()) > m.cfg.IdleTimeout {
				m.log.Info("peer idle, closing", "idle", time.Since(m.LastSeen()).Round(time.Second))
				m.closeWith(ErrIdleTimeout)
				return
			}
			if err := m.writeFrame(Frame{Type: FramePing}); err != nil {
				return
			}
		}
	}
}

// handle dispatches one inbound frame. It never writes to the connection
// itself; replies go out on separate goroutines so two peers blocked on
// writes cannot deadlock each other's read loops.
func (m *Mux) handle(f Frame) error {
	switch f.Type {
	case FrameControl:
		var msg Message
		if err := Unmarshal(f.Payload, &msg); err != nil {
			return fmt.Errorf("decode control message: %w", err)
		}
		m.handleControl(msg)

	case FrameOpen:
		return m.handleOpen(f)

	case FrameData:
		s := m.stream(f.Stream)
		if s == nil {
			return nil
		}
		data, err := decompressPayload(f.Payload, CompressionTag(f.Flags&flagCompressionMask))
		if err != nil {
			return fmt.Errorf("stream %d: %w", f.Stream, err)
		}
		if !s.deliver(data) {
			m.log.Warn("peer overran stream window, resetting stream", "stream", f.Stream)
			m.removeStream(f.Stream)
			s.reset(ErrWindowExceeded)
			go m.writeFrame(Frame{Type: FrameClose, Stream: f.Stream, Payload: []byte(ErrWindowExceeded.Error())})
		}

	case FrameWindow:
		if len(f.Payload) != 4 {
			return fmt.Errorf("stream %d: window frame with %d byte payload", f.Stream, len(f.Payload))
		}
		if s := m.stream(f.Stream); s != nil {
			s.grant(int(binary.BigEndian.Uint32(f.Payload)))
		}

	case FrameClose:
		s := m.stream(f.Stream)
		if s == nil {
			return nil
		}
		if f.Flags&FlagHalfClose != 0 {
			s.remoteCloseWrite()
			return nil
		}
		m.removeStream(f.Stream)
		s.remoteClose(string(f.Payload))

	case FramePing:
		go m.writeFrame(Frame{Type: FramePong})

	case FramePong:

	default:
		return fmt.Errorf("unexpected %s frame", f.Type)
	}
	return nil
}

func (m *Mux) handleControl(msg Message) {
	switch msg.Kind {
	case KindResponse:
		m.mu.Lock()
		ch := m.pending[msg.ID]
		delete(m.pending, msg.ID)
		m.mu.Unlock()
		if ch != nil {
			ch <- msg
		}
	case KindRequest:
		go m.serveRequest(msg)
	case KindEvent:
		if m.cfg.OnEvent != nil {
			m.cfg.OnEvent(msg)
		}
	default:
		m.log.Debug("ignoring control message", "kind", msg.Kind, "type", msg.Type)
	}
}

func (m *Mux) handleOpen(f Frame) error {
	if f.Stream == 0 || m.ownsID(f.Stream) {
		return fmt.Errorf("peer opened stream %d with a local id", f.Stream)
	}
	var req OpenRequest
	if err := Unmarshal(f.Payload, &req); err != nil {
		return fmt.Errorf("decode open request: %w", err)
	}
	if m.cfg.OnStream == nil {
		go m.writeFrame(Frame{Type: FrameClose, Stream: f.Stream, Payload: []byte("streams not accepted")})
		return nil
	}

	s := newStream(m, f.Stream, req)
	m.mu.Lock()
	if _, exists := m.streams[f.Stream]; exists {
		m.mu.Unlock()
		return fmt.Errorf("stream %d opened twice", f.Stream)
	}
	m.streams[f.Stream] = s
	m.mu.Unlock()

	go m.cfg.OnStream(s)
	return nil
}

func (m *Mux) ownsID(id uint32) bool {
	if m.cfg.Role == RoleServer {
		return id%2 == 0
	}
	return id%2 == 1
}

func (m *Mux) stream(id uint32) *Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streams[id]
}

func (m *Mux) removeStream(id uint32) {
	m.mu.Lock()
	delete(m.streams, id)
	m.mu.Unlock()
}

// OpenStream opens a new stream to the peer. Opening is optimistic: a
// peer that refuses the stream closes it, which the caller observes as a
// read error.
func (m *Mux) OpenStream(ctx context.Context, req OpenRequest) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	payload, err := Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode open request: %w", err)
	}

	m.mu.Lock()
	if m.isClosed() {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	id := m.nextID
	m.nextID += 2
	s := newStream(m, id, req)
	m.streams[id] = s
	m.mu.Unlock()

	if err := m.writeFrame(Frame{Type: FrameOpen, Stream: id, Payload: payload}); err != nil {
		m.removeStream(id)
		return nil, err
	}
	return s, nil
}

// Request sends a control request and waits for the response. A non-nil
// out receives the decoded response payload.
func (m *Mux) Request(ctx context.Context, typ string, payload, out any) error {
	msg, err := newMessage(KindRequest, typ, payload)
	if err != nil {
		return err
	}
	ch := make(chan Message, 1)

	m.mu.Lock()
	if m.isClosed() {
		m.mu.Unlock()
		return ErrClosed
	}
	m.pending[msg.ID] = ch
	m.mu.Unlock()

	if err := m.sendControl(msg); err != nil {
		m.mu.Lock()
		delete(m.pending, msg.ID)
		m.mu.Unlock()
		return err
	}

	select {
	case <-ctx.Done():
		m.mu.Lock()
		delete(m.pending, msg.ID)
		m.mu.Unlock()
		return ctx.Err()
	case resp, ok := <-ch:
		if !ok {
			return ErrClosed
		}
		if err := resp.Err(); err != nil {
			return err
		}
		if out != nil {
			return resp.Decode(out)
		}
		return nil
	}
}

// Send sends a control event.
func (m *Mux) Send(typ string, payload any) error {
	msg, err := newMessage(KindEvent, typ, payload)
	if err != nil {
		return err
	}
	return m.sendControl(msg)
}

func (m *Mux) serveRequest(req Message) {
	resp := Message{Kind: KindResponse, Type: req.Type, ID: req.ID, TS: time.Now().UnixMilli()}

	var result any
	err := fmt.Errorf("unsupported request %q", req.Type)
	if m.cfg.OnRequest != nil {
		result, err = m.cfg.OnRequest(m.ctx, req)
	}

	if err == nil && result != nil {
		resp.Payload, err = Marshal(result)
	}
	if err != nil {
		resp.Error = err.Error()
		var boxErr *boxerrors.BoxError
		if boxerrors.As(err, &boxErr) {
			resp.Code = boxErr.Code
		}
	} else {
		resp.OK = true
	}

	if err := m.sendControl(resp); err != nil {
		m.log.Debug("failed to send response", "type", req.Type, "error", err)
	}
}

func (m *Mux) sendControl(msg Message) error {
	data, err := Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", msg.Kind, msg.Type, err)
	}
	return m.writeFrame(Frame{Type: FrameControl, Payload: data})
}

func (m *Mux) writeData(id uint32, chunk []byte) error {
	payload, tag := compressPayload(chunk, m.cfg.Compression)
	return m.writeFrame(Frame{Type: FrameData, Flags: byte(tag), Stream: id, Payload: payload})
}

func (m *Mux) writeFrame(f Frame) error {
	if m.isClosed() {
		return ErrClosed
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := WriteFrame(m.conn, f); err != nil {
		m.closeWith(err)
		return err
	}
	return nil
}
