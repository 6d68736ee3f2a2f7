package tunnel

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
)

const (
	// streamWindow is the number of bytes a sender may have in flight on
	// one stream before the receiver grants more. It also bounds unread
	// inbound bytes, so the read loop never waits on a slow reader.
	streamWindow = 1024 * 1024

	// windowUpdateThreshold is how many consumed bytes a reader collects
	// before it grants them back to the sender.
	windowUpdateThreshold = streamWindow / 4
)

var (
	// ErrStreamClosed is returned by reads and writes on a locally closed stream.
	ErrStreamClosed = errors.New("stream closed")

	// ErrWindowExceeded resets a stream whose peer sent past its window.
	ErrWindowExceeded = errors.New("stream flow control window exceeded")
)

// Stream is one logical byte stream of a Mux.
type Stream struct {
	id  uint32
	mux *Mux
	req OpenRequest

	mu          sync.Mutex
	cond        *sync.Cond
	buf         bytes.Buffer
	readErr     error
	writeClosed bool
	closed      bool
	remoteGone  bool

	// sendWindow is what the peer still accepts; consumed is what Read
	// handed out but has not been granted back yet.
	sendWindow int
	consumed   int
}

func newStream(m *Mux, id uint32, req OpenRequest) *Stream {
	s := &Stream{id: id, mux: m, req: req, sendWindow: streamWindow}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// ID returns the stream id.
func (s *Stream) ID() uint32 {
	return s.id
}

// Request returns what the stream was opened for.
func (s *Stream) Request() OpenRequest {
	return s.req
}

// Read reads buffered stream data, blocking until data arrives or the
// peer stops writing.
func (s *Stream) Read(p []byte) (int, error) {
	s.mu.Lock()
	for s.buf.Len() == 0 && s.readErr == nil && !s.closed {
		s.cond.Wait()
	}
	if s.closed {
		s.mu.Unlock()
		return 0, ErrStreamClosed
	}
	if s.buf.Len() == 0 {
		err := s.readErr
		s.mu.Unlock()
		return 0, err
	}

	n, _ := s.buf.Read(p)
	s.consumed += n
	grant := 0
	if s.consumed >= windowUpdateThreshold && !s.remoteGone {
		grant = s.consumed
		s.consumed = 0
	}
	s.mu.Unlock()

	if grant > 0 {
		var payload [4]byte
		binary.BigEndian.PutUint32(payload[:], uint32(grant))
		// A failed grant closes the whole mux; the data already read stays valid.
		s.mux.writeFrame(Frame{Type: FrameWindow, Stream: s.id, Payload: payload[:]})
	}
	return n, nil
}

// Write sends p as one or more data frames. It blocks while the peer's
// window for this stream is exhausted.
func (s *Stream) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		want := len(p)
		if want > maxChunkLength {
			want = maxChunkLength
		}
		n, err := s.reserve(want)
		if err != nil {
			return written, err
		}

		chunk := p[:n]
		if err := s.mux.writeData(s.id, chunk); err != nil {
			return written, err
		}
		written += len(chunk)
		p = p[len(chunk):]
	}
	return written, nil
}

// CloseWrite tells the peer no more data follows. Reads keep working.
func (s *Stream) CloseWrite() error {
	s.mu.Lock()
	if s.writeClosed {
		s.mu.Unlock()
		return nil
	}
	s.writeClosed = true
	s.mu.Unlock()
	return s.mux.writeFrame(Frame{Type: FrameClose, Flags: FlagHalfClose, Stream: s.id})
}

// Close closes both directions.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.writeClosed = true
	notify := !s.remoteGone
	s.cond.Broadcast()
	s.mu.Unlock()

	s.mux.removeStream(s.id)
	if !notify {
		return nil
	}
	if err := s.mux.writeFrame(Frame{Type: FrameClose, Stream: s.id}); err != nil && !errors.Is(err, ErrClosed) {
		return err
	}
	return nil
}

// reserve takes up to want bytes of send window, waiting for a grant
// while the window is empty.
func (s *Stream) reserve(want int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.sendWindow == 0 && !s.writeClosed {
		s.cond.Wait()
	}
	if s.writeClosed {
		if s.mux.isClosed() {
			return 0, ErrClosed
		}
		return 0, io.ErrClosedPipe
	}
	n := min(want, s.sendWindow)
	s.sendWindow -= n
	return n, nil
}

func (s *Stream) grant(n int) {
	s.mu.Lock()
	s.sendWindow += n
	s.cond.Broadcast()
	s.mu.Unlock()
}

// deliver buffers inbound data without ever waiting. It reports false
// when the data would overrun the window the peer was granted.
func (s *Stream) deliver(data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.readErr != nil {
		return true
	}
	if s.buf.Len()+len(data) > streamWindow {
		return false
	}
	s.buf.Write(data)
	s.cond.Broadcast()
	return true
}

func (s *Stream) remoteCloseWrite() {
	s.mu.Lock()
	if s.readErr == nil {
		s.readErr = io.EOF
	}
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *Stream) remoteClose(reason string) {
	err := io.EOF
	if reason != "" {
		err = fmt.Errorf("stream reset by peer: %s", reason)
	}
	s.mu.Lock()
	s.remoteGone = true
	s.writeClosed = true
	if s.readErr == nil {
		s.readErr = err
	}
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *Stream) reset(err error) {
	s.mu.Lock()
	s.remoteGone = true
	s.writeClosed = true
	if s.readErr == nil || s.readErr == io.EOF {
		s.readErr = err
	}
	s.cond.Broadcast()
	s.mu.Unlock()
}

// Reject closes a stream received from the peer with a reason the peer
// sees as its read error.
func (s *Stream) Reject(reason string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.writeClosed = true
	s.cond.Broadcast()
	s.mu.Unlock()

	s.mux.removeStream(s.id)
	return s.mux.writeFrame(Frame{Type: FrameClose, Stream: s.id, Payload: []byte(reason)})
}
