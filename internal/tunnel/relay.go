package tunnel

import (
	"io"
	"net"
	"sync"
)

type closeWriter interface {
	CloseWrite() error
}

// Relay copies bytes between conn and s in both directions until both
// sides finish, then closes both. It returns the bytes copied each way.
func Relay(conn net.Conn, s *Stream) (toStream, fromStream int64) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		var err error
		toStream, err = io.Copy(s, conn)
		if err != nil {
			conn.Close()
		}
		s.CloseWrite()
	}()
	go func() {
		defer wg.Done()
		var err error
		fromStream, err = io.Copy(conn, s)
		if cw, ok := conn.(closeWriter); ok && err == nil {
			cw.CloseWrite()
		} else {
			conn.Close()
		}
	}()

	wg.Wait()
	conn.Close()
	s.Close()
	return toStream, fromStream
}
