package notify

import (
	"sync"
	"time"

	"github.com/zeebo/blake3"
)

type dedupKey [32]byte

// dedupWindow remembers recently delivered notifications.
type dedupWindow struct {
	mu   sync.Mutex
	seen map[dedupKey]time.Time
}

func newDedupWindow() *dedupWindow {
	return &dedupWindow{seen: make(map[dedupKey]time.Time)}
}

func contentKey(identity, title, message string) dedupKey {
	h := blake3.New()
	for _, part := range []string{identity, title, message} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	var key dedupKey
	copy(key[:], h.Sum(nil))
	return key
}

// admit reports whether key may be delivered at now and, if so, records
// it. A zero window admits everything.
func (d *dedupWindow) admit(key dedupKey, now time.Time, window time.Duration) bool {
	if window <= 0 {
		return true
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for k, at := range d.seen {
		if now.Sub(at) >= window {
			delete(d.seen, k)
		}
	}
	if _, dup := d.seen[key]; dup {
		return false
	}
	d.seen[key] = now
	return true
}
