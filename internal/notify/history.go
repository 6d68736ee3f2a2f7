package notify

import "sync"

// history is a bounded ring of recent notifications, newest last.
type history struct {
	mu    sync.Mutex
	items []Notification
	next  int
	full  bool
}

func (h *history) add(n Notification, size int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if size <= 0 {
		h.items, h.next, h.full = nil, 0, false
		return
	}
	if len(h.items) != size {
		h.resize(size)
	}
	h.items[h.next] = n
	h.next = (h.next + 1) % size
	if h.next == 0 {
		h.full = true
	}
}

// resize keeps the newest entries that fit in size.
func (h *history) resize(size int) {
	old := h.listLocked()
	if len(old) > size {
		old = old[len(old)-size:]
	}
	h.items = make([]Notification, size)
	copy(h.items, old)
	h.next = len(old) % size
	h.full = len(old) == size
}

func (h *history) list() []Notification {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.listLocked()
}

func (h *history) listLocked() []Notification {
	if !h.full {
		return append([]Notification(nil), h.items[:h.next]...)
	}
	out := make([]Notification, 0, len(h.items))
	out = append(out, h.items[h.next:]...)
	return append(out, h.items[:h.next]...)
}
