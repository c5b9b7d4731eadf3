// Package broadcast fans engine events out to any number of listeners.
package broadcast

import (
	"sync"

	"feedwatcher/internal/watcher"
)

// Hub delivers each event to every current subscriber.
// A subscriber whose buffer is full misses the event; Notify never blocks.
type Hub struct {
	mu     sync.RWMutex
	subs   map[int]chan watcher.Event
	next   int
	buffer int
}

// NewHub creates a Hub whose subscriptions buffer up to buffer events.
func NewHub(buffer int) *Hub {
	if buffer < 1 {
		buffer = 1
	}
	return &Hub{subs: make(map[int]chan watcher.Event), buffer: buffer}
}

// Notify implements watcher.Notifier.
func (h *Hub) Notify(ev watcher.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe registers a listener. The returned function unsubscribes and
// closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe() (<-chan watcher.Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.next
	h.next++
	ch := make(chan watcher.Event, h.buffer)
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs, id)
			close(ch)
		})
	}
}

// Subscribers returns the number of current subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

var _ watcher.Notifier = (*Hub)(nil)
