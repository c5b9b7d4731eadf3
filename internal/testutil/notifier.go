package testutil

import (
	"sync"

	"feedwatcher/internal/watcher"
)

// RecordingNotifier keeps every event it is given.
type RecordingNotifier struct {
	mu     sync.Mutex
	events []watcher.Event
}

func (n *RecordingNotifier) Notify(ev watcher.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

// Events returns the recorded events in order.
func (n *RecordingNotifier) Events() []watcher.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]watcher.Event(nil), n.events...)
}

// OfType returns the recorded events of one update type.
func (n *RecordingNotifier) OfType(t watcher.UpdateType) []watcher.Event {
	var out []watcher.Event
	for _, ev := range n.Events() {
		if ev.UpdateType == t {
			out = append(out, ev)
		}
	}
	return out
}

var _ watcher.Notifier = (*RecordingNotifier)(nil)
