package store

import (
	"context"
	"sync"

	"feedwatcher/internal/watcher"
)

// Observed wraps a Store and publishes the new value of watched keys after
// every successful Set or Remove. A removed key publishes "".
//
// Each watcher channel holds only the latest value: a slow reader sees the
// most recent write, not every intermediate one.
type Observed struct {
	watcher.Store

	mu       sync.Mutex
	watchers map[string]map[int]chan string
	next     int
}

// NewObserved wraps s.
func NewObserved(s watcher.Store) *Observed {
	return &Observed{
		Store:    s,
		watchers: make(map[string]map[int]chan string),
	}
}

func (o *Observed) Set(ctx context.Context, key, value string) error {
	if err := o.Store.Set(ctx, key, value); err != nil {
		return err
	}
	o.publish(key, value)
	return nil
}

func (o *Observed) Remove(ctx context.Context, key string) error {
	if err := o.Store.Remove(ctx, key); err != nil {
		return err
	}
	o.publish(key, "")
	return nil
}

// Watch returns a channel receiving the latest value of key and a function
// that stops the watch and closes the channel.
func (o *Observed) Watch(key string) (<-chan string, func()) {
	o.mu.Lock()
	defer o.mu.Unlock()

	id := o.next
	o.next++
	ch := make(chan string, 1)
	if o.watchers[key] == nil {
		o.watchers[key] = make(map[int]chan string)
	}
	o.watchers[key][id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			delete(o.watchers[key], id)
			close(ch)
		})
	}
}

func (o *Observed) publish(key, value string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, ch := range o.watchers[key] {
		// Drop a value the reader has not taken yet, then offer the new one.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- value:
		default:
		}
	}
}

var _ watcher.Store = (*Observed)(nil)
