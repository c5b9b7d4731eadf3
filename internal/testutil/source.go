package testutil

import (
	"context"
	"sync"
	"time"

	"feedwatcher/internal/model"
	"feedwatcher/internal/watcher"
)

// SourceCall records one ListItems invocation.
type SourceCall struct {
	UnitID string
	Kind   model.FeedKind
	Since  time.Time
	Until  time.Time
	Max    int
}

// FakeSource is an in-memory feed source. It returns the items configured for a
// unit in insertion order, truncated to max, without filtering by time.
type FakeSource struct {
	mu    sync.Mutex
	items map[string][]model.SourcePost
	calls []SourceCall

	// Err, when set, is returned by every ListItems call.
	Err error

	// Block, when set, makes ListItems wait until it is closed or ctx ends.
	// Entered receives a value each time a call starts waiting.
	Block   chan struct{}
	Entered chan struct{}
}

// NewFakeSource creates an empty FakeSource.
func NewFakeSource() *FakeSource {
	return &FakeSource{items: make(map[string][]model.SourcePost)}
}

// AddItems appends items to the unit's list.
func (s *FakeSource) AddItems(unitID string, items ...model.SourcePost) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[unitID] = append(s.items[unitID], items...)
}

func (s *FakeSource) ListItems(ctx context.Context, unitID string, kind model.FeedKind, since, until time.Time, max int) ([]model.SourcePost, error) {
	s.mu.Lock()
	s.calls = append(s.calls, SourceCall{UnitID: unitID, Kind: kind, Since: since, Until: until, Max: max})
	block, entered := s.Block, s.Entered
	s.mu.Unlock()

	if block != nil {
		if entered != nil {
			select {
			case entered <- struct{}{}:
			default:
			}
		}
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	items := append([]model.SourcePost(nil), s.items[unitID]...)
	if max > 0 && len(items) > max {
		items = items[:max]
	}
	return items, nil
}

// Calls returns the recorded ListItems calls.
func (s *FakeSource) Calls() []SourceCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SourceCall(nil), s.calls...)
}

// Item builds a source item created at the given time.
func Item(id, message string, created time.Time, authorID, authorName string) model.SourcePost {
	p := model.SourcePost{
		ID:          id,
		Message:     message,
		CreatedTime: created.UTC().Format("2006-01-02T15:04:05-0700"),
	}
	if authorID != "" || authorName != "" {
		p.From = &model.Author{ID: authorID, Name: authorName}
	}
	return p
}

var _ watcher.FeedSource = (*FakeSource)(nil)
