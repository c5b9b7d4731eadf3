package testutil

import (
	"fmt"
	"sync"
	"time"
)

// FixtureTime is the scan time of the fixtures: 2024-01-15 10:30:00 UTC.
// Source items in tests are dated relative to it.
var FixtureTime = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

// StubClock is a watcher.Clock the test moves by hand.
type StubClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewStubClock creates a StubClock reading t.
func NewStubClock(t time.Time) *StubClock {
	return &StubClock{now: t.UTC()}
}

// FixedClock returns a StubClock reading FixtureTime.
func FixedClock() *StubClock {
	return NewStubClock(FixtureTime)
}

func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d, e.g. one scan interval.
func (c *StubClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// StubIDGenerator hands out feed identifiers "feed-1", "feed-2", ...
// in creation order.
type StubIDGenerator struct {
	mu     sync.Mutex
	issued int
}

func NewStubIDGenerator() *StubIDGenerator {
	return &StubIDGenerator{}
}

func (g *StubIDGenerator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.issued++
	return fmt.Sprintf("feed-%d", g.issued)
}
