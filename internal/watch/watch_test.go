package watch

import (
	"io"
	"log/slog"
	"sync"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeSource is an EventSource fed by the test.
type fakeSource struct {
	events    chan Event
	errors    chan error
	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		events: make(chan Event),
		errors: make(chan error),
		closed: make(chan struct{}),
	}
}

func (s *fakeSource) Events() <-chan Event { return s.events }
func (s *fakeSource) Errors() <-chan error { return s.errors }

func (s *fakeSource) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeSource) factory() SourceFactory {
	return func(string, func(string) bool) (EventSource, error) {
		return s, nil
	}
}
