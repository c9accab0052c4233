package entitlement

import (
	"sync"
	"time"
)

// Clock supplies the current instant.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock at millisecond resolution, the resolution
// of the wire and storage formats.
type SystemClock struct{}

// Now returns the current instant truncated to milliseconds.
func (SystemClock) Now() time.Time {
	return FromMillis(time.Now().UnixMilli())
}

// FakeClock is a manually driven clock for tests and simulations.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock returns a clock frozen at start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// NewFakeClockMillis returns a clock frozen at ms milliseconds since the epoch.
func NewFakeClockMillis(ms int64) *FakeClock {
	return NewFakeClock(FromMillis(ms))
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// SetMillis moves the clock to ms milliseconds since the epoch.
func (c *FakeClock) SetMillis(ms int64) {
	c.Set(FromMillis(ms))
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
