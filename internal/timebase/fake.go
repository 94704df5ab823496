package timebase

import "sync"

// FakeClock is a manually driven Clock for tests.
type FakeClock struct {
	mu  sync.Mutex
	now Micros
}

// NewFakeClock creates a FakeClock reading start.
func NewFakeClock(start Micros) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the current fake time.
func (c *FakeClock) Now() Micros {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t. Moving backwards simulates nothing real; use
// Advance to cross the wrap boundary.
func (c *FakeClock) Set(t Micros) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Advance moves the clock forward by d, wrapping at 2^32.
func (c *FakeClock) Advance(d Micros) Micros {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += d
	return c.now
}
