//go:build !unix

package timebase

import "time"

var epoch = time.Now()

// MonotonicClock falls back to the Go runtime monotonic clock on platforms
// without clock_gettime.
type MonotonicClock struct{}

// Now returns microseconds since process start as a wrapping counter.
func (MonotonicClock) Now() Micros {
	return FromDuration(time.Since(epoch))
}
