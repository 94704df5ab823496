//go:build unix

package timebase

import "golang.org/x/sys/unix"

// MonotonicClock reads CLOCK_MONOTONIC, the clock the kernel stamps GPIO line
// events with, so handler timestamps and poll loop reads share one timebase.
type MonotonicClock struct{}

// Now returns CLOCK_MONOTONIC truncated to a wrapping microsecond counter.
func (MonotonicClock) Now() Micros {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		// CLOCK_MONOTONIC is always supported on Linux.
		panic("timebase: clock_gettime: " + err.Error())
	}
	return Micros(uint64(ts.Sec)*1_000_000 + uint64(ts.Nsec)/1_000)
}
