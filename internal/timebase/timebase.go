// Package timebase provides the microsecond counter that all pulse timing is
// measured against.
//
// The counter is 32 bits wide and wraps roughly every 71.6 minutes, the same
// as a microcontroller micros() counter. Durations are always computed with
// unsigned subtraction (now - ref), never by comparing absolute values, so
// every comparison stays correct across the wrap boundary.
package timebase

import "time"

// Micros is a wrapping microsecond timestamp or duration.
type Micros uint32

// PerSecond is the number of microseconds in one second.
const PerSecond Micros = 1_000_000

// Clock is a monotonically increasing, wrapping microsecond source.
type Clock interface {
	Now() Micros
}

// Since returns the microseconds elapsed from ref to now.
// The result is correct as long as less than one full wrap has passed.
func Since(now, ref Micros) Micros {
	return now - ref
}

// FromDuration truncates d to a wrapping microsecond value.
// Kernel event timestamps (time since boot) convert with this directly.
func FromDuration(d time.Duration) Micros {
	return Micros(uint64(d / time.Microsecond))
}

// Duration converts m to a time.Duration.
func (m Micros) Duration() time.Duration {
	return time.Duration(m) * time.Microsecond
}

// Deadline is a relative-delta schedule: it fires once delay microseconds
// have elapsed since start. It never compares absolute timestamps.
type Deadline struct {
	start Micros
	delay Micros
	armed bool
}

// Arm schedules the deadline delay microseconds after start.
func (d *Deadline) Arm(start, delay Micros) {
	d.start = start
	d.delay = delay
	d.armed = true
}

// Clear disarms the deadline.
func (d *Deadline) Clear() {
	*d = Deadline{}
}

// Armed reports whether the deadline is pending.
func (d *Deadline) Armed() bool {
	return d.armed
}

// Due reports whether an armed deadline has been reached at now.
func (d *Deadline) Due(now Micros) bool {
	return d.armed && Since(now, d.start) >= d.delay
}

// Remaining returns the microseconds left until the deadline, or 0 if it is
// due or not armed.
func (d *Deadline) Remaining(now Micros) Micros {
	if !d.armed {
		return 0
	}
	elapsed := Since(now, d.start)
	if elapsed >= d.delay {
		return 0
	}
	return d.delay - elapsed
}

// At returns the absolute (wrapped) time the deadline fires at.
// For display only; use Due for comparisons.
func (d *Deadline) At() Micros {
	return d.start + d.delay
}
