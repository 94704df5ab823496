// Package waveform generates a fixed-rate square wave for driving a sync
// line directly, without an input signal.
package waveform

import (
	"fmt"
	"math"

	"github.com/cwi-dis/vrt-sync/internal/timebase"
)

// Error is a waveform configuration error.
type Error string

func (e Error) Error() string {
	return string(e)
}

const (
	ErrInvalidFPS  = Error("invalid fps")
	ErrInvalidDuty = Error("invalid duty cycle")
)

// Defaults of the stand-alone generator.
const (
	DefaultFPS  = 25.0
	DefaultDuty = 0.33
)

// Timings are the derived durations of one cycle.
type Timings struct {
	Period timebase.Micros
	On     timebase.Micros
	Off    timebase.Micros
}

// NewTimings derives the cycle timings for fps and a duty cycle in (0, 1).
func NewTimings(fps, duty float64) (Timings, error) {
	if !(fps > 0) || math.IsInf(fps, 0) {
		return Timings{}, fmt.Errorf("%w: %v", ErrInvalidFPS, fps)
	}
	if !(duty > 0 && duty < 1) {
		return Timings{}, fmt.Errorf("%w: %v", ErrInvalidDuty, duty)
	}
	if float64(timebase.PerSecond)/fps > math.MaxUint32 {
		return Timings{}, fmt.Errorf("%w: %v, period exceeds the microsecond counter", ErrInvalidFPS, fps)
	}
	period := timebase.Micros(float64(timebase.PerSecond) / fps)
	on := timebase.Micros(float64(period) * duty)
	if on == 0 || on >= period {
		return Timings{}, fmt.Errorf("%w: %v of %dus", ErrInvalidDuty, duty, period)
	}
	return Timings{Period: period, On: on, Off: period - on}, nil
}

func (t Timings) String() string {
	return fmt.Sprintf("period=%dus on=%dus off=%dus", t.Period, t.On, t.Off)
}

// Generator tracks the level of the square wave. Each flip is scheduled
// from the previous scheduled flip, not from when it was observed, so the
// rate does not drift with polling latency.
type Generator struct {
	t     Timings
	high  bool
	next  timebase.Deadline
	flips uint64
	slips uint64
}

// New creates a generator whose first flip (to high) is due at start.
func New(t Timings, start timebase.Micros) *Generator {
	g := &Generator{t: t}
	g.next.Arm(start, 0)
	return g
}

// Timings returns the cycle timings.
func (g *Generator) Timings() Timings {
	return g.t
}

// High reports the current output level.
func (g *Generator) High() bool {
	return g.high
}

// Step flips the level if the next flip is due at now. It reports whether
// the level changed.
func (g *Generator) Step(now timebase.Micros) bool {
	if !g.next.Due(now) {
		return false
	}
	g.high = !g.high
	g.flips++

	hold := g.t.Off
	if g.high {
		hold = g.t.On
	}
	at := g.next.At()
	if timebase.Since(now, at) >= g.t.Period {
		// More than a cycle behind: restart the schedule from now rather
		// than emitting a burst of short pulses.
		g.slips++
		at = now
	}
	g.next.Arm(at, hold)
	return true
}

// Remaining returns how long until the next flip.
func (g *Generator) Remaining(now timebase.Micros) timebase.Micros {
	return g.next.Remaining(now)
}

// Flips returns the number of level changes so far.
func (g *Generator) Flips() uint64 {
	return g.flips
}

// Slips returns how many times the schedule was restarted after falling
// more than a cycle behind.
func (g *Generator) Slips() uint64 {
	return g.slips
}
