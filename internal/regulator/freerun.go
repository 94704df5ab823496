package regulator

import (
	"math"

	"github.com/cwi-dis/vrt-sync/internal/timebase"
)

// FreeRun schedules synthesized edges at a fixed rate. The n-th edge is due at
// base + round(n * 1e6 / fps), so rounding never accumulates: the schedule is
// derived from the previous scheduled time, not from when it was serviced.
type FreeRun struct {
	base timebase.Micros
	n    uint64
	fps  float64
}

// NewFreeRun starts a schedule whose first edge is one period after start.
func NewFreeRun(fps float64, start timebase.Micros) FreeRun {
	return FreeRun{base: start, fps: fps}
}

func (f *FreeRun) offset(n uint64) timebase.Micros {
	// Conversion through uint64 truncates modulo 2^32, matching the wrap.
	return timebase.Micros(uint64(math.Round(float64(n) * float64(timebase.PerSecond) / f.fps)))
}

// scheduled returns the time of the next synthesized edge.
func (f *FreeRun) scheduled() timebase.Micros {
	return f.base + f.offset(f.n+1)
}

// Remaining returns microseconds until the next edge is due, 0 if overdue.
func (f *FreeRun) Remaining(now timebase.Micros) timebase.Micros {
	prev := f.base + f.offset(f.n)
	step := f.offset(f.n+1) - f.offset(f.n)
	elapsed := timebase.Since(now, prev)
	if elapsed >= step {
		return 0
	}
	return step - elapsed
}

// Due reports whether the next edge should fire at now.
func (f *FreeRun) Due(now timebase.Micros) bool {
	prev := f.base + f.offset(f.n)
	step := f.offset(f.n+1) - f.offset(f.n)
	return timebase.Since(now, prev) >= step
}

// Advance consumes the next edge and returns its scheduled timestamp.
func (f *FreeRun) Advance() timebase.Micros {
	f.n++
	return f.base + f.offset(f.n)
}

// count returns how many edges have been synthesized.
func (f *FreeRun) count() uint64 {
	return f.n
}
