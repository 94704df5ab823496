package regulator

import (
	"errors"
	"fmt"

	"github.com/cwi-dis/vrt-sync/internal/timebase"
)

// Outputs drives the physical output lines, indexed like the LineSpecs.
type Outputs interface {
	Set(line int, active bool) error
}

// PulseDriver asserts every output line on release and de-asserts each one
// once its width has elapsed.
type PulseDriver struct {
	lines   []LineSpec
	pending []timebase.Deadline
	pulses  []OutputPulse
	out     EdgeTracker
}

// NewPulseDriver creates a driver for the given lines.
func NewPulseDriver(lines []LineSpec) PulseDriver {
	return PulseDriver{
		lines:   lines,
		pending: make([]timebase.Deadline, len(lines)),
		pulses:  make([]OutputPulse, len(lines)),
	}
}

// ReleaseResult summarises one OnRelease call.
type ReleaseResult struct {
	Asserted int
	Overruns int
	Err      error
}

// OnRelease handles an output trigger at ts. The first release after a reset
// only records the timing reference: without a previous release there is no
// period to size the pulses from.
// It does not allocate unless an output write fails.
func (p *PulseDriver) OnRelease(ts timebase.Micros, out Outputs) ReleaseResult {
	period, ok := p.out.OnEdge(ts)
	if !ok {
		return ReleaseResult{}
	}

	var res ReleaseResult
	for i, spec := range p.lines {
		if p.pending[i].Armed() {
			// Previous pulse still high: the width is too close to the
			// period. Replace its schedule so only one stays pending.
			res.Overruns++
		}
		if err := out.Set(i, true); err != nil {
			res.Err = errors.Join(res.Err, fmt.Errorf("assert %s: %w", spec.Name, err))
			continue
		}
		width := spec.Width.Width(period)
		p.pending[i].Arm(ts, width)
		p.pulses[i] = OutputPulse{
			Line:     i,
			Assert:   ts,
			Deassert: ts + width,
			Duration: width,
		}
		res.Asserted++
	}
	return res
}

// Tick de-asserts every line whose pulse width has elapsed at now.
func (p *PulseDriver) Tick(now timebase.Micros, out Outputs) (int, error) {
	var (
		n    int
		errs error
	)
	for i := range p.pending {
		if !p.pending[i].Due(now) {
			continue
		}
		if err := out.Set(i, false); err != nil {
			errs = errors.Join(errs, fmt.Errorf("deassert %s: %w", p.lines[i].Name, err))
			continue
		}
		p.pending[i].Clear()
		p.pulses[i] = OutputPulse{}
		n++
	}
	return n, errs
}

// NextDeassert returns the time until the earliest pending de-assert.
func (p *PulseDriver) NextDeassert(now timebase.Micros) (timebase.Micros, bool) {
	var (
		best  timebase.Micros
		found bool
	)
	for i := range p.pending {
		if !p.pending[i].Armed() {
			continue
		}
		r := p.pending[i].Remaining(now)
		if !found || r < best {
			best, found = r, true
		}
	}
	return best, found
}

// Pending returns a copy of the pulses waiting to be de-asserted.
func (p *PulseDriver) Pending() []OutputPulse {
	var res []OutputPulse
	for i := range p.pending {
		if p.pending[i].Armed() {
			res = append(res, p.pulses[i])
		}
	}
	return res
}

// Frequency returns the outgoing frequency, 0 after a second of silence.
func (p *PulseDriver) Frequency(now timebase.Micros) float64 {
	return p.out.Frequency(now)
}

// Period returns the last measured outgoing period.
func (p *PulseDriver) Period() timebase.Micros {
	return p.out.Period()
}

// Reset forgets the timing reference and drops pending pulses without
// touching the lines. Callers de-assert lines themselves.
func (p *PulseDriver) Reset() {
	p.out.Reset()
	for i := range p.pending {
		p.pending[i].Clear()
		p.pulses[i] = OutputPulse{}
	}
}

// CheckFixedWidths returns ErrPulseTooWide if a fixed-width line would still
// be asserted when the next release at period arrives.
func (p *PulseDriver) CheckFixedWidths(period uint64) error {
	for _, spec := range p.lines {
		if spec.Width.IsFixed() && uint64(spec.Width.Fixed) >= period {
			return fmt.Errorf("%w: %s is %dus, period %dus", ErrPulseTooWide, spec.Name, spec.Width.Fixed, period)
		}
	}
	return nil
}

func (p *PulseDriver) expire(now timebase.Micros) {
	p.out.expire(now)
}
