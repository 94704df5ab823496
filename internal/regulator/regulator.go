package regulator

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cwi-dis/vrt-sync/internal/timebase"
)

// EdgeFunc receives trigger edges. It runs in the source's own goroutine,
// the equivalent of interrupt context: it must not block.
type EdgeFunc func(ts timebase.Micros)

// Source is an attached trigger path: the free-run timer or the input line.
type Source interface {
	// Start begins delivering edges to fn.
	Start(fn EdgeFunc) error
	// Stop detaches the source. No edge is delivered after Stop returns.
	Stop() error
	// Name identifies the source in logs.
	Name() string
}

// SourceFactory builds the trigger path for a configuration.
type SourceFactory func(s Settings) (Source, error)

// State is the mutable runtime state, written by the edge path and the
// poll loop and reset as a whole on reconfiguration.
type State struct {
	In      EdgeTracker
	Divider Divider
	Out     PulseDriver
	Stats   Stats
}

// Regulator owns the edge tracker, divider and pulse driver and switches
// between trigger sources.
//
// mu is held for every State access. It stands in for disabling interrupts:
// edge callbacks take it only for the few field updates and line writes they
// need, and reconfiguration resets all fields under it in one step.
type Regulator struct {
	clock   timebase.Clock
	out     Outputs
	lines   []LineSpec
	factory SourceFactory

	// reconfigMu serializes Reconfigure callers; it is never taken from the
	// edge path.
	reconfigMu sync.Mutex
	source     Source

	mu       sync.Mutex
	settings Settings
	gen      uint64
	active   bool
	state    State
	lastErr  error
}

// New creates a Regulator. Nothing is attached until Reconfigure is called.
func New(clock timebase.Clock, out Outputs, lines []LineSpec, factory SourceFactory) *Regulator {
	r := &Regulator{
		clock:    clock,
		out:      out,
		lines:    lines,
		factory:  factory,
		settings: DefaultSettings(),
	}
	r.state.Divider, _ = NewDivider(1)
	r.state.Out = NewPulseDriver(lines)
	return r
}

// Reconfigure validates s, detaches the active source, resets all derived
// state and attaches the source for s. Invalid settings change nothing.
// If the new source fails to start, the regulator is left reset with no
// active source and the error is returned.
func (r *Regulator) Reconfigure(s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if s.Mode == ModeFree {
		period := uint64(s.FreePeriod()) * uint64(s.Divider)
		if err := r.state.Out.CheckFixedWidths(period); err != nil {
			return err
		}
	}

	r.reconfigMu.Lock()
	defer r.reconfigMu.Unlock()

	// Detach first so two sources never drive the tracker together.
	var errs error
	if r.source != nil {
		if err := r.source.Stop(); err != nil {
			errs = fmt.Errorf("stop %s: %w", r.source.Name(), err)
		}
		r.source = nil
	}

	r.mu.Lock()
	r.gen++
	gen := r.gen
	r.settings = s
	r.active = false
	r.lastErr = nil
	r.state.In.Reset()
	r.state.Divider.SetDivisor(s.Divider)
	r.state.Out.Reset()
	r.state.Stats = Stats{}
	for i, spec := range r.lines {
		if err := r.out.Set(i, false); err != nil {
			errs = errors.Join(errs, fmt.Errorf("deassert %s: %w", spec.Name, err))
		}
	}
	r.mu.Unlock()

	src, err := r.factory(s)
	if err != nil {
		return errors.Join(errs, fmt.Errorf("create %s source: %w", s.Mode, err))
	}
	if err := src.Start(r.edgeFunc(gen)); err != nil {
		return errors.Join(errs, fmt.Errorf("start %s: %w", src.Name(), err))
	}
	r.source = src

	r.mu.Lock()
	r.active = true
	r.mu.Unlock()
	return errs
}

// edgeFunc binds edge delivery to a configuration generation so a late edge
// from a detached source is dropped.
func (r *Regulator) edgeFunc(gen uint64) EdgeFunc {
	return func(ts timebase.Micros) {
		r.onEdge(gen, ts)
	}
}

func (r *Regulator) onEdge(gen uint64, ts timebase.Micros) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.gen {
		return
	}
	r.state.Stats.Edges++
	_, seen := r.state.In.Last()
	if _, ok := r.state.In.OnEdge(ts); seen && !ok {
		// Same microsecond as the previous edge: a bounce, not a frame.
		return
	}
	if !r.state.Divider.OnEdge() {
		return
	}
	r.state.Stats.Releases++
	res := r.state.Out.OnRelease(ts, r.out)
	if res.Asserted > 0 {
		r.state.Stats.Pulses++
	}
	r.state.Stats.Overruns += uint64(res.Overruns)
	if res.Err != nil {
		r.state.Stats.OutputErrors++
		r.lastErr = res.Err
	}
}

// Tick runs the poll-loop work: due de-assertions and signal-loss latching.
// It returns the number of lines de-asserted.
func (r *Regulator) Tick() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	n, err := r.state.Out.Tick(now, r.out)
	if err != nil {
		r.state.Stats.OutputErrors++
	}
	r.state.In.expire(now)
	r.state.Out.expire(now)
	return n, err
}

// NextDeassert returns how long until the earliest pending de-assert.
func (r *Regulator) NextDeassert() (timebase.Micros, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Out.NextDeassert(r.clock.Now())
}

// TakeError returns and clears the last error raised in the edge path.
func (r *Regulator) TakeError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	err := r.lastErr
	r.lastErr = nil
	return err
}

// Settings returns the active configuration.
func (r *Regulator) Settings() Settings {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settings
}

// Report is a point-in-time view of the regulator.
type Report struct {
	Mode         Mode
	FPSFree      float64
	Divider      DividerState
	In           FrequencyEstimate
	Out          FrequencyEstimate
	Pending      []OutputPulse
	Stats        Stats
	SourceActive bool
}

// Snapshot returns the current state. Frequencies read as 0 after a second
// without edges; this is evaluated here, not by a background timer.
func (r *Regulator) Snapshot() Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	last, _ := r.state.Out.out.Last()
	return Report{
		Mode:         r.settings.Mode,
		FPSFree:      r.settings.FPSFree,
		Divider:      r.state.Divider.State(),
		In:           r.state.In.Estimate(now),
		Out:          FrequencyEstimate{Hz: r.state.Out.Frequency(now), LastUpdate: last},
		Pending:      r.state.Out.Pending(),
		Stats:        r.state.Stats,
		SourceActive: r.active,
	}
}

// Close detaches the active source and de-asserts every line.
func (r *Regulator) Close() error {
	r.reconfigMu.Lock()
	defer r.reconfigMu.Unlock()

	var errs error
	if r.source != nil {
		if err := r.source.Stop(); err != nil {
			errs = fmt.Errorf("stop %s: %w", r.source.Name(), err)
		}
		r.source = nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.gen++
	r.active = false
	r.state.Out.Reset()
	for i, spec := range r.lines {
		if err := r.out.Set(i, false); err != nil {
			errs = errors.Join(errs, fmt.Errorf("deassert %s: %w", spec.Name, err))
		}
	}
	return errs
}
