package regulator

import "github.com/cwi-dis/vrt-sync/internal/timebase"

// EdgeTracker measures the period and frequency of a stream of edges.
type EdgeTracker struct {
	last    timebase.Micros
	hasLast bool
	period  timebase.Micros
	hz      float64
	// lost latches signal loss so a silence longer than a counter wrap
	// cannot look recent again.
	lost bool
}

// OnEdge records an edge at ts. It returns the period since the previous
// edge, or false for the first edge after a reset.
// Two edges in the same microsecond carry no timing information; the second
// is dropped.
func (t *EdgeTracker) OnEdge(ts timebase.Micros) (timebase.Micros, bool) {
	if !t.hasLast {
		t.last = ts
		t.hasLast = true
		t.lost = false
		return 0, false
	}
	period := timebase.Since(ts, t.last)
	if period == 0 {
		return 0, false
	}
	t.period = period
	t.hz = float64(timebase.PerSecond) / float64(period)
	t.last = ts
	t.lost = false
	return period, true
}

// Frequency returns the measured frequency, or 0 when no edge has arrived
// within SignalLossWindow of now.
func (t *EdgeTracker) Frequency(now timebase.Micros) float64 {
	if !t.hasLast || t.lost || timebase.Since(now, t.last) > SignalLossWindow {
		return 0
	}
	return t.hz
}

// Estimate returns the frequency at now with the time of its last update.
func (t *EdgeTracker) Estimate(now timebase.Micros) FrequencyEstimate {
	return FrequencyEstimate{Hz: t.Frequency(now), LastUpdate: t.last}
}

// Period returns the last measured period (0 if none).
func (t *EdgeTracker) Period() timebase.Micros {
	return t.period
}

// Last returns the timestamp of the most recent edge.
func (t *EdgeTracker) Last() (timebase.Micros, bool) {
	return t.last, t.hasLast
}

// expire latches signal loss. Called from the poll loop so that silences
// longer than one counter wrap still read as lost.
func (t *EdgeTracker) expire(now timebase.Micros) {
	if t.hasLast && !t.lost && timebase.Since(now, t.last) > SignalLossWindow {
		t.lost = true
	}
}

// Reset forgets all edges.
func (t *EdgeTracker) Reset() {
	*t = EdgeTracker{}
}
