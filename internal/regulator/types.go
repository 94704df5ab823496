// Package regulator contains the sync pulse regulator: it measures incoming
// trigger edges, divides them down and re-emits output pulses.
// This package has NO hardware dependencies (no GPIO, MQTT or OS clock).
// Time is always passed in as timebase.Micros.
package regulator

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/cwi-dis/vrt-sync/internal/timebase"
)

// Mode selects where trigger edges come from.
type Mode int

const (
	ModeFree      Mode = iota // internal free-running timer
	ModeRealSense             // external RealSense sync output
	ModeGenlock               // external genlock signal
)

// String returns the display label for m.
func (m Mode) String() string {
	switch m {
	case ModeFree:
		return "Free"
	case ModeRealSense:
		return "RealSense"
	case ModeGenlock:
		return "Genlock"
	}
	return "Unknown"
}

// Valid reports whether m is one of the known modes.
func (m Mode) Valid() bool {
	return m >= ModeFree && m <= ModeGenlock
}

// External reports whether m is driven by the input trigger line.
func (m Mode) External() bool {
	return m == ModeRealSense || m == ModeGenlock
}

// Modes lists all modes in persisted order.
var Modes = []Mode{ModeFree, ModeRealSense, ModeGenlock}

// Error is a regulator error.
type Error string

func (e Error) Error() string {
	return string(e)
}

const (
	ErrInvalidMode    = Error("invalid sync source")
	ErrInvalidFPS     = Error("invalid fps_free")
	ErrInvalidDivider = Error("invalid divider")
	ErrPulseTooWide   = Error("pulse width exceeds output period")
	ErrInvalidWidth   = Error("invalid pulse width")
)

// SignalLossWindow is how long without an edge before a frequency reads as 0.
const SignalLossWindow = timebase.PerSecond

// Settings is the persisted, user-editable configuration snapshot.
type Settings struct {
	Mode    Mode
	FPSFree float64
	Divider int
}

// DefaultSettings matches the factory configuration of the converter box.
func DefaultSettings() Settings {
	return Settings{
		Mode:    ModeFree,
		FPSFree: 29.97,
		Divider: 1,
	}
}

// Validate checks every field and returns the first violation.
func (s Settings) Validate() error {
	if !s.Mode.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidMode, int(s.Mode))
	}
	if !(s.FPSFree > 0) || math.IsInf(s.FPSFree, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidFPS, s.FPSFree)
	}
	if float64(timebase.PerSecond)/s.FPSFree > math.MaxUint32 {
		return fmt.Errorf("%w: %v, period exceeds the microsecond counter", ErrInvalidFPS, s.FPSFree)
	}
	if s.Divider < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidDivider, s.Divider)
	}
	return nil
}

// FreePeriod returns the nominal free-running edge period. Only meaningful
// for settings that pass Validate.
func (s Settings) FreePeriod() timebase.Micros {
	return timebase.Micros(float64(timebase.PerSecond) / s.FPSFree)
}

// WidthPolicy decides how long an output line stays asserted.
// Either a fixed width, or a fraction Num/Den of the measured output period.
type WidthPolicy struct {
	Fixed timebase.Micros
	Num   uint32
	Den   uint32
}

// FixedWidth returns a policy asserting for exactly w microseconds.
func FixedWidth(w timebase.Micros) WidthPolicy {
	return WidthPolicy{Fixed: w}
}

// FractionOfPeriod returns a policy asserting for num/den of the period.
func FractionOfPeriod(num, den uint32) WidthPolicy {
	return WidthPolicy{Num: num, Den: den}
}

// IsFixed reports whether the width is independent of the period.
func (w WidthPolicy) IsFixed() bool {
	return w.Den == 0
}

// Width returns the pulse width for an output period.
func (w WidthPolicy) Width(period timebase.Micros) timebase.Micros {
	if w.IsFixed() {
		return w.Fixed
	}
	return timebase.Micros(uint64(period) * uint64(w.Num) / uint64(w.Den))
}

// Validate rejects zero widths and fractions that reach the full period.
func (w WidthPolicy) Validate() error {
	if w.IsFixed() {
		if w.Fixed == 0 {
			return fmt.Errorf("%w: zero fixed width", ErrInvalidWidth)
		}
		return nil
	}
	if w.Num == 0 || w.Num >= w.Den {
		return fmt.Errorf("%w: fraction %d/%d", ErrInvalidWidth, w.Num, w.Den)
	}
	return nil
}

// String formats the policy as accepted by ParseWidth.
func (w WidthPolicy) String() string {
	if w.IsFixed() {
		return fmt.Sprintf("fixed:%d", w.Fixed)
	}
	return fmt.Sprintf("fraction:%d/%d", w.Num, w.Den)
}

// ParseWidth parses "fixed:<us>" or "fraction:<num>/<den>".
func ParseWidth(s string) (WidthPolicy, error) {
	kind, arg, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return WidthPolicy{}, fmt.Errorf("%w: %q", ErrInvalidWidth, s)
	}
	var w WidthPolicy
	switch kind {
	case "fixed":
		us, err := strconv.ParseUint(strings.TrimSuffix(arg, "us"), 10, 32)
		if err != nil {
			return WidthPolicy{}, fmt.Errorf("%w: %q: %v", ErrInvalidWidth, s, err)
		}
		w = FixedWidth(timebase.Micros(us))
	case "fraction":
		ns, ds, ok := strings.Cut(arg, "/")
		if !ok {
			return WidthPolicy{}, fmt.Errorf("%w: %q", ErrInvalidWidth, s)
		}
		num, err := strconv.ParseUint(ns, 10, 32)
		if err != nil {
			return WidthPolicy{}, fmt.Errorf("%w: %q: %v", ErrInvalidWidth, s, err)
		}
		den, err := strconv.ParseUint(ds, 10, 32)
		if err != nil || den == 0 {
			return WidthPolicy{}, fmt.Errorf("%w: %q", ErrInvalidWidth, s)
		}
		w = FractionOfPeriod(uint32(num), uint32(den))
	default:
		return WidthPolicy{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidWidth, kind)
	}
	if err := w.Validate(); err != nil {
		return WidthPolicy{}, err
	}
	return w, nil
}

// LineSpec describes one output line.
type LineSpec struct {
	Name  string
	Width WidthPolicy
}

// RealSense cameras need at least 100us; 200us leaves margin.
const RealSensePulseWidth timebase.Micros = 200

// DefaultLines are the RealSense and genlock outputs of the converter box.
func DefaultLines() []LineSpec {
	return []LineSpec{
		{Name: "realsense", Width: FixedWidth(RealSensePulseWidth)},
		{Name: "genlock", Width: FractionOfPeriod(1, 3)},
	}
}

// OutputPulse is one asserted line waiting for its de-assert tick.
type OutputPulse struct {
	Line     int
	Assert   timebase.Micros
	Deassert timebase.Micros
	Duration timebase.Micros
}

// FrequencyEstimate is the last measured rate of a pulse stream.
type FrequencyEstimate struct {
	Hz         float64
	LastUpdate timebase.Micros
}

// DividerState is the divisor and the edges counted toward the next release.
type DividerState struct {
	Divisor int
	Count   int
}

// Stats counts regulator activity since the last reconfiguration.
type Stats struct {
	Edges        uint64
	Releases     uint64
	Pulses       uint64
	Overruns     uint64
	OutputErrors uint64
}
