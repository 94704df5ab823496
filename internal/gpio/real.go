//go:build linux

package gpio

import (
	"errors"
	"fmt"

	"github.com/warthog618/go-gpiocdev"

	"github.com/cwi-dis/vrt-sync/internal/regulator"
	"github.com/cwi-dis/vrt-sync/internal/timebase"
)

// EdgeInput delivers rising edges of one input line, stamped by the kernel
// with CLOCK_MONOTONIC, the same clock as timebase.MonotonicClock.
type EdgeInput struct {
	chip   string
	offset int
	line   *gpiocdev.Line
}

// NewEdgeInput creates an input source. The line is only requested on Start.
func NewEdgeInput(chip string, offset int) *EdgeInput {
	return &EdgeInput{chip: chip, offset: offset}
}

// Name identifies the source.
func (e *EdgeInput) Name() string {
	return fmt.Sprintf("edge %s:%d", e.chip, e.offset)
}

// Start requests the line with rising-edge detection. fn runs in the
// gpiocdev watcher goroutine for every edge.
func (e *EdgeInput) Start(fn regulator.EdgeFunc) error {
	if e.line != nil {
		return fmt.Errorf("%s: already started", e.Name())
	}
	line, err := gpiocdev.RequestLine(e.chip, e.offset,
		gpiocdev.WithConsumer(Consumer),
		gpiocdev.AsInput,
		gpiocdev.WithPullDown,
		gpiocdev.WithRisingEdge,
		gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
			fn(timebase.FromDuration(evt.Timestamp))
		}))
	if err != nil {
		return fmt.Errorf("request sync input pin %d: %w", e.offset, err)
	}
	e.line = line
	return nil
}

// Stop releases the line, which also stops edge detection.
func (e *EdgeInput) Stop() error {
	if e.line == nil {
		return nil
	}
	err := e.line.Close()
	e.line = nil
	if err != nil {
		return fmt.Errorf("close sync input pin %d: %w", e.offset, err)
	}
	return nil
}

// ReadLevel samples an input line once without edge detection.
func ReadLevel(chip string, offset int) (bool, error) {
	line, err := gpiocdev.RequestLine(chip, offset,
		gpiocdev.WithConsumer(Consumer), gpiocdev.AsInput, gpiocdev.WithPullDown)
	if err != nil {
		return false, fmt.Errorf("request pin %d: %w", offset, err)
	}
	defer line.Close()
	v, err := line.Value()
	if err != nil {
		return false, fmt.Errorf("read pin %d: %w", offset, err)
	}
	return v != 0, nil
}

// LineOutputs drives a set of output lines, indexed in request order.
type LineOutputs struct {
	chip  *gpiocdev.Chip
	lines []*gpiocdev.Line
}

// NewLineOutputs requests offsets as outputs, initially inactive.
func NewLineOutputs(chipName string, offsets []int) (*LineOutputs, error) {
	chip, err := gpiocdev.NewChip(chipName, gpiocdev.WithConsumer(Consumer))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	o := &LineOutputs{chip: chip}
	for _, offset := range offsets {
		line, err := chip.RequestLine(offset, gpiocdev.AsOutput(0))
		if err != nil {
			o.Close()
			return nil, fmt.Errorf("request output pin %d: %w", offset, err)
		}
		o.lines = append(o.lines, line)
	}
	return o, nil
}

// Set drives output line i active or inactive.
func (o *LineOutputs) Set(i int, active bool) error {
	if i < 0 || i >= len(o.lines) {
		return fmt.Errorf("output %d out of range", i)
	}
	return o.lines[i].SetValue(Level(active))
}

// Close drives the lines inactive and reverts them to inputs with pull-down
// (Pi boot defaults) so nothing downstream sees a stuck trigger.
func (o *LineOutputs) Close() error {
	var errs []error
	for _, line := range o.lines {
		if err := line.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("deassert pin %d: %w", line.Offset(), err))
		}
		if err := line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure pin %d: %w", line.Offset(), err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin %d: %w", line.Offset(), err))
		}
	}
	o.lines = nil
	if o.chip != nil {
		if err := o.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		o.chip = nil
	}
	return errors.Join(errs...)
}
