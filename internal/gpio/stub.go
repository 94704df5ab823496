//go:build !linux

package gpio

import (
	"errors"

	"github.com/cwi-dis/vrt-sync/internal/regulator"
)

var errUnsupported = errors.New("gpio: not supported on this platform (requires Linux)")

// EdgeInput is not available on non-Linux platforms.
type EdgeInput struct{}

// NewEdgeInput returns an input that fails to start.
func NewEdgeInput(chip string, offset int) *EdgeInput {
	return &EdgeInput{}
}

// Name identifies the source.
func (e *EdgeInput) Name() string { return "edge (unsupported)" }

// Start always fails on non-Linux platforms.
func (e *EdgeInput) Start(fn regulator.EdgeFunc) error { return errUnsupported }

// Stop is a no-op.
func (e *EdgeInput) Stop() error { return nil }

// ReadLevel always fails on non-Linux platforms.
func ReadLevel(chip string, offset int) (bool, error) { return false, errUnsupported }

// LineOutputs is not available on non-Linux platforms.
type LineOutputs struct{}

// NewLineOutputs returns an error on non-Linux platforms.
func NewLineOutputs(chipName string, offsets []int) (*LineOutputs, error) {
	return nil, errUnsupported
}

// Set is not implemented on non-Linux platforms.
func (o *LineOutputs) Set(i int, active bool) error { return errUnsupported }

// Close is a no-op.
func (o *LineOutputs) Close() error { return nil }
