package gpio

import (
	"sync"

	"github.com/cwi-dis/vrt-sync/internal/regulator"
	"github.com/cwi-dis/vrt-sync/internal/timebase"
)

// LineWrite is one recorded output write.
type LineWrite struct {
	Line   int
	Active bool
}

// FakeOutputs is a test double recording output line writes.
type FakeOutputs struct {
	mu sync.Mutex

	// Levels holds the current level of each line.
	Levels []bool

	// Writes contains every write in order.
	Writes []LineWrite

	// SetError, if set, will be returned by Set.
	SetError error

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakeOutputs creates FakeOutputs with n inactive lines.
func NewFakeOutputs(n int) *FakeOutputs {
	return &FakeOutputs{Levels: make([]bool, n)}
}

// Set records the write.
func (f *FakeOutputs) Set(line int, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetError != nil {
		return f.SetError
	}
	f.Levels[line] = active
	f.Writes = append(f.Writes, LineWrite{Line: line, Active: active})
	return nil
}

// Level returns the current level of a line.
func (f *FakeOutputs) Level(line int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Levels[line]
}

// Close marks the outputs closed and drives all lines inactive.
func (f *FakeOutputs) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.Levels {
		f.Levels[i] = false
	}
	f.Closed = true
	return nil
}

// FakeSource is a trigger source fired by hand.
type FakeSource struct {
	mu sync.Mutex

	// SourceName is returned by Name.
	SourceName string

	// StartError, if set, will be returned by Start.
	StartError error

	fn      regulator.EdgeFunc
	Started bool
	Stopped bool
}

// NewFakeSource creates a FakeSource.
func NewFakeSource(name string) *FakeSource {
	return &FakeSource{SourceName: name}
}

// Name identifies the source.
func (f *FakeSource) Name() string { return f.SourceName }

// Start records fn for Fire.
func (f *FakeSource) Start(fn regulator.EdgeFunc) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StartError != nil {
		return f.StartError
	}
	f.fn = fn
	f.Started = true
	return nil
}

// Stop detaches the handler.
func (f *FakeSource) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fn = nil
	f.Stopped = true
	return nil
}

// Fire delivers an edge at ts. It reports false if the source is detached.
func (f *FakeSource) Fire(ts timebase.Micros) bool {
	f.mu.Lock()
	fn := f.fn
	f.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(ts)
	return true
}
