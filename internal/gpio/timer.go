package gpio

import (
	"fmt"
	"sync"
	"time"

	"github.com/cwi-dis/vrt-sync/internal/regulator"
	"github.com/cwi-dis/vrt-sync/internal/timebase"
)

// FreeRunTimer synthesizes edges at a fixed rate in its own goroutine, the
// stand-in for a hardware timer interrupt. Edges carry their scheduled time,
// not the time the goroutine woke up, so scheduling jitter never drifts the
// rate.
type FreeRunTimer struct {
	clock timebase.Clock
	fps   float64

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewFreeRunTimer creates a timer source for fps edges per second.
func NewFreeRunTimer(clock timebase.Clock, fps float64) *FreeRunTimer {
	return &FreeRunTimer{clock: clock, fps: fps}
}

// Name identifies the source.
func (f *FreeRunTimer) Name() string {
	return fmt.Sprintf("free-run %.3f fps", f.fps)
}

// Start launches the timer goroutine.
func (f *FreeRunTimer) Start(fn regulator.EdgeFunc) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stop != nil {
		return fmt.Errorf("%s: already started", f.Name())
	}
	if !(f.fps > 0) {
		return fmt.Errorf("%s: %w", f.Name(), regulator.ErrInvalidFPS)
	}
	f.stop = make(chan struct{})
	f.done = make(chan struct{})
	sched := regulator.NewFreeRun(f.fps, f.clock.Now())
	go f.run(sched, fn, f.stop, f.done)
	return nil
}

func (f *FreeRunTimer) run(sched regulator.FreeRun, fn regulator.EdgeFunc, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	timer := time.NewTimer(sched.Remaining(f.clock.Now()).Duration())
	defer timer.Stop()
	for {
		select {
		case <-stop:
			return
		case <-timer.C:
		}
		now := f.clock.Now()
		// Catch up on every edge due, each at its own scheduled time.
		for sched.Due(now) {
			fn(sched.Advance())
		}
		timer.Reset(sched.Remaining(now).Duration())
	}
}

// Stop halts the goroutine and waits for it, so no edge follows Stop.
func (f *FreeRunTimer) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stop == nil {
		return nil
	}
	close(f.stop)
	<-f.done
	f.stop, f.done = nil, nil
	return nil
}
