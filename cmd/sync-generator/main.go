// Command sync-generator drives a square-wave sync signal on one GPIO line at
// a fixed rate and duty cycle.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/cwi-dis/vrt-sync/internal/gpio"
	"github.com/cwi-dis/vrt-sync/internal/regulator"
	"github.com/cwi-dis/vrt-sync/internal/timebase"
	"github.com/cwi-dis/vrt-sync/internal/waveform"
)

func main() {
	chip := flag.String("chip", gpio.DefaultChip, "GPIO chip")
	pin := flag.Int("pin", gpio.DefaultPinSyncGenlock, "BCM pin number of the output")
	fps := flag.Float64("fps", waveform.DefaultFPS, "Output rate")
	duty := flag.Float64("duty", waveform.DefaultDuty, "Fraction of the period the output is high")
	stats := flag.Duration("stats", 10*time.Second, "Statistics log interval (0 to disable)")

	flag.Parse()

	if err := run(*chip, *pin, *fps, *duty, *stats); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(chip string, pin int, fps, duty float64, stats time.Duration) error {
	tm, err := waveform.NewTimings(fps, duty)
	if err != nil {
		return err
	}

	outputs, err := gpio.NewLineOutputs(chip, []int{pin})
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer func() {
		if err := outputs.Close(); err != nil {
			log.Printf("gpio close: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("sync-generator: fps=%g duty=%g %s pin=%d", fps, duty, tm, pin)

	clock := timebase.MonotonicClock{}
	gen := waveform.New(tm, clock.Now())

	var statsC <-chan time.Time
	if stats > 0 {
		t := time.NewTicker(stats)
		defer t.Stop()
		statsC = t.C
	}
	return generate(ctx, gen, clock, outputs, statsC)
}

// generate flips the output on schedule until ctx is done.
func generate(ctx context.Context, gen *waveform.Generator, clock timebase.Clock, out regulator.Outputs, stats <-chan time.Time) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("stopping after %d flips", gen.Flips())
			return out.Set(0, false)

		case <-stats:
			log.Printf("flips=%d slips=%d", gen.Flips(), gen.Slips())

		case <-timer.C:
			now := clock.Now()
			if gen.Step(now) {
				if err := out.Set(0, gen.High()); err != nil {
					return fmt.Errorf("set output: %w", err)
				}
			}
			timer.Reset(gen.Remaining(clock.Now()).Duration())
		}
	}
}
