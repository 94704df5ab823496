// Command sync-detect reports the interval between rising edges of a sync
// signal on a GPIO input.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/cwi-dis/vrt-sync/internal/gpio"
	"github.com/cwi-dis/vrt-sync/internal/regulator"
	"github.com/cwi-dis/vrt-sync/internal/timebase"
)

func main() {
	chip := flag.String("chip", gpio.DefaultChip, "GPIO chip")
	pin := flag.Int("pin", gpio.DefaultPinSyncIn, "BCM pin number of the input")

	flag.Parse()

	if err := run(*chip, *pin); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(chip string, pin int) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	input := gpio.NewEdgeInput(chip, pin)
	edges := make(chan timebase.Micros, 64)
	err := input.Start(func(ts timebase.Micros) {
		select {
		case edges <- ts:
		default:
			// Reader is behind; the next interval will span the gap.
		}
	})
	if err != nil {
		return err
	}
	defer input.Stop()

	log.Printf("sync-detect: watching %s line %d", chip, pin)
	report(ctx, edges, os.Stdout)
	return nil
}

// report prints one line per edge with the interval since the previous one,
// until ctx is done or edges is closed.
func report(ctx context.Context, edges <-chan timebase.Micros, w io.Writer) {
	var tracker regulator.EdgeTracker
	for {
		select {
		case <-ctx.Done():
			return
		case ts, ok := <-edges:
			if !ok {
				return
			}
			period, ok := tracker.OnEdge(ts)
			if !ok {
				continue
			}
			fmt.Fprintf(w, "Last pulse length: %dus (%.3f fps)\n", period, tracker.Frequency(ts))
		}
	}
}
