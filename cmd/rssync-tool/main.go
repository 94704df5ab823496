// Command rssync-tool converts a RealSense or genlock sync signal into
// RealSense and genlock output pulses, optionally dividing the rate, or
// generates the pulses from a free-running timer.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cwi-dis/vrt-sync/internal/config"
	"github.com/cwi-dis/vrt-sync/internal/display"
	"github.com/cwi-dis/vrt-sync/internal/gpio"
	"github.com/cwi-dis/vrt-sync/internal/mqtt"
	"github.com/cwi-dis/vrt-sync/internal/regulator"
	"github.com/cwi-dis/vrt-sync/internal/status"
	"github.com/cwi-dis/vrt-sync/internal/timebase"
	"github.com/cwi-dis/vrt-sync/internal/web"
)

type options struct {
	configPath      string
	chip            string
	httpAddr        string
	broker          string
	clientID        string
	tick            time.Duration
	displayInterval time.Duration
	heartbeat       time.Duration
	printState      bool
}

func main() {
	var o options
	flag.StringVar(&o.configPath, "config", config.DefaultPath, "Settings file")
	flag.StringVar(&o.chip, "chip", "", "GPIO chip (overrides the settings file)")
	flag.StringVar(&o.httpAddr, "http", ":80", "HTTP status address (empty to disable)")
	flag.StringVar(&o.broker, "broker", "", "MQTT broker address (empty to disable)")
	flag.StringVar(&o.clientID, "client-id", "rssync-tool", "MQTT client ID")
	flag.DurationVar(&o.tick, "tick", 100*time.Microsecond, "Longest wait between output de-assert checks")
	flag.DurationVar(&o.displayInterval, "display", time.Second, "Display and status refresh interval (0 disables the display)")
	flag.DurationVar(&o.heartbeat, "heartbeat", time.Minute, "Heartbeat interval (0 to disable)")
	flag.BoolVar(&o.printState, "print-state", false, "Print settings and input level and exit")

	flag.Parse()

	if err := run(o); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(o options) error {
	if o.tick <= 0 {
		return fmt.Errorf("tick must be positive, got %v", o.tick)
	}
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	if o.chip != "" {
		cfg.Chip = o.chip
	}

	if o.printState {
		level, err := gpio.ReadLevel(cfg.Chip, cfg.InputPin)
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		s := cfg.Settings()
		fmt.Printf("source: %s, fps_free: %g, divider: %d, input: %s\n", s.Mode, s.FPSFree, s.Divider, levelString(level))
		return nil
	}

	lines, err := cfg.Lines()
	if err != nil {
		return err
	}
	outputs, err := gpio.NewLineOutputs(cfg.Chip, cfg.OutputPins())
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer func() {
		if err := outputs.Close(); err != nil {
			log.Printf("gpio close: %v", err)
		}
	}()

	clock := timebase.MonotonicClock{}
	reg := regulator.New(clock, outputs, lines, sourceFactory(clock, cfg.Chip, cfg.InputPin))
	defer func() {
		if err := reg.Close(); err != nil {
			log.Printf("regulator close: %v", err)
		}
	}()

	var publisher mqtt.Publisher = discardPublisher{}
	var mqttStatus mqtt.ConnectionStatus
	if o.broker != "" {
		p, err := mqtt.NewRealPublisher(o.broker, o.clientID)
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		publisher, mqttStatus = p, p
	}
	defer publisher.Close()

	tracker := newStatusTracker(o, cfg, reg)
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	ctl := newController(reg, cfg, o.configPath, publisher, tracker)
	if err := reg.Reconfigure(cfg.Settings()); err != nil {
		// The regulator stays up without a source; the form can fix it.
		log.Printf("initial configuration: %v", err)
	}
	tracker.Update(reg.Snapshot())

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	startup := mqtt.Event{
		Timestamp:  snap.Now,
		Event:      mqtt.EventStartup,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, mqtt.EventStartup, ""),
	}
	if err := publisher.Publish(startup); err != nil {
		log.Printf("failed to publish startup event: %v", err)
	}

	if o.httpAddr != "" {
		srv := web.New(o.httpAddr, tracker, ctl)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", o.httpAddr)
	}

	s := reg.Settings()
	log.Printf("started: source=%s fps_free=%g divider=%d tick=%v broker=%q", s.Mode, s.FPSFree, s.Divider, o.tick, o.broker)

	deassert := time.NewTimer(o.tick)
	defer deassert.Stop()

	// The refresh still runs without a display: it reports edge path errors
	// and overruns and tracks the MQTT connection.
	refreshEvery := o.displayInterval
	var disp display.Display
	if refreshEvery > 0 {
		disp = display.NewTerminal(os.Stdout)
	} else {
		refreshEvery = time.Second
	}
	refreshTicker := time.NewTicker(refreshEvery)
	defer refreshTicker.Stop()

	var heartbeat <-chan time.Time
	if o.heartbeat > 0 {
		t := time.NewTicker(o.heartbeat)
		defer t.Stop()
		heartbeat = t.C
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(loopDeps{
		reg:        reg,
		publisher:  publisher,
		mqttStatus: mqttStatus,
		tracker:    tracker,
		display:    disp,
		now:        time.Now,
		idle:       o.tick,
		wake:       func(d time.Duration) { deassert.Reset(d) },
	}, deassert.C, refreshTicker.C, heartbeat, sigCh)
}

// sourceFactory attaches the input line for external modes and the
// free-running timer otherwise.
func sourceFactory(clock timebase.Clock, chip string, inputPin int) regulator.SourceFactory {
	return func(s regulator.Settings) (regulator.Source, error) {
		if s.Mode.External() {
			return gpio.NewEdgeInput(chip, inputPin), nil
		}
		return gpio.NewFreeRunTimer(clock, s.FPSFree), nil
	}
}

// newStatusTracker creates the tracker read by the web server and the MQTT
// events. It reads the regulator on every snapshot.
func newStatusTracker(o options, cfg *config.Config, reg *regulator.Regulator) *status.Tracker {
	tracker := status.NewTracker(time.Now(), statusConfig(o, cfg))
	tracker.SetReportSource(reg.Snapshot)
	return tracker
}

func statusConfig(o options, cfg *config.Config) status.Config {
	sc := status.Config{
		TickUs:      o.tick.Microseconds(),
		HeartbeatMs: o.heartbeat.Milliseconds(),
		Broker:      o.broker,
		HTTPAddr:    o.httpAddr,
		ConfigPath:  o.configPath,
		Chip:        cfg.Chip,
		InputPin:    cfg.InputPin,
	}
	for _, out := range cfg.Outputs {
		sc.Outputs = append(sc.Outputs, status.OutputConfig{Name: out.Name, Pin: out.Pin, Width: out.Width})
	}
	return sc
}

type loopDeps struct {
	reg        *regulator.Regulator
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	tracker    *status.Tracker
	display    display.Display
	now        func() time.Time

	// idle is the longest wait between de-assert checks. wake, if set, arms
	// the next tick after d.
	idle time.Duration
	wake func(d time.Duration)
}

func runLoop(d loopDeps, tick, refresh, heartbeat <-chan time.Time, sig <-chan os.Signal) error {
	var lastErr error
	var errCount int
	var lastOverruns uint64

	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			d.refreshStatus()
			snap := d.tracker.Snapshot()
			event := mqtt.Event{
				Timestamp:  d.now(),
				Event:      mqtt.EventShutdown,
				Reason:     signalName,
				Retained:   true,
				RawPayload: status.FormatStatusEvent(snap, mqtt.EventShutdown, signalName),
			}
			if err := d.publisher.Publish(event); err != nil {
				log.Printf("failed to publish shutdown event: %v", err)
			} else {
				log.Printf("published shutdown event")
			}
			return nil

		case <-tick:
			if _, err := d.reg.Tick(); err != nil {
				lastErr = err
				errCount++
			}
			if err := d.reg.TakeError(); err != nil {
				lastErr = err
				errCount++
			}
			if d.wake != nil {
				d.wake(d.nextTick())
			}

		case <-refresh:
			rep := d.refreshStatus()
			if d.display != nil {
				if err := d.display.Show(frameFor(rep)); err != nil {
					log.Printf("display error: %v", err)
				}
			}
			// Edge path errors are reported here, once per refresh.
			if lastErr != nil {
				log.Printf("output errors: %d since last refresh, last: %v", errCount, lastErr)
				lastErr, errCount = nil, 0
			}
			if rep.Stats.Overruns > lastOverruns {
				log.Printf("overruns: %d new, pulse wider than output period", rep.Stats.Overruns-lastOverruns)
			}
			lastOverruns = rep.Stats.Overruns

		case <-heartbeat:
			// Refresh network info for heartbeat
			if net := readNetworkInfo(); net != nil {
				d.tracker.SetNetwork(net)
			}
			rep := d.refreshStatus()
			log.Printf("heartbeat: source=%s fps_in=%.2f fps_out=%.2f edges=%d pulses=%d",
				rep.Mode, rep.In.Hz, rep.Out.Hz, rep.Stats.Edges, rep.Stats.Pulses)
			snap := d.tracker.Snapshot()
			event := mqtt.Event{
				Timestamp:  snap.Now,
				Event:      mqtt.EventHeartbeat,
				RawPayload: status.FormatStatusEvent(snap, mqtt.EventHeartbeat, ""),
			}
			if err := d.publisher.Publish(event); err != nil {
				log.Printf("heartbeat publish error: %v", err)
			}
		}
	}
}

// nextTick returns how long to wait before the next de-assert check: until
// the earliest pending de-assert, at most idle.
func (d loopDeps) nextTick() time.Duration {
	next := d.idle
	if until, ok := d.reg.NextDeassert(); ok && until.Duration() < next {
		next = until.Duration()
	}
	return next
}

// refreshStatus copies the regulator state into the tracker.
func (d loopDeps) refreshStatus() regulator.Report {
	rep := d.reg.Snapshot()
	d.tracker.Update(rep)
	if d.mqttStatus != nil {
		d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
	}
	return rep
}

func frameFor(rep regulator.Report) display.Frame {
	return display.Frame{
		Source:  rep.Mode.String(),
		FPSIn:   rep.In.Hz,
		FPSOut:  rep.Out.Hz,
		Divider: rep.Divider.Divisor,
	}
}

// discardPublisher is used when no broker is configured.
type discardPublisher struct{}

func (discardPublisher) Publish(mqtt.Event) error { return nil }
func (discardPublisher) Close() error             { return nil }

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}

func levelString(high bool) string {
	if high {
		return "HIGH"
	}
	return "LOW"
}
