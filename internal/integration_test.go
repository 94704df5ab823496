package internal

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/cwi-dis/vrt-sync/internal/config"
	"github.com/cwi-dis/vrt-sync/internal/display"
	"github.com/cwi-dis/vrt-sync/internal/gpio"
	"github.com/cwi-dis/vrt-sync/internal/mqtt"
	"github.com/cwi-dis/vrt-sync/internal/regulator"
	"github.com/cwi-dis/vrt-sync/internal/status"
	"github.com/cwi-dis/vrt-sync/internal/timebase"
	"github.com/cwi-dis/vrt-sync/internal/web"
)

// system wires the regulator to fake hardware the way rssync-tool wires it
// to real hardware.
type system struct {
	t       *testing.T
	clock   *timebase.FakeClock
	outputs *gpio.FakeOutputs
	sources []*gpio.FakeSource
	reg     *regulator.Regulator
	cfg     *config.Config
	path    string
	tracker *status.Tracker
	pub     *mqtt.FakePublisher
}

func newSystem(t *testing.T, start timebase.Micros) *system {
	t.Helper()
	s := &system{
		t:       t,
		clock:   timebase.NewFakeClock(start),
		cfg:     config.Default(),
		path:    filepath.Join(t.TempDir(), "rssynctool.yaml"),
		tracker: status.NewTracker(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC), status.Config{Broker: "tcp://broker:1883"}),
		pub:     mqtt.NewFakePublisher(),
	}
	lines, err := s.cfg.Lines()
	if err != nil {
		t.Fatal(err)
	}
	s.outputs = gpio.NewFakeOutputs(len(lines))
	s.reg = regulator.New(s.clock, s.outputs, lines, func(rs regulator.Settings) (regulator.Source, error) {
		src := gpio.NewFakeSource(rs.Mode.String())
		s.sources = append(s.sources, src)
		return src, nil
	})
	t.Cleanup(func() { s.reg.Close() })
	return s
}

// Settings and Apply make the system a web.Configurer.
func (s *system) Settings() regulator.Settings {
	return s.reg.Settings()
}

func (s *system) Apply(rs regulator.Settings) error {
	if err := s.reg.Reconfigure(rs); err != nil {
		return err
	}
	s.cfg.SetSettings(rs)
	if err := s.cfg.Save(s.path); err != nil {
		return err
	}
	s.tracker.Update(s.reg.Snapshot())
	snap := s.tracker.Snapshot()
	return s.pub.Publish(mqtt.Event{
		Event:      mqtt.EventReconfigured,
		RawPayload: status.FormatStatusEvent(snap, mqtt.EventReconfigured, ""),
	})
}

func (s *system) source() *gpio.FakeSource {
	return s.sources[len(s.sources)-1]
}

// pulse fires an edge now, then polls every 100us for one period.
func (s *system) pulse(period timebase.Micros) {
	s.source().Fire(s.clock.Now())
	for elapsed := timebase.Micros(0); elapsed < period; elapsed += 100 {
		s.clock.Advance(100)
		if _, err := s.reg.Tick(); err != nil {
			s.t.Fatalf("tick: %v", err)
		}
	}
}

func (s *system) statusJSON() status.StatusInner {
	s.t.Helper()
	s.tracker.Update(s.reg.Snapshot())
	var sj status.StatusJSON
	if err := json.Unmarshal(status.FormatJSON(s.tracker.Snapshot()), &sj); err != nil {
		s.t.Fatalf("decode status: %v", err)
	}
	return sj.Status
}

// TestIntegrationRealSenseAcrossWrap converts a 30fps RealSense signal while
// the microsecond counter wraps.
func TestIntegrationRealSenseAcrossWrap(t *testing.T) {
	s := newSystem(t, 0xFFFFFFFF-100000)
	if err := s.Apply(regulator.Settings{Mode: regulator.ModeRealSense, FPSFree: 29.97, Divider: 1}); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 10; i++ {
		s.pulse(33300)
	}

	st := s.statusJSON()
	if st.SyncSource != "RealSense" || !st.SourceActive {
		t.Errorf("source: got %q active=%v", st.SyncSource, st.SourceActive)
	}
	if st.FPSIn != 30.03 || st.FPSOut != 30.03 {
		t.Errorf("fps: got in=%v out=%v, want 30.03", st.FPSIn, st.FPSOut)
	}
	// The first edge only sets the reference.
	want := status.CountsJSON{Edges: 10, Releases: 10, Pulses: 9}
	if diff := cmp.Diff(want, st.Counts); diff != "" {
		t.Errorf("counts (-want +got):\n%s", diff)
	}
	if s.outputs.Level(0) || s.outputs.Level(1) {
		t.Error("outputs should be low between pulses")
	}
}

// TestIntegrationPulseWidths checks the fixed and fractional output widths.
func TestIntegrationPulseWidths(t *testing.T) {
	s := newSystem(t, 5000)
	if err := s.Apply(regulator.Settings{Mode: regulator.ModeGenlock, FPSFree: 29.97, Divider: 1}); err != nil {
		t.Fatal(err)
	}
	s.pulse(30000)
	s.outputs.Writes = nil

	s.pulse(30000)

	// realsense is fixed 200us, genlock a third of the 30000us period; ticks
	// are 100us apart so each fall is observed on the tick it becomes due.
	type change struct {
		Line   int
		Active bool
	}
	var got []change
	for _, w := range s.outputs.Writes {
		got = append(got, change{w.Line, w.Active})
	}
	want := []change{{0, true}, {1, true}, {0, false}, {1, false}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("writes (-want +got):\n%s", diff)
	}
}

// TestIntegrationDivider releases every third edge.
func TestIntegrationDivider(t *testing.T) {
	s := newSystem(t, 0)
	if err := s.Apply(regulator.Settings{Mode: regulator.ModeGenlock, FPSFree: 29.97, Divider: 3}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 9; i++ {
		s.pulse(10000)
	}

	st := s.statusJSON()
	if st.FPSIn != 100 {
		t.Errorf("FPSIn: got %v, want 100", st.FPSIn)
	}
	if math.Abs(st.FPSOut-33.33) > 0.001 {
		t.Errorf("FPSOut: got %v, want 33.33", st.FPSOut)
	}
	if st.Counts.Releases != 3 || st.Counts.Pulses != 2 {
		t.Errorf("counts: got %+v", st.Counts)
	}
}

// TestIntegrationSignalLoss drops frequencies to 0 a second after the last
// edge and recovers when edges return.
func TestIntegrationSignalLoss(t *testing.T) {
	s := newSystem(t, 0)
	if err := s.Apply(regulator.Settings{Mode: regulator.ModeRealSense, FPSFree: 29.97, Divider: 1}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		s.pulse(40000)
	}
	if st := s.statusJSON(); st.FPSIn != 25 {
		t.Fatalf("FPSIn before loss: got %v, want 25", st.FPSIn)
	}

	s.clock.Advance(regulator.SignalLossWindow)
	s.reg.Tick()
	if st := s.statusJSON(); st.FPSIn != 0 || st.FPSOut != 0 {
		t.Errorf("after loss: got in=%v out=%v, want 0/0", st.FPSIn, st.FPSOut)
	}

	s.pulse(40000)
	s.pulse(40000)
	if st := s.statusJSON(); st.FPSIn != 25 {
		t.Errorf("FPSIn after recovery: got %v, want 25", st.FPSIn)
	}
}

// TestIntegrationWebReconfigure switches source through the web form.
func TestIntegrationWebReconfigure(t *testing.T) {
	s := newSystem(t, 0)
	if err := s.Apply(regulator.Settings{Mode: regulator.ModeRealSense, FPSFree: 29.97, Divider: 1}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		s.pulse(33333)
	}
	old := s.source()

	srv := web.New(":0", s.tracker, s)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/rssynctool?syncsource=2&divider=2")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}

	if !old.Stopped {
		t.Error("old source not stopped")
	}
	if old.Fire(s.clock.Now()) {
		t.Error("old source still attached")
	}
	st := s.statusJSON()
	if st.SyncSource != "Genlock" || st.Divider != 2 {
		t.Errorf("status: got source=%q divider=%d", st.SyncSource, st.Divider)
	}
	if st.Counts != (status.CountsJSON{}) || st.FPSIn != 0 {
		t.Errorf("state not reset: counts=%+v fps_in=%v", st.Counts, st.FPSIn)
	}

	loaded, err := config.Load(s.path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.SyncSource != 2 || loaded.Divider != 2 {
		t.Errorf("saved: got syncsource=%d divider=%d", loaded.SyncSource, loaded.Divider)
	}

	names := s.pub.EventNames()
	if names[len(names)-1] != mqtt.EventReconfigured {
		t.Errorf("last event: got %s, want RECONFIGURED", names[len(names)-1])
	}
}

// TestIntegrationWebRejectsInvalid leaves everything unchanged.
func TestIntegrationWebRejectsInvalid(t *testing.T) {
	s := newSystem(t, 0)
	if err := s.Apply(regulator.Settings{Mode: regulator.ModeRealSense, FPSFree: 29.97, Divider: 1}); err != nil {
		t.Fatal(err)
	}
	before := len(s.sources)
	events := len(s.pub.Events)

	srv := web.New(":0", s.tracker, s)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/rssynctool?syncsource=2&divider=0")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", resp.StatusCode)
	}
	if len(s.sources) != before || s.source().Stopped {
		t.Error("rejected request touched the source")
	}
	if s.Settings().Mode != regulator.ModeRealSense {
		t.Errorf("mode changed to %s", s.Settings().Mode)
	}
	if len(s.pub.Events) != events {
		t.Error("rejected request published an event")
	}
}

// TestIntegrationFreeModePulseTooWide rejects a fixed width that does not
// fit the free-running period.
func TestIntegrationFreeModePulseTooWide(t *testing.T) {
	s := newSystem(t, 0)
	err := s.Apply(regulator.Settings{Mode: regulator.ModeFree, FPSFree: 10000, Divider: 1})
	if !errors.Is(err, regulator.ErrPulseTooWide) {
		t.Fatalf("got %v, want ErrPulseTooWide", err)
	}
	if len(s.sources) != 0 {
		t.Error("source created for rejected settings")
	}
}

// TestIntegrationDisplayFrame renders the regulator state on the terminal display.
func TestIntegrationDisplayFrame(t *testing.T) {
	s := newSystem(t, 0)
	if err := s.Apply(regulator.Settings{Mode: regulator.ModeGenlock, FPSFree: 29.97, Divider: 2}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		s.pulse(20000)
	}
	rep := s.reg.Snapshot()
	frame := display.Frame{Source: rep.Mode.String(), FPSIn: rep.In.Hz, FPSOut: rep.Out.Hz, Divider: rep.Divider.Divisor}

	want := [3]string{"Genlock /2", "50.00 FPS", "25.00 FPS"}
	if got := frame.Lines(); got != want {
		t.Errorf("lines: got %q, want %q", got, want)
	}
}

// TestIntegrationStartupThenShutdown publishes lifecycle events with status.
func TestIntegrationStartupThenShutdown(t *testing.T) {
	s := newSystem(t, 0)
	s.tracker.SetNetwork(&status.NetworkInfo{Type: "ethernet", IP: "10.0.0.5", Status: "connected"})

	s.tracker.Update(s.reg.Snapshot())
	snap := s.tracker.Snapshot()
	s.pub.Publish(mqtt.Event{Event: mqtt.EventStartup, Retained: true, RawPayload: status.FormatStatusEvent(snap, mqtt.EventStartup, "")})
	s.pub.Publish(mqtt.Event{Event: mqtt.EventShutdown, Reason: "SIGTERM", Retained: true, RawPayload: status.FormatStatusEvent(snap, mqtt.EventShutdown, "SIGTERM")})

	if diff := cmp.Diff([]string{mqtt.EventStartup, mqtt.EventShutdown}, s.pub.EventNames()); diff != "" {
		t.Fatalf("events (-want +got):\n%s", diff)
	}
	var sj status.StatusJSON
	if err := json.Unmarshal(s.pub.Payloads[1], &sj); err != nil {
		t.Fatal(err)
	}
	if sj.Status.Event != mqtt.EventShutdown || sj.Status.Reason != "SIGTERM" {
		t.Errorf("shutdown payload: event=%q reason=%q", sj.Status.Event, sj.Status.Reason)
	}
	if sj.Status.Network == nil || sj.Status.Network.IP != "10.0.0.5" {
		t.Errorf("network: %+v", sj.Status.Network)
	}
	if sj.Status.MQTT.Broker != "tcp://broker:1883" {
		t.Errorf("broker: %q", sj.Status.MQTT.Broker)
	}
	if sj.Status.SourceActive {
		t.Error("no source configured yet")
	}
}
