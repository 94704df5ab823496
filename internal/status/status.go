// Package status provides a thread-safe status tracker for the sync converter.
// It is read by the HTTP handlers, the MQTT heartbeat and the display.
package status

import (
	"sync"
	"time"

	"github.com/cwi-dis/vrt-sync/internal/regulator"
)

// NetworkInfo contains network state written by pi-helper.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	TickUs      int64
	HeartbeatMs int64
	Broker      string
	HTTPAddr    string
	ConfigPath  string
	Chip        string
	InputPin    int
	Outputs     []OutputConfig
}

// OutputConfig describes one output line for display.
type OutputConfig struct {
	Name  string
	Pin   int
	Width string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Regulator     regulator.Report
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu     sync.RWMutex
	snap   Snapshot
	report func() regulator.Report
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// SetReportSource makes every Snapshot read the regulator report from fn, so
// readers see signal loss as soon as it happens. Without a source, Snapshot
// returns the report last passed to Update.
func (t *Tracker) SetReportSource(fn func() regulator.Report) {
	t.mu.Lock()
	t.report = fn
	t.mu.Unlock()
}

// Update stores the latest regulator report.
// Called from runLoop on every display refresh and after reconfiguration.
func (t *Tracker) Update(rep regulator.Report) {
	t.mu.Lock()
	t.snap.Regulator = rep
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	report := t.report
	t.mu.RUnlock()
	if report != nil {
		s.Regulator = report()
	}
	s.Now = time.Now()
	return s
}
