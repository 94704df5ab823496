package status

import (
	"encoding/json"
	"fmt"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	SyncSource    string       `json:"sync_source"`
	SourceActive  bool         `json:"source_active"`
	FPSIn         float64      `json:"fps_in"`
	FPSOut        float64      `json:"fps_out"`
	FPSFree       float64      `json:"fps_free"`
	Divider       int          `json:"divider"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Counts        CountsJSON   `json:"counts"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of regulator statistics.
type CountsJSON struct {
	Edges        uint64 `json:"edges"`
	Releases     uint64 `json:"releases"`
	Pulses       uint64 `json:"pulses"`
	Overruns     uint64 `json:"overruns"`
	OutputErrors uint64 `json:"output_errors"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	TickUs      int64        `json:"tick_us"`
	HeartbeatMs int64        `json:"heartbeat_ms"`
	Broker      string       `json:"broker"`
	HTTPAddr    string       `json:"http_addr"`
	ConfigPath  string       `json:"config_path"`
	Chip        string       `json:"chip"`
	InputPin    int          `json:"input_pin"`
	Outputs     []OutputJSON `json:"outputs"`
}

// OutputJSON is one output line.
type OutputJSON struct {
	Name  string `json:"name"`
	Pin   int    `json:"pin"`
	Width string `json:"width"`
}

func buildInner(snap Snapshot) StatusInner {
	rep := snap.Regulator
	inner := StatusInner{
		SyncSource:    rep.Mode.String(),
		SourceActive:  rep.SourceActive,
		FPSIn:         round2(rep.In.Hz),
		FPSOut:        round2(rep.Out.Hz),
		FPSFree:       rep.FPSFree,
		Divider:       rep.Divider.Divisor,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Edges:        rep.Stats.Edges,
			Releases:     rep.Stats.Releases,
			Pulses:       rep.Stats.Pulses,
			Overruns:     rep.Stats.Overruns,
			OutputErrors: rep.Stats.OutputErrors,
		},
		Config: ConfigJSON{
			TickUs:      snap.Config.TickUs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			HTTPAddr:    snap.Config.HTTPAddr,
			ConfigPath:  snap.Config.ConfigPath,
			Chip:        snap.Config.Chip,
			InputPin:    snap.Config.InputPin,
			Outputs:     []OutputJSON{},
		},
	}
	for _, o := range snap.Config.Outputs {
		inner.Config.Outputs = append(inner.Config.Outputs, OutputJSON{Name: o.Name, Pin: o.Pin, Width: o.Width})
	}
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
	return inner
}

func round2(f float64) float64 {
	return float64(int64(f*100+0.5)) / 100
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}

// FormatText returns the one-paragraph human readable report.
func FormatText(snap Snapshot) string {
	rep := snap.Regulator
	return fmt.Sprintf("Current sync source: %s.\nCurrent incoming sync signal: %.2ffps.\nCurrent outgoing sync signal: %.2ffps.\n",
		rep.Mode, rep.In.Hz, rep.Out.Hz)
}
