// Package mqtt publishes sync converter status to an MQTT broker, with an
// abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"
)

// TopicStatus carries status snapshots (heartbeat and reconfiguration).
const TopicStatus = "vrt/sync/rssync/status"

// TopicSystem carries lifecycle events.
const TopicSystem = "vrt/sync/rssync/system"

// Event names.
const (
	EventStartup      = "STARTUP"
	EventShutdown     = "SHUTDOWN"
	EventHeartbeat    = "HEARTBEAT"
	EventReconfigured = "RECONFIGURED"
	EventReconnected  = "RECONNECTED"
	EventLWT          = "LWT"
)

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends an event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event Event) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// Event is a status or lifecycle message.
type Event struct {
	Timestamp  time.Time
	Event      string // e.g. "STARTUP", "HEARTBEAT", "RECONFIGURED"
	Reason     string // e.g. "SIGTERM" (shutdown only)
	RawPayload []byte // pre-formatted JSON payload; if set, FormatPayload returns it directly
	Retained   bool   // whether the broker should retain the message
}

// Topic returns the topic an event is published on.
func (e Event) Topic() string {
	switch e.Event {
	case EventHeartbeat, EventReconfigured:
		return TopicStatus
	}
	return TopicSystem
}

// SystemPayload is the payload of events without a status snapshot
// (LWT, RECONNECTED).
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatPayload creates the JSON payload for an event.
// If event.RawPayload is set, it is returned directly.
func FormatPayload(event Event) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}
	return json.Marshal(SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	})
}

// willPayload is registered with the broker and published by it if the
// connection drops without a clean disconnect.
func willPayload() []byte {
	data, _ := json.Marshal(SystemPayload{
		System: SystemPayloadInner{Event: EventLWT, Reason: "connection lost"},
	})
	return data
}
