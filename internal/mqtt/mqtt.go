// Package mqtt publishes controller events and lifecycle messages, with an
// interface so the control loop can be tested without a broker.
package mqtt

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/EVParts/EVP15KVAGeneratorControl/internal/logic"
)

// DefaultTopicPrefix is the root of every topic this daemon publishes on.
const DefaultTopicPrefix = "energy/generator/control"

// Topics holds the resolved publish topics.
type Topics struct {
	Events string
	System string
}

// TopicsFor derives the event and system topics from a prefix.
func TopicsFor(prefix string) Topics {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{
		Events: prefix + "/events",
		System: prefix + "/system",
	}
}

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a controller event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event logic.Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "RESTART", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "RESTART_CHORD"
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Generator GeneratorPayload `json:"generator"`
}

// GeneratorPayload contains the controller event details.
type GeneratorPayload struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Mode      string `json:"mode"`
	Previous  string `json:"previous,omitempty"`
	Fault     string `json:"fault,omitempty"`
	Switch    string `json:"switch_mode,omitempty"`
}

// FormatPayload creates the JSON payload for a controller event.
func FormatPayload(event logic.Event) ([]byte, error) {
	p := GeneratorPayload{
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
		Event:     string(event.Type),
		Mode:      event.Mode.String(),
		Fault:     string(event.Fault),
	}
	if event.Type == logic.EventMode {
		p.Previous = event.Previous.String()
	}
	if event.Type == logic.EventInverterCommand {
		p.Switch = event.Switch.String()
	}
	return json.Marshal(Payload{Generator: p})
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp,omitempty"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	inner := SystemPayloadInner{
		Event:  event.Event,
		Reason: event.Reason,
	}
	if !event.Timestamp.IsZero() {
		inner.Timestamp = event.Timestamp.UTC().Format(time.RFC3339)
	}
	return json.Marshal(SystemPayload{System: inner})
}
