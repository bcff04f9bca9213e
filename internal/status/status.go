// Package status provides a thread-safe status tracker for the generator-control daemon.
// The control loop writes it once per tick; HTTP handlers and MQTT heartbeats read it.
package status

import (
	"sync"
	"time"

	"github.com/EVParts/EVP15KVAGeneratorControl/internal/logic"
)

// Config contains daemon configuration for display.
type Config struct {
	TickMs      int64
	HeartbeatMs int64
	Bus         string
	Broker      string
	HTTPPort    string
	Version     string
}

// EventCounts tallies published transitions since start.
type EventCounts struct {
	ModeChanges        int
	Faults             int
	ReversePowerAlarms int
	InverterCommands   int
}

// Add counts the events of one tick.
func (c *EventCounts) Add(events []logic.Event) {
	for _, e := range events {
		switch e.Type {
		case logic.EventMode:
			c.ModeChanges++
		case logic.EventFaultRaised:
			c.Faults++
		case logic.EventReversePowerAlarm:
			c.ReversePowerAlarms++
		case logic.EventInverterCommand:
			c.InverterCommands++
		}
	}
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type; the State inside is a deep copy.
type Snapshot struct {
	State         logic.State
	Fault         logic.FaultReason
	Ticks         uint64
	LastTick      time.Time
	Counts        EventCounts
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Ready reports whether at least one tick has completed.
func (s Snapshot) Ready() bool {
	return s.Ticks > 0
}

// Stalled reports whether the control loop has not completed a tick
// within limit.
func (s Snapshot) Stalled(limit time.Duration) bool {
	return !s.Ready() || s.Now.Sub(s.LastTick) > limit
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
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

// Update records the controller state after a tick and counts its events.
func (t *Tracker) Update(state logic.State, fault logic.FaultReason, events []logic.Event) {
	state = state.Clone()
	t.mu.Lock()
	t.snap.State = state
	t.snap.Fault = fault
	t.snap.Ticks++
	t.snap.LastTick = time.Now()
	t.snap.Counts.Add(events)
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.State = t.snap.State.Clone()
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
