package status

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/EVParts/EVP15KVAGeneratorControl/internal/logic"
)

func f64(v float64) *float64 { return &v }

func runningState() logic.State {
	return logic.State{
		Mode:              logic.ModeOn,
		BatterySOC:        76.5,
		ChargeLimit:       100,
		DischargeLimit:    150,
		ACOutputCurrent:   f64(2.4),
		SwitchModeActual:  logic.SwitchOn,
		SwitchModeTarget:  logic.SwitchOn,
		BMSConnected:      true,
		InverterConnected: true,
		RelayStates: map[logic.Relay]int{
			logic.RelayOnLED:       1,
			logic.RelayOffLED:      0,
			logic.RelayRemoteStart: 1,
		},
	}
}

func TestNewTracker(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := Config{TickMs: 1000, Bus: "dbus", Broker: "tcp://localhost:1883", HTTPPort: ":8080"}
	tr := NewTracker(start, cfg)

	snap := tr.Snapshot()
	if !snap.StartTime.Equal(start) {
		t.Errorf("StartTime: got %v, want %v", snap.StartTime, start)
	}
	if snap.Config.TickMs != 1000 {
		t.Errorf("Config.TickMs: got %d, want 1000", snap.Config.TickMs)
	}
	if snap.Config.HTTPPort != ":8080" {
		t.Errorf("Config.HTTPPort: got %q, want %q", snap.Config.HTTPPort, ":8080")
	}
	if snap.Ready() {
		t.Error("expected Ready=false initially")
	}
	if snap.MQTTConnected {
		t.Error("expected MQTTConnected=false initially")
	}
}

func TestUpdateAndSnapshot(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	tr.Update(runningState(), logic.FaultNone, []logic.Event{
		{Type: logic.EventMode},
		{Type: logic.EventInverterCommand},
	})
	tr.Update(runningState(), logic.FaultInverter, []logic.Event{
		{Type: logic.EventFaultRaised},
		{Type: logic.EventMode},
	})

	snap := tr.Snapshot()
	if snap.State.Mode != logic.ModeOn {
		t.Errorf("Mode: got %v, want On", snap.State.Mode)
	}
	if snap.Fault != logic.FaultInverter {
		t.Errorf("Fault: got %q, want INVERTER", snap.Fault)
	}
	if !snap.Ready() || snap.Ticks != 2 {
		t.Errorf("Ticks: got %d, want 2", snap.Ticks)
	}
	want := EventCounts{ModeChanges: 2, Faults: 1, InverterCommands: 1}
	if snap.Counts != want {
		t.Errorf("Counts: got %+v, want %+v", snap.Counts, want)
	}
}

func TestSetMQTTConnected(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	tr.SetMQTTConnected(true)
	if !tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=true")
	}

	tr.SetMQTTConnected(false)
	if tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=false")
	}
}

func TestSnapshotUptime(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		StartTime: start,
		Now:       start.Add(15 * time.Minute),
	}

	if snap.Uptime() != 15*time.Minute {
		t.Errorf("Uptime: got %v, want 15m", snap.Uptime())
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	s := runningState()
	tr.Update(s, logic.FaultNone, nil)

	snap1 := tr.Snapshot()

	// Mutating the caller's state must not leak into the tracker.
	s.RelayStates[logic.RelayOnLED] = 0
	*s.ACOutputCurrent = -9
	// Nor may a snapshot alias the next one.
	snap1.State.RelayStates[logic.RelayOffLED] = 1

	snap2 := tr.Snapshot()
	if snap2.State.RelayStates[logic.RelayOnLED] != 1 {
		t.Error("tracker shares RelayStates with caller")
	}
	if *snap2.State.ACOutputCurrent != 2.4 {
		t.Error("tracker shares ACOutputCurrent with caller")
	}
	if snap2.State.RelayStates[logic.RelayOffLED] != 0 {
		t.Error("snapshots share RelayStates")
	}
}

func TestFormatJSON(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := runningState()
	s.ReversePowerCounter = 3
	s.LastCommand = start.Add(time.Minute)
	snap := Snapshot{
		State:         s,
		Ticks:         900,
		Counts:        EventCounts{ModeChanges: 5, InverterCommands: 2},
		StartTime:     start,
		Now:           start.Add(15 * time.Minute),
		MQTTConnected: true,
		Config:        Config{TickMs: 1000, HeartbeatMs: 900000, Bus: "dbus", Broker: "tcp://localhost:1883", HTTPPort: ":8080", Version: "v1.2.0"},
	}

	data := FormatJSON(snap)

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	st := parsed.Status
	if st.Mode != "On" {
		t.Errorf("Mode: got %q, want On", st.Mode)
	}
	if !st.Ready {
		t.Error("expected Ready=true")
	}
	if st.UptimeSeconds != 900 {
		t.Errorf("UptimeSeconds: got %d, want 900", st.UptimeSeconds)
	}
	if st.Version != "v1.2.0" {
		t.Errorf("Version: got %q", st.Version)
	}
	if st.Battery.SOC != 76.5 || !st.Battery.Connected {
		t.Errorf("Battery: got %+v", st.Battery)
	}
	if st.Inverter.ACOutputCurrent == nil || *st.Inverter.ACOutputCurrent != 2.4 {
		t.Errorf("Inverter.ACOutputCurrent: got %v", st.Inverter.ACOutputCurrent)
	}
	if st.Inverter.SwitchTarget != "ON" {
		t.Errorf("Inverter.SwitchTarget: got %q, want ON", st.Inverter.SwitchTarget)
	}
	if st.Inverter.LastCommand != "2026-01-01T00:01:00Z" {
		t.Errorf("Inverter.LastCommand: got %q", st.Inverter.LastCommand)
	}
	if st.ReversePower.Counter != 3 {
		t.Errorf("ReversePower.Counter: got %d, want 3", st.ReversePower.Counter)
	}
	if len(st.Relays) != 3 || st.Relays[0].ID != 2 || st.Relays[1].Name != "on_led" {
		t.Errorf("Relays: got %+v", st.Relays)
	}
	if !st.MQTT.Connected {
		t.Error("expected MQTT.Connected=true")
	}
	if st.Counts.ModeChanges != 5 {
		t.Errorf("Counts.ModeChanges: got %d, want 5", st.Counts.ModeChanges)
	}
	// Event, Reason and Fault should be omitted
	if st.Event != "" || st.Reason != "" || st.Fault != "" {
		t.Errorf("expected empty Event/Reason/Fault for web format, got %q/%q/%q", st.Event, st.Reason, st.Fault)
	}
}

func TestFormatJSONBeforeFirstTick(t *testing.T) {
	snap := Snapshot{
		StartTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Now:       time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
	}

	data := FormatJSON(snap)

	var raw map[string]map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	status := raw["status"]
	if status["mode"] != "UNKNOWN" {
		t.Errorf("mode: got %v, want UNKNOWN", status["mode"])
	}
	inverter := status["inverter"].(map[string]interface{})
	if inverter["ac_output_current"] != nil {
		t.Errorf("ac_output_current: got %v, want null", inverter["ac_output_current"])
	}
	if _, exists := inverter["last_command"]; exists {
		t.Error("last_command should be omitted before the first command")
	}
}

func TestFormatStatusEvent(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		State:     runningState(),
		Fault:     logic.FaultReversePower,
		Ticks:     1,
		StartTime: start,
		Now:       start.Add(15 * time.Minute),
		Config:    Config{Broker: "tcp://localhost:1883"},
	}

	data := FormatStatusEvent(snap, "HEARTBEAT", "")

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if parsed.Status.Event != "HEARTBEAT" {
		t.Errorf("Event: got %q, want HEARTBEAT", parsed.Status.Event)
	}
	if parsed.Status.Fault != "REVERSE_POWER" {
		t.Errorf("Fault: got %q, want REVERSE_POWER", parsed.Status.Fault)
	}
	if parsed.Status.UptimeSeconds != 900 {
		t.Errorf("UptimeSeconds: got %d, want 900", parsed.Status.UptimeSeconds)
	}
}

func TestFormatStatusEventShutdown(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{StartTime: start, Now: start.Add(30 * time.Minute)}

	data := FormatStatusEvent(snap, "SHUTDOWN", "SIGTERM")

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Status.Event != "SHUTDOWN" {
		t.Errorf("Event: got %q, want SHUTDOWN", parsed.Status.Event)
	}
	if parsed.Status.Reason != "SIGTERM" {
		t.Errorf("Reason: got %q, want SIGTERM", parsed.Status.Reason)
	}
}

func TestLine(t *testing.T) {
	p := logic.DefaultParams()

	line := Line(runningState(), logic.FaultNone, p)
	for _, want := range []string{"Mode: On", "SOC: 76.5%", "chg 100.0 A dis 150.0 A", "AC out: 2.4 A", "Switch: ON -> ON", "Reverse power: no (0/10)", "Settle: 0"} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
	if strings.Contains(line, "FAULT") || strings.Contains(line, "Off held") {
		t.Errorf("healthy line should not mention faults or hold: %q", line)
	}

	s := runningState()
	s.ACOutputCurrent = f64(-7)
	s.ReversePowerCounter = 10
	s.ReversePowerAlarm = true
	s.OffHoldCount = 4
	line = Line(s, logic.FaultReversePower, p)
	for _, want := range []string{"Reverse power: yes (10/10) ALARM", "FAULT: REVERSE_POWER", "Off held: 4"} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}

	s.ACOutputCurrent = nil
	if line = Line(s, logic.FaultInverter, p); !strings.Contains(line, "AC out: n/a") {
		t.Errorf("line %q should report missing AC current", line)
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	var wg sync.WaitGroup

	// Writer
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			s := runningState()
			s.ReversePowerCounter = i % 10
			tr.Update(s, logic.FaultNone, []logic.Event{{Type: logic.EventMode}})
			tr.SetMQTTConnected(i%2 == 0)
		}
	}()

	// Reader
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			snap := tr.Snapshot()
			_ = FormatJSON(snap)
		}
	}()

	wg.Wait()
}

func TestSnapshotStalled(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{StartTime: start, Now: start.Add(time.Minute)}
	if !snap.Stalled(10 * time.Second) {
		t.Error("a snapshot before the first tick should be stalled")
	}

	snap.Ticks = 1
	snap.LastTick = start.Add(55 * time.Second)
	if snap.Stalled(10 * time.Second) {
		t.Error("tick 5s ago should not be stalled")
	}
	snap.LastTick = start.Add(30 * time.Second)
	if !snap.Stalled(10 * time.Second) {
		t.Error("tick 30s ago should be stalled")
	}
}
