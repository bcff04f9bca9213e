package status

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/EVParts/EVP15KVAGeneratorControl/internal/logic"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string           `json:"event,omitempty"`
	Reason        string           `json:"reason,omitempty"`
	Mode          string           `json:"mode"`
	Fault         string           `json:"fault,omitempty"`
	Ready         bool             `json:"ready"`
	Ticks         uint64           `json:"ticks"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	StartTime     string           `json:"start_time"`
	Timestamp     string           `json:"timestamp"`
	Version       string           `json:"version,omitempty"`
	Battery       BatteryJSON      `json:"battery"`
	Inverter      InverterJSON     `json:"inverter"`
	ReversePower  ReversePowerJSON `json:"reverse_power"`
	Relays        []RelayJSON      `json:"relays"`
	MQTT          MQTTStatus       `json:"mqtt"`
	Counts        CountsJSON       `json:"event_counts"`
	Config        ConfigJSON       `json:"config"`
}

// BatteryJSON reports what the BMS last told us.
type BatteryJSON struct {
	Connected      bool    `json:"connected"`
	SOC            float64 `json:"soc"`
	ChargeLimit    float64 `json:"charge_limit"`
	DischargeLimit float64 `json:"discharge_limit"`
	WakeDisabled   bool    `json:"wake_disabled"`
	OffHoldTicks   int     `json:"off_hold_ticks"`
}

// InverterJSON reports inverter link and switch state.
type InverterJSON struct {
	Connected       bool     `json:"connected"`
	ACOutputCurrent *float64 `json:"ac_output_current"`
	SwitchActual    string   `json:"switch_actual"`
	SwitchTarget    string   `json:"switch_target"`
	SettleDelay     int      `json:"settle_delay"`
	LastCommand     string   `json:"last_command,omitempty"`
}

// ReversePowerJSON reports the hysteresis counter and alarm latch.
type ReversePowerJSON struct {
	Counter int  `json:"counter"`
	Alarm   bool `json:"alarm"`
}

// RelayJSON is one known relay state.
type RelayJSON struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	State int    `json:"state"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	ModeChanges        int `json:"mode_changes"`
	Faults             int `json:"faults"`
	ReversePowerAlarms int `json:"reverse_power_alarms"`
	InverterCommands   int `json:"inverter_commands"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	TickMs      int64  `json:"tick_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Bus         string `json:"bus"`
	Broker      string `json:"broker"`
	HTTPPort    string `json:"http_port"`
}

// Relays lists the known relay states ordered by id.
func Relays(states map[logic.Relay]int) []RelayJSON {
	out := make([]RelayJSON, 0, len(states))
	for r, v := range states {
		out = append(out, RelayJSON{ID: int(r), Name: r.String(), State: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func buildInner(snap Snapshot) StatusInner {
	s := snap.State
	mode := s.Mode.String()
	if !snap.Ready() {
		mode = "UNKNOWN"
	}

	inner := StatusInner{
		Mode:          mode,
		Fault:         string(snap.Fault),
		Ready:         snap.Ready(),
		Ticks:         snap.Ticks,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		Version:       snap.Config.Version,
		Battery: BatteryJSON{
			Connected:      s.BMSConnected,
			SOC:            s.BatterySOC,
			ChargeLimit:    s.ChargeLimit,
			DischargeLimit: s.DischargeLimit,
			WakeDisabled:   s.BMSDisabled,
			OffHoldTicks:   s.OffHoldCount,
		},
		Inverter: InverterJSON{
			Connected:       s.InverterConnected,
			ACOutputCurrent: s.ACOutputCurrent,
			SwitchActual:    s.SwitchModeActual.String(),
			SwitchTarget:    s.SwitchModeTarget.String(),
			SettleDelay:     s.SettleDelay,
		},
		ReversePower: ReversePowerJSON{
			Counter: s.ReversePowerCounter,
			Alarm:   s.ReversePowerAlarm,
		},
		Relays: Relays(s.RelayStates),
		MQTT:   MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			ModeChanges:        snap.Counts.ModeChanges,
			Faults:             snap.Counts.Faults,
			ReversePowerAlarms: snap.Counts.ReversePowerAlarms,
			InverterCommands:   snap.Counts.InverterCommands,
		},
		Config: ConfigJSON{
			TickMs:      snap.Config.TickMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Bus:         snap.Config.Bus,
			Broker:      snap.Config.Broker,
			HTTPPort:    snap.Config.HTTPPort,
		},
	}
	if !s.LastCommand.IsZero() {
		inner.Inverter.LastCommand = s.LastCommand.UTC().Format(time.RFC3339)
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
