// Package logic contains the pure control policy for the generator controller:
// mode selection, fault and reverse-power evaluation, and output sequencing.
// This package has NO external dependencies (no GPIO, bus, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import (
	"fmt"
	"time"
)

// Mode is the operator-selected operating state of the power system.
type Mode int

const (
	ModeUninitialized Mode = iota
	ModeOff
	ModeOn
	ModeChargeOnly
)

// DefaultMode is assumed on the first tick.
const DefaultMode = ModeOff

func (m Mode) String() string {
	switch m {
	case ModeOff:
		return "Off"
	case ModeOn:
		return "On"
	case ModeChargeOnly:
		return "ChargeOnly"
	case ModeUninitialized:
		return "Uninitialized"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// Valid reports whether m is one of Off, On or ChargeOnly.
func (m Mode) Valid() bool {
	return m == ModeOff || m == ModeOn || m == ModeChargeOnly
}

// SwitchMode is the inverter switch position code as exposed by the inverter.
type SwitchMode int

const (
	SwitchUnknown    SwitchMode = 0
	SwitchChargeOnly SwitchMode = 1
	SwitchInvertOnly SwitchMode = 2
	SwitchOn         SwitchMode = 3
	SwitchOff        SwitchMode = 4
)

func (s SwitchMode) String() string {
	switch s {
	case SwitchChargeOnly:
		return "CHARGE_ONLY"
	case SwitchInvertOnly:
		return "INVERT_ONLY"
	case SwitchOn:
		return "ON"
	case SwitchOff:
		return "OFF"
	}
	return fmt.Sprintf("UNKNOWN(%d)", int(s))
}

// Relay identifies one of the controller's relay outputs.
type Relay int

const (
	RelayOffLED       Relay = 2
	RelayOnLED        Relay = 3
	RelayChargeLED    Relay = 4
	RelayBMSWake      Relay = 5
	RelayRemoteStart  Relay = 6
	RelayModeRequest  Relay = 7
	RelayRCDReset     Relay = 8
	RelayReversePower Relay = 9
)

// Relays lists every relay in write order.
var Relays = []Relay{
	RelayOffLED,
	RelayOnLED,
	RelayChargeLED,
	RelayBMSWake,
	RelayRemoteStart,
	RelayModeRequest,
	RelayRCDReset,
	RelayReversePower,
}

func (r Relay) String() string {
	switch r {
	case RelayOffLED:
		return "off_led"
	case RelayOnLED:
		return "on_led"
	case RelayChargeLED:
		return "charge_led"
	case RelayBMSWake:
		return "bms_wake"
	case RelayRemoteStart:
		return "remote_start"
	case RelayModeRequest:
		return "mode_request"
	case RelayRCDReset:
		return "rcd_reset"
	case RelayReversePower:
		return "reverse_power_alarm"
	}
	return fmt.Sprintf("relay_%d", int(r))
}

// Buttons holds the debounced front-panel button states for one tick.
type Buttons struct {
	Off    bool
	On     bool
	Charge bool
}

// Telemetry is one tick's worth of bus readings. A nil field means the value
// could not be read (link down).
type Telemetry struct {
	SOC             *float64
	ChargeLimit     *float64
	DischargeLimit  *float64
	ACOutputCurrent *float64
	SwitchMode      *SwitchMode
	// Relays holds the readable relay states only; a missing key is unknown.
	Relays map[Relay]int
}

// Input is everything the controller consumes on one tick.
type Input struct {
	Buttons   Buttons
	Telemetry Telemetry
	Time      time.Time
}

// Params holds the fixed thresholds of the control policy.
type Params struct {
	// OffHoldTicks is how long Off must be held to latch BMS disable.
	OffHoldTicks int
	// LowSOC is the SOC (%) below which BMS wake is dropped while Off.
	LowSOC float64
	// ReverseCurrent is the AC output current (A) below which reverse power is detected.
	ReverseCurrent float64
	// ReversePowerTicks is the hysteresis counter ceiling.
	ReversePowerTicks int
	// SettleTicks is the quiet period after contactor closure.
	SettleTicks int
	// CommandInterval is the minimum time between inverter switch commands.
	CommandInterval time.Duration
	// RestartGraceTicks is the delay before a requested restart exits.
	RestartGraceTicks int
}

// DefaultParams returns the thresholds for a 1 second tick.
func DefaultParams() Params {
	return Params{
		OffHoldTicks:      10,
		LowSOC:            50,
		ReverseCurrent:    -5,
		ReversePowerTicks: 10,
		SettleTicks:       10,
		CommandInterval:   5 * time.Second,
		RestartGraceTicks: 5,
	}
}

// State is the controller's single mutable aggregate. It is owned by the
// control loop and mutated in place once per tick.
type State struct {
	Mode         Mode
	BMSDisabled  bool
	OffHoldCount int

	BatterySOC     float64
	ChargeLimit    float64
	DischargeLimit float64
	// ACOutputCurrent is nil while the inverter link is down.
	ACOutputCurrent *float64

	SwitchModeActual SwitchMode
	SwitchModeTarget SwitchMode

	ReversePowerCounter int
	ReversePowerAlarm   bool

	BMSConnected      bool
	InverterConnected bool

	RelayStates map[Relay]int

	SettleDelay int
	// LastCommand is zero until the first inverter command.
	LastCommand time.Time

	// OffToggle is the blink phase of the Off indicator while faulted.
	OffToggle bool
}

// Clone returns a deep copy safe to hand to other goroutines.
func (s State) Clone() State {
	c := s
	if s.ACOutputCurrent != nil {
		v := *s.ACOutputCurrent
		c.ACOutputCurrent = &v
	}
	c.RelayStates = make(map[Relay]int, len(s.RelayStates))
	for k, v := range s.RelayStates {
		c.RelayStates[k] = v
	}
	return c
}

// RelayWrite is a relay command the sequencer decided to issue.
type RelayWrite struct {
	Relay Relay
	Value int
}

// EventType names a notable transition.
type EventType string

const (
	EventMode                EventType = "MODE"
	EventFaultRaised         EventType = "FAULT_RAISED"
	EventFaultCleared        EventType = "FAULT_CLEARED"
	EventReversePowerAlarm   EventType = "REVERSE_POWER_ALARM"
	EventReversePowerCleared EventType = "REVERSE_POWER_CLEARED"
	EventBMSDisabled         EventType = "BMS_DISABLED"
	EventInverterCommand     EventType = "INVERTER_COMMAND"
	EventRestartRequested    EventType = "RESTART_REQUESTED"
)

// Event describes a transition to be published.
type Event struct {
	Timestamp time.Time
	Type      EventType
	Mode      Mode
	Previous  Mode
	Fault     FaultReason
	// Switch is the commanded switch mode for EventInverterCommand.
	Switch SwitchMode
}
