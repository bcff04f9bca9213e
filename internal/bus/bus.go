// Package bus reads telemetry from and writes commands to the Victron
// service bus. Every value the controller touches is a Channel from a fixed,
// closed set; a failing channel reports an error and is reopened lazily on a
// later access.
package bus

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoValue means the channel exists but currently carries no valid value.
	ErrNoValue = errors.New("bus: no value")
	// ErrUnknownChannel means the channel is outside the closed set.
	ErrUnknownChannel = errors.New("bus: unknown channel")
	// ErrServiceMissing means the owning service is not on the bus.
	ErrServiceMissing = errors.New("bus: service not present")
)

// Bus is a synchronous, per-channel view of the service bus.
type Bus interface {
	// Read returns the current value of ch.
	Read(ch Channel) (float64, error)

	// Write sets ch to v.
	Write(ch Channel, v int) error

	// Close releases the connection.
	Close() error
}

// Channel identifies one value on the bus.
type Channel int

const (
	BatterySOC Channel = iota
	BatteryChargeLimit
	BatteryDischargeLimit
	ACOutputCurrent
	InverterSwitchMode
	Relay2
	Relay3
	Relay4
	Relay5
	Relay6
	Relay7
	Relay8
	Relay9
)

// Channels lists every channel in read order.
var Channels = []Channel{
	BatterySOC,
	BatteryChargeLimit,
	BatteryDischargeLimit,
	ACOutputCurrent,
	InverterSwitchMode,
	Relay2, Relay3, Relay4, Relay5, Relay6, Relay7, Relay8, Relay9,
}

const (
	firstRelayID = 2
	lastRelayID  = 9
)

// RelayChannel returns the channel for relay id 2..9.
func RelayChannel(id int) (Channel, error) {
	if id < firstRelayID || id > lastRelayID {
		return 0, fmt.Errorf("%w: relay %d", ErrUnknownChannel, id)
	}
	return Relay2 + Channel(id-firstRelayID), nil
}

// RelayID returns the relay number for a relay channel, or false.
func (c Channel) RelayID() (int, bool) {
	if c < Relay2 || c > Relay9 {
		return 0, false
	}
	return int(c-Relay2) + firstRelayID, true
}

func (c Channel) String() string {
	switch c {
	case BatterySOC:
		return "battery_soc"
	case BatteryChargeLimit:
		return "battery_charge_limit"
	case BatteryDischargeLimit:
		return "battery_discharge_limit"
	case ACOutputCurrent:
		return "ac_output_current"
	case InverterSwitchMode:
		return "inverter_switch_mode"
	}
	if id, ok := c.RelayID(); ok {
		return fmt.Sprintf("relay_%d", id)
	}
	return fmt.Sprintf("channel(%d)", int(c))
}

// Endpoint is where a channel lives: a service name and an object path.
type Endpoint struct {
	Service string
	Path    string
}

func (e Endpoint) String() string {
	return e.Service + " : " + e.Path
}

// Services names the bus services that own the channels.
type Services struct {
	System  string `mapstructure:"system"`
	Battery string `mapstructure:"battery"`
	VEBus   string `mapstructure:"vebus"`
}

// DefaultServices are the D-Bus names on a GX device with a CAN BMS and a
// VE.Bus inverter on ttyS2.
var DefaultServices = Services{
	System:  "com.victronenergy.system",
	Battery: "com.victronenergy.battery.socketcan_vecan0",
	VEBus:   "com.victronenergy.vebus.ttyS2",
}

// Endpoint resolves ch against the configured services.
func (s Services) Endpoint(ch Channel) (Endpoint, error) {
	switch ch {
	case BatterySOC:
		return Endpoint{s.System, "/Dc/Battery/Soc"}, nil
	case BatteryChargeLimit:
		return Endpoint{s.Battery, "/Info/MaxChargeCurrent"}, nil
	case BatteryDischargeLimit:
		return Endpoint{s.Battery, "/Info/MaxDischargeCurrent"}, nil
	case ACOutputCurrent:
		return Endpoint{s.VEBus, "/Ac/Out/L1/I"}, nil
	case InverterSwitchMode:
		return Endpoint{s.VEBus, "/Mode"}, nil
	}
	if id, ok := ch.RelayID(); ok {
		return Endpoint{s.System, fmt.Sprintf("/Relay/%d/State", id)}, nil
	}
	return Endpoint{}, fmt.Errorf("%w: %d", ErrUnknownChannel, int(ch))
}

// trimPath strips the leading slash for topic construction.
func trimPath(p string) string {
	return strings.TrimPrefix(p, "/")
}
