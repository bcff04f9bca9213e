// Package gpio provides digital input reading with hardware abstraction.
// Two real implementations exist: the Linux GPIO character device and the
// Venus OS digital input files. The fake implementation allows testing
// without hardware.
package gpio

// Reader reads the controller's digital inputs.
type Reader interface {
	// Read samples every input once. An error means the inputs are in an
	// unknown state and the caller should stop.
	Read() (Sample, error)

	// Close releases GPIO resources.
	Close() error
}

// Sample is one reading of all inputs, in logical form (true = pressed/lit).
type Sample struct {
	OffButton    bool
	OnButton     bool
	ChargeButton bool

	// LED and BMS wake feedback are sampled for visibility only.
	OffLED    bool
	OnLED     bool
	ChargeLED bool
	BMSWake   bool
}

// Pins maps each input to a line offset on the GPIO chip.
type Pins struct {
	OffButton    int `mapstructure:"off_button"`
	OnButton     int `mapstructure:"on_button"`
	ChargeButton int `mapstructure:"charge_button"`
	OffLED       int `mapstructure:"off_led"`
	OnLED        int `mapstructure:"on_led"`
	ChargeLED    int `mapstructure:"charge_led"`
	BMSWake      int `mapstructure:"bms_wake"`
}

// DefaultPins is the BCM wiring of the reference board.
var DefaultPins = Pins{
	OffButton:    5,
	OnButton:     6,
	ChargeButton: 13,
	OffLED:       19,
	OnLED:        26,
	ChargeLED:    16,
	BMSWake:      20,
}

func (p Pins) offsets() []int {
	return []int{p.OffButton, p.OnButton, p.ChargeButton, p.OffLED, p.OnLED, p.ChargeLED, p.BMSWake}
}

func sampleFrom(v [7]bool) Sample {
	return Sample{
		OffButton:    v[0],
		OnButton:     v[1],
		ChargeButton: v[2],
		OffLED:       v[3],
		OnLED:        v[4],
		ChargeLED:    v[5],
		BMSWake:      v[6],
	}
}
