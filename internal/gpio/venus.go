package gpio

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultVenusDir is where Venus OS exposes its digital inputs.
const DefaultVenusDir = "/dev/gpio"

// VenusInputs names the digital_input_<name> entry for each input.
type VenusInputs struct {
	OffButton    string `mapstructure:"off_button"`
	OnButton     string `mapstructure:"on_button"`
	ChargeButton string `mapstructure:"charge_button"`
	OffLED       string `mapstructure:"off_led"`
	OnLED        string `mapstructure:"on_led"`
	ChargeLED    string `mapstructure:"charge_led"`
	BMSWake      string `mapstructure:"bms_wake"`
}

// DefaultVenusInputs is the wiring on the GX device's digital input header.
var DefaultVenusInputs = VenusInputs{
	OffButton:    "5",
	OnButton:     "6",
	ChargeButton: "7",
	OffLED:       "8",
	OnLED:        "9",
	ChargeLED:    "a",
	BMSWake:      "b",
}

func (v VenusInputs) names() [7]string {
	return [7]string{v.OffButton, v.OnButton, v.ChargeButton, v.OffLED, v.OnLED, v.ChargeLED, v.BMSWake}
}

// VenusReader reads Venus OS digital inputs from <dir>/digital_input_<name>/value.
type VenusReader struct {
	paths [7]string
}

// NewVenusReader checks that every input file exists.
func NewVenusReader(dir string, inputs VenusInputs) (*VenusReader, error) {
	r := &VenusReader{}
	for i, name := range inputs.names() {
		p := filepath.Join(dir, "digital_input_"+name, "value")
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("digital input %s: %w", name, err)
		}
		r.paths[i] = p
	}
	return r, nil
}

// Read samples every input file. A value of "1" is active.
func (r *VenusReader) Read() (Sample, error) {
	var v [7]bool
	for i, p := range r.paths {
		b, err := os.ReadFile(p)
		if err != nil {
			return Sample{}, fmt.Errorf("read %s: %w", p, err)
		}
		v[i] = strings.TrimSpace(string(b)) == "1"
	}
	return sampleFrom(v), nil
}

// Close is a no-op; files are opened per read.
func (r *VenusReader) Close() error {
	return nil
}
