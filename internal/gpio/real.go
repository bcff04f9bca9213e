//go:build linux

package gpio

import (
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// RealReader reads inputs from the Linux GPIO character device.
type RealReader struct {
	chip  *gpiocdev.Chip
	lines *gpiocdev.Lines
}

// ChipOptions tunes how the input lines are requested.
type ChipOptions struct {
	// ActiveLow inverts every line: raw 0 = pressed/lit.
	ActiveLow bool
	// Debounce enables kernel debouncing when nonzero.
	Debounce time.Duration
}

// NewRealReader requests the given pins on chipName as inputs.
func NewRealReader(chipName string, pins Pins, opts ChipOptions) (*RealReader, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	// Pull-down matches Pi boot defaults so external optocoupler modules see
	// the same levels before and after the daemon starts.
	reqOpts := []gpiocdev.LineReqOption{gpiocdev.AsInput, gpiocdev.WithPullDown}
	if opts.ActiveLow {
		reqOpts = append(reqOpts, gpiocdev.AsActiveLow)
	}
	if opts.Debounce > 0 {
		reqOpts = append(reqOpts, gpiocdev.WithDebounce(opts.Debounce))
	}

	lines, err := chip.RequestLines(pins.offsets(), reqOpts...)
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request input pins %v: %w", pins.offsets(), err)
	}

	return &RealReader{
		chip:  chip,
		lines: lines,
	}, nil
}

// Read samples all inputs in a single request.
func (r *RealReader) Read() (Sample, error) {
	raw := make([]int, 7)
	if err := r.lines.Values(raw); err != nil {
		return Sample{}, fmt.Errorf("read input pins: %w", err)
	}
	var v [7]bool
	for i, x := range raw {
		v[i] = x != 0
	}
	return sampleFrom(v), nil
}

// Close releases GPIO resources.
// Reconfigures pins to input with pull-down (matching Pi boot defaults) before
// closing to ensure clean state for system shutdown/reboot.
func (r *RealReader) Close() error {
	var errs []error

	if r.lines != nil {
		if err := r.lines.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure pins: %w", err))
		}
		if err := r.lines.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pins: %w", err))
		}
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
