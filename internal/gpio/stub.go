//go:build !linux

package gpio

import (
	"errors"
	"time"
)

// RealReader is not available on non-Linux platforms.
type RealReader struct{}

// ChipOptions mirrors the Linux options so callers compile everywhere.
type ChipOptions struct {
	ActiveLow bool
	Debounce  time.Duration
}

// NewRealReader returns an error on non-Linux platforms.
func NewRealReader(chipName string, pins Pins, opts ChipOptions) (*RealReader, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// Read is not implemented on non-Linux platforms.
func (r *RealReader) Read() (Sample, error) {
	return Sample{}, errors.New("gpio: not supported")
}

// Close is not implemented on non-Linux platforms.
func (r *RealReader) Close() error {
	return nil
}
