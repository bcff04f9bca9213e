package bus

import "fmt"

// FakeBus is an in-memory Bus for tests. Writes are echoed into Values
// unless the channel is listed in NoEcho.
type FakeBus struct {
	// Values holds the current value of every readable channel.
	// A missing channel reads as ErrNoValue.
	Values map[Channel]float64

	// ReadErrors and WriteErrors force a failure on a channel.
	ReadErrors  map[Channel]error
	WriteErrors map[Channel]error

	// NoEcho lists channels whose writes are not reflected in Values.
	NoEcho map[Channel]bool

	// Writes records every successful write in order.
	Writes []FakeWrite

	// Reads counts calls to Read.
	Reads int

	// Closed tracks if Close was called
	Closed bool
}

// FakeWrite is one recorded write.
type FakeWrite struct {
	Channel Channel
	Value   int
}

// NewFakeBus creates a FakeBus preloaded with values.
func NewFakeBus(values map[Channel]float64) *FakeBus {
	if values == nil {
		values = make(map[Channel]float64)
	}
	return &FakeBus{
		Values:      values,
		ReadErrors:  make(map[Channel]error),
		WriteErrors: make(map[Channel]error),
		NoEcho:      make(map[Channel]bool),
	}
}

// Read returns the scripted value of ch.
func (f *FakeBus) Read(ch Channel) (float64, error) {
	f.Reads++
	if err := f.ReadErrors[ch]; err != nil {
		return 0, err
	}
	v, ok := f.Values[ch]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNoValue, ch)
	}
	return v, nil
}

// Write records the write and echoes it.
func (f *FakeBus) Write(ch Channel, v int) error {
	if err := f.WriteErrors[ch]; err != nil {
		return err
	}
	f.Writes = append(f.Writes, FakeWrite{Channel: ch, Value: v})
	if !f.NoEcho[ch] {
		f.Values[ch] = float64(v)
	}
	return nil
}

// WritesTo returns the values written to ch, in order.
func (f *FakeBus) WritesTo(ch Channel) []int {
	var out []int
	for _, w := range f.Writes {
		if w.Channel == ch {
			out = append(out, w.Value)
		}
	}
	return out
}

// Close marks the bus as closed.
func (f *FakeBus) Close() error {
	f.Closed = true
	return nil
}
