package logic

// Chords are the button combinations that trigger actions without changing mode.
type Chords struct {
	// RCDReset pulses the RCD reset relay for this tick.
	RCDReset bool
	// Restart asks the process to exit after the grace delay.
	Restart bool
}

// DetectChords evaluates the chord actions for a set of held buttons.
func DetectChords(b Buttons) Chords {
	return Chords{
		RCDReset: (b.Off && b.On && !b.Charge) || (b.Off && b.Charge && !b.On),
		Restart:  b.Off && b.On && b.Charge,
	}
}

// UpdateMode applies one tick of button input to the mode state machine.
// Only a single button pressed alone changes mode; every other combination
// leaves it untouched.
func UpdateMode(s *State, b Buttons, p Params) {
	if s.Mode == ModeUninitialized {
		s.Mode = DefaultMode
	}

	if b.Off {
		s.OffHoldCount++
	} else {
		s.OffHoldCount = 0
	}
	if s.OffHoldCount >= p.OffHoldTicks {
		s.BMSDisabled = true
	}

	switch {
	case b.Off && !b.On && !b.Charge:
		s.Mode = ModeOff
	case b.On && !b.Off && !b.Charge:
		s.Mode = ModeOn
		s.BMSDisabled = false
	case b.Charge && !b.Off && !b.On:
		s.Mode = ModeChargeOnly
		s.BMSDisabled = false
	}
}
