package logic

// Derived output predicates. All are pure functions of the current state and
// are recomputed every tick.

func OffLED(s State) bool    { return s.Mode == ModeOff }
func OnLED(s State) bool     { return s.Mode == ModeOn }
func ChargeLED(s State) bool { return s.Mode == ModeChargeOnly }

// BMSWake is asserted in every mode except Off with a low or disabled battery.
func BMSWake(s State, p Params) bool {
	return !(s.Mode == ModeOff && (s.BatterySOC < p.LowSOC || s.BMSDisabled))
}

// RemoteStart asks the generator to run; only in On.
func RemoteStart(s State) bool { return s.Mode == ModeOn }

// ModeRequest is asserted in On and ChargeOnly.
func ModeRequest(s State) bool { return s.Mode == ModeOn || s.Mode == ModeChargeOnly }

var switchModeForMode = map[Mode]SwitchMode{
	ModeOff:        SwitchOff,
	ModeOn:         SwitchOn,
	ModeChargeOnly: SwitchChargeOnly,
	// SwitchInvertOnly has no mode mapped to it yet.
}

// SwitchTarget is the inverter switch mode the controller wants. A set
// reverse-power alarm forces the inverter off regardless of mode.
func SwitchTarget(s State) SwitchMode {
	if s.ReversePowerAlarm {
		return SwitchOff
	}
	if m, ok := switchModeForMode[s.Mode]; ok {
		return m
	}
	return SwitchUnknown
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
