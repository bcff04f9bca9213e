package logic

import "math"

// FaultReason names the first condition that makes the controller faulted.
type FaultReason string

const (
	FaultNone         FaultReason = ""
	FaultMode         FaultReason = "MODE"
	FaultBMS          FaultReason = "BMS"
	FaultInverter     FaultReason = "INVERTER"
	FaultReversePower FaultReason = "REVERSE_POWER"
)

// Fault evaluates the fault predicate. It is recomputed every tick and has no
// state of its own.
func Fault(s State) FaultReason {
	switch {
	case !s.Mode.Valid():
		return FaultMode
	case !s.BMSConnected:
		return FaultBMS
	case s.Mode != ModeOff && !s.InverterConnected:
		return FaultInverter
	case s.Mode != ModeOff && s.ReversePowerAlarm:
		return FaultReversePower
	}
	return FaultNone
}

// ApplyTelemetry copies a tick's readings into s, dropping missing values to
// their safe defaults and recomputing link health.
func ApplyTelemetry(s *State, t Telemetry) {
	s.BMSConnected = t.SOC != nil && t.ChargeLimit != nil && t.DischargeLimit != nil
	s.BatterySOC = valueOr(t.SOC, 0)
	s.ChargeLimit = round1(valueOr(t.ChargeLimit, 0))
	s.DischargeLimit = round1(valueOr(t.DischargeLimit, 0))

	if t.ACOutputCurrent != nil {
		v := round1(*t.ACOutputCurrent)
		s.ACOutputCurrent = &v
	} else {
		s.ACOutputCurrent = nil
	}
	if t.SwitchMode != nil {
		s.SwitchModeActual = *t.SwitchMode
	} else {
		s.SwitchModeActual = SwitchUnknown
	}
	s.InverterConnected = t.ACOutputCurrent != nil && t.SwitchMode != nil

	s.RelayStates = make(map[Relay]int, len(t.Relays))
	for r, v := range t.Relays {
		s.RelayStates[r] = v
	}
}

// ReversePowerDetected is the instantaneous detection, before hysteresis.
func ReversePowerDetected(s State, p Params) bool {
	return s.ACOutputCurrent != nil && *s.ACOutputCurrent < p.ReverseCurrent
}

// UpdateReversePower advances the hysteresis counter and the alarm latch.
// The counter saturates in [0, ReversePowerTicks]. The alarm sets when the
// counter reaches the ceiling and clears only in Off once it has decayed to 0.
func UpdateReversePower(s *State, p Params) {
	if ReversePowerDetected(*s, p) {
		s.ReversePowerCounter = min(s.ReversePowerCounter+1, p.ReversePowerTicks)
	} else {
		s.ReversePowerCounter = max(s.ReversePowerCounter-1, 0)
	}

	if s.ReversePowerCounter >= p.ReversePowerTicks {
		s.ReversePowerAlarm = true
	} else if s.Mode == ModeOff && s.ReversePowerCounter == 0 {
		s.ReversePowerAlarm = false
	}
}

// ContactorsClosed infers battery contactor state: nonzero charge and
// discharge limits mean the 48V bus is live.
func ContactorsClosed(s State) bool {
	return s.ChargeLimit != 0 && s.DischargeLimit != 0
}

func valueOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
