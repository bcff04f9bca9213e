package logic

import "time"

// GateStep records where the inverter command gate stopped on a tick.
type GateStep string

const (
	GateIdle              GateStep = "IDLE"
	GateWaitingContactors GateStep = "WAITING_CONTACTORS"
	GateWaitingSettle     GateStep = "WAITING_SETTLE"
	GateWaitingInterval   GateStep = "WAITING_INTERVAL"
	GateCommit            GateStep = "COMMIT"
)

// PlanRelays computes the relay targets and returns only those that differ
// from the last known relay state. The Off indicator blinks while faulted;
// its toggle flips on every faulted tick whether or not a write results.
func PlanRelays(s *State, p Params, fault FaultReason, chords Chords) []RelayWrite {
	var off bool
	if fault != FaultNone {
		off = s.OffToggle
		s.OffToggle = !s.OffToggle
	} else {
		off = OffLED(*s)
	}

	targets := map[Relay]bool{
		RelayOffLED:       off,
		RelayOnLED:        OnLED(*s),
		RelayChargeLED:    ChargeLED(*s),
		RelayBMSWake:      BMSWake(*s, p),
		RelayRemoteStart:  RemoteStart(*s),
		RelayModeRequest:  ModeRequest(*s),
		RelayRCDReset:     chords.RCDReset,
		RelayReversePower: s.ReversePowerAlarm,
	}

	if s.RelayStates == nil {
		s.RelayStates = make(map[Relay]int, len(Relays))
	}

	var writes []RelayWrite
	for _, r := range Relays {
		v := boolToInt(targets[r])
		if last, ok := s.RelayStates[r]; ok && last == v {
			continue
		}
		writes = append(writes, RelayWrite{Relay: r, Value: v})
		s.RelayStates[r] = v
	}
	return writes
}

// GateInverter runs the inverter switch command gate. It returns the step
// reached; a command must be issued only when the step is GateCommit, in
// which case the command time has already been recorded.
func GateInverter(s *State, p Params, now time.Time) GateStep {
	if s.SwitchModeTarget == s.SwitchModeActual {
		return GateIdle
	}
	if !ContactorsClosed(*s) {
		s.SettleDelay = p.SettleTicks
		return GateWaitingContactors
	}
	if s.SettleDelay > 0 {
		s.SettleDelay = max(s.SettleDelay-1, 0)
		return GateWaitingSettle
	}
	if !s.LastCommand.IsZero() && now.Sub(s.LastCommand) < p.CommandInterval {
		return GateWaitingInterval
	}
	s.LastCommand = now
	return GateCommit
}
