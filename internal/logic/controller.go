package logic

import "time"

// Result is the outcome of one control tick.
type Result struct {
	Writes []RelayWrite
	// Command is set only when the inverter gate committed on this tick.
	Command *SwitchMode
	Gate    GateStep
	Fault   FaultReason
	Chords  Chords
	Events  []Event
}

// Controller owns the control state and advances it one tick at a time.
type Controller struct {
	params Params
	state  State
	fault  FaultReason
	// restartHeld is set while the restart chord stays pressed.
	restartHeld bool
}

// NewController creates a controller with a zeroed state.
func NewController(p Params) *Controller {
	return &Controller{params: p}
}

// Params returns the thresholds the controller runs with.
func (c *Controller) Params() Params {
	return c.params
}

// State returns a copy of the current state.
func (c *Controller) State() State {
	return c.state.Clone()
}

// Fault returns the fault reason computed on the last tick.
func (c *Controller) Fault() FaultReason {
	return c.fault
}

// Tick runs mode selection, fault and hysteresis evaluation and output
// sequencing for one input sample.
func (c *Controller) Tick(in Input) Result {
	s := &c.state
	prevMode := s.Mode
	if prevMode == ModeUninitialized {
		prevMode = DefaultMode
	}
	prevAlarm := s.ReversePowerAlarm
	prevBMSDisabled := s.BMSDisabled
	prevFault := c.fault

	UpdateMode(s, in.Buttons, c.params)
	chords := DetectChords(in.Buttons)

	ApplyTelemetry(s, in.Telemetry)
	UpdateReversePower(s, c.params)

	fault := Fault(*s)
	c.fault = fault
	s.SwitchModeTarget = SwitchTarget(*s)

	res := Result{
		Writes: PlanRelays(s, c.params, fault, chords),
		Fault:  fault,
		Chords: chords,
	}

	res.Gate = GateInverter(s, c.params, in.Time)
	if res.Gate == GateCommit {
		cmd := s.SwitchModeTarget
		res.Command = &cmd
	}

	res.Events = c.events(in.Time, prevMode, prevAlarm, prevBMSDisabled, prevFault, res)
	c.restartHeld = chords.Restart
	return res
}

func (c *Controller) events(now time.Time, prevMode Mode, prevAlarm, prevBMSDisabled bool, prevFault FaultReason, res Result) []Event {
	s := c.state
	var events []Event
	add := func(t EventType) *Event {
		events = append(events, Event{
			Timestamp: now,
			Type:      t,
			Mode:      s.Mode,
			Previous:  prevMode,
			Fault:     res.Fault,
		})
		return &events[len(events)-1]
	}

	if s.Mode != prevMode {
		add(EventMode)
	}
	if s.BMSDisabled && !prevBMSDisabled {
		add(EventBMSDisabled)
	}
	if s.ReversePowerAlarm && !prevAlarm {
		add(EventReversePowerAlarm)
	} else if !s.ReversePowerAlarm && prevAlarm {
		add(EventReversePowerCleared)
	}
	if res.Fault != FaultNone && res.Fault != prevFault {
		add(EventFaultRaised)
	} else if res.Fault == FaultNone && prevFault != FaultNone {
		e := add(EventFaultCleared)
		e.Fault = prevFault
	}
	if res.Command != nil {
		e := add(EventInverterCommand)
		e.Switch = *res.Command
	}
	if res.Chords.Restart && !c.restartHeld {
		add(EventRestartRequested)
	}
	return events
}
