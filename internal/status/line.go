package status

import (
	"fmt"
	"strings"

	"github.com/EVParts/EVP15KVAGeneratorControl/internal/logic"
)

// Line renders the one-line human readable summary logged every tick.
// It is meant for operators reading the journal, not for parsing.
func Line(s logic.State, fault logic.FaultReason, p logic.Params) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Mode: %s", s.Mode)
	fmt.Fprintf(&b, " | SOC: %.1f%%", s.BatterySOC)
	fmt.Fprintf(&b, " | Limits: chg %.1f A dis %.1f A", s.ChargeLimit, s.DischargeLimit)

	if s.ACOutputCurrent != nil {
		fmt.Fprintf(&b, " | AC out: %.1f A", *s.ACOutputCurrent)
	} else {
		b.WriteString(" | AC out: n/a")
	}

	fmt.Fprintf(&b, " | Switch: %s -> %s", s.SwitchModeActual, s.SwitchModeTarget)

	detected := "no"
	if logic.ReversePowerDetected(s, p) {
		detected = "yes"
	}
	fmt.Fprintf(&b, " | Reverse power: %s (%d/%d)", detected, s.ReversePowerCounter, p.ReversePowerTicks)
	if s.ReversePowerAlarm {
		b.WriteString(" ALARM")
	}

	fmt.Fprintf(&b, " | Settle: %d", s.SettleDelay)

	if fault != logic.FaultNone {
		fmt.Fprintf(&b, " | FAULT: %s", fault)
	}
	if s.OffHoldCount > 0 {
		fmt.Fprintf(&b, " | Off held: %d", s.OffHoldCount)
	}
	if s.BMSDisabled {
		b.WriteString(" | BMS wake disabled")
	}
	return b.String()
}
