package control

import (
	"errors"

	"go.uber.org/zap"

	"github.com/EVParts/EVP15KVAGeneratorControl/internal/bus"
	"github.com/EVParts/EVP15KVAGeneratorControl/internal/gpio"
	"github.com/EVParts/EVP15KVAGeneratorControl/internal/logic"
)

// readTelemetry reads every bus channel independently. A failed read leaves
// the field nil; the controller treats that as link down.
func readTelemetry(b bus.Bus, log *zap.Logger) logic.Telemetry {
	read := func(ch bus.Channel) *float64 {
		v, err := b.Read(ch)
		if err != nil {
			if errors.Is(err, bus.ErrNoValue) {
				log.Debug("no value", zap.Stringer("channel", ch))
			} else {
				log.Warn("bus read failed", zap.Stringer("channel", ch), zap.Error(err))
			}
			return nil
		}
		return &v
	}

	t := logic.Telemetry{
		SOC:             read(bus.BatterySOC),
		ChargeLimit:     read(bus.BatteryChargeLimit),
		DischargeLimit:  read(bus.BatteryDischargeLimit),
		ACOutputCurrent: read(bus.ACOutputCurrent),
		Relays:          make(map[logic.Relay]int, len(logic.Relays)),
	}
	if v := read(bus.InverterSwitchMode); v != nil {
		sm := logic.SwitchMode(int(*v))
		t.SwitchMode = &sm
	}
	for _, r := range logic.Relays {
		ch, err := bus.RelayChannel(int(r))
		if err != nil {
			continue
		}
		if v := read(ch); v != nil {
			t.Relays[r] = int(*v)
		}
	}
	return t
}

// buttons maps the sampled inputs onto the front-panel buttons.
func buttons(s gpio.Sample) logic.Buttons {
	return logic.Buttons{
		Off:    s.OffButton,
		On:     s.OnButton,
		Charge: s.ChargeButton,
	}
}
