package internal

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/EVParts/EVP15KVAGeneratorControl/internal/bus"
	"github.com/EVParts/EVP15KVAGeneratorControl/internal/control"
	"github.com/EVParts/EVP15KVAGeneratorControl/internal/gpio"
	"github.com/EVParts/EVP15KVAGeneratorControl/internal/logic"
	"github.com/EVParts/EVP15KVAGeneratorControl/internal/mqtt"
	"github.com/EVParts/EVP15KVAGeneratorControl/internal/status"
	"github.com/EVParts/EVP15KVAGeneratorControl/internal/web"
)

// rig wires the control loop to fake inputs, a fake bus and a fake broker,
// the same way the daemon wires the real ones.
type rig struct {
	loop    *control.Loop
	reader  *gpio.FakeReader
	bus     *bus.FakeBus
	pub     *mqtt.FakePublisher
	tracker *status.Tracker
}

func newRig(t *testing.T, chargeLimit, dischargeLimit float64) *rig {
	t.Helper()
	values := map[bus.Channel]float64{
		bus.BatterySOC:            80,
		bus.BatteryChargeLimit:    chargeLimit,
		bus.BatteryDischargeLimit: dischargeLimit,
		bus.ACOutputCurrent:       2,
		bus.InverterSwitchMode:    float64(logic.SwitchOff),
	}
	for id := 2; id <= 9; id++ {
		ch, _ := bus.RelayChannel(id)
		values[ch] = 0
	}

	r := &rig{
		reader:  gpio.NewFakeReader([]gpio.Sample{{}}),
		bus:     bus.NewFakeBus(values),
		pub:     mqtt.NewFakePublisher(),
		tracker: status.NewTracker(time.Now(), status.Config{TickMs: 1000, Bus: "dbus", Version: "test"}),
	}
	r.pub.Connected = true

	// The loop runs on the wall clock here; drop the command spacing so
	// consecutive ticks may command the inverter.
	params := logic.DefaultParams()
	params.CommandInterval = 0

	r.loop = control.New(control.Options{
		Params:     params,
		Period:     time.Second,
		Inputs:     r.reader,
		Bus:        r.bus,
		Publisher:  r.pub,
		MQTTStatus: r.pub,
		Tracker:    r.tracker,
		Log:        zaptest.NewLogger(t),
	})
	return r
}

// tick runs n ticks with the given buttons held.
func (r *rig) tick(t *testing.T, n int, s gpio.Sample) {
	t.Helper()
	r.reader.Samples = []gpio.Sample{s}
	r.reader.Reset()
	for i := 0; i < n; i++ {
		_, err := r.loop.Step()
		require.NoError(t, err)
	}
}

func TestIntegrationInverterWaitsForContactorsAndSettle(t *testing.T) {
	r := newRig(t, 0, 0)

	r.tick(t, 1, gpio.Sample{OnButton: true})
	r.tick(t, 2, gpio.Sample{})
	assert.Empty(t, r.bus.WritesTo(bus.InverterSwitchMode), "contactors open")
	assert.Equal(t, []int{1}, r.bus.WritesTo(bus.Relay6), "generator starts regardless")

	r.bus.Values[bus.BatteryChargeLimit] = 100
	r.bus.Values[bus.BatteryDischargeLimit] = 150

	r.tick(t, 10, gpio.Sample{})
	assert.Empty(t, r.bus.WritesTo(bus.InverterSwitchMode), "still settling")
	assert.Zero(t, r.loop.Controller().State().SettleDelay)

	r.tick(t, 1, gpio.Sample{})
	assert.Equal(t, []int{int(logic.SwitchOn)}, r.bus.WritesTo(bus.InverterSwitchMode))

	assert.Equal(t, []logic.EventType{logic.EventMode, logic.EventInverterCommand}, r.pub.EventTypes())
	var p mqtt.Payload
	require.NoError(t, json.Unmarshal(r.pub.Payloads[1], &p))
	assert.Equal(t, "INVERTER_COMMAND", p.Generator.Event)
	assert.Equal(t, "ON", p.Generator.Switch)
	assert.Equal(t, "On", p.Generator.Mode)
}

func TestIntegrationContactorDropRestartsSettle(t *testing.T) {
	r := newRig(t, 0, 0)

	r.tick(t, 1, gpio.Sample{ChargeButton: true})
	r.bus.Values[bus.BatteryChargeLimit] = 100
	r.bus.Values[bus.BatteryDischargeLimit] = 150
	r.tick(t, 5, gpio.Sample{})

	// Contactors bounce open: the countdown starts over.
	r.bus.Values[bus.BatteryDischargeLimit] = 0
	r.tick(t, 1, gpio.Sample{})
	r.bus.Values[bus.BatteryDischargeLimit] = 150

	r.tick(t, 10, gpio.Sample{})
	assert.Empty(t, r.bus.WritesTo(bus.InverterSwitchMode))
	r.tick(t, 1, gpio.Sample{})
	assert.Equal(t, []int{int(logic.SwitchChargeOnly)}, r.bus.WritesTo(bus.InverterSwitchMode))
}

func TestIntegrationReversePowerLatchesUntilOff(t *testing.T) {
	r := newRig(t, 100, 150)

	r.tick(t, 1, gpio.Sample{OnButton: true})
	require.Equal(t, []int{int(logic.SwitchOn)}, r.bus.WritesTo(bus.InverterSwitchMode))

	r.bus.Values[bus.ACOutputCurrent] = -6
	r.tick(t, 10, gpio.Sample{})
	assert.Equal(t, []int{1}, r.bus.WritesTo(bus.Relay9))
	assert.Equal(t, []int{int(logic.SwitchOn), int(logic.SwitchOff)}, r.bus.WritesTo(bus.InverterSwitchMode))
	assert.Equal(t, logic.FaultReversePower, r.loop.Controller().Fault())

	// Current recovers but the alarm holds in On.
	r.bus.Values[bus.ACOutputCurrent] = 0
	r.tick(t, 12, gpio.Sample{})
	assert.True(t, r.loop.Controller().State().ReversePowerAlarm)
	assert.Len(t, r.bus.WritesTo(bus.InverterSwitchMode), 2, "inverter stays off")

	// Current reverses again, then the operator selects Off.
	r.bus.Values[bus.ACOutputCurrent] = -6
	r.tick(t, 10, gpio.Sample{})
	r.bus.Values[bus.ACOutputCurrent] = 0
	r.tick(t, 1, gpio.Sample{OffButton: true})
	assert.Equal(t, logic.ModeOff, r.loop.Controller().State().Mode)
	assert.Equal(t, logic.FaultNone, r.loop.Controller().Fault())

	// Counter decays from 9 to 0 over nine more ticks.
	r.tick(t, 8, gpio.Sample{})
	assert.True(t, r.loop.Controller().State().ReversePowerAlarm)
	r.tick(t, 1, gpio.Sample{})
	assert.False(t, r.loop.Controller().State().ReversePowerAlarm)
	assert.Equal(t, []int{1, 0}, r.bus.WritesTo(bus.Relay9))

	assert.Equal(t, []logic.EventType{
		logic.EventMode, logic.EventInverterCommand,
		logic.EventReversePowerAlarm, logic.EventFaultRaised, logic.EventInverterCommand,
		logic.EventMode, logic.EventFaultCleared,
		logic.EventReversePowerCleared,
	}, r.pub.EventTypes())
	cleared := r.pub.EventsOfType(logic.EventFaultCleared)
	require.Len(t, cleared, 1)
	assert.Equal(t, logic.FaultReversePower, cleared[0].Fault)

	snap := r.tracker.Snapshot()
	assert.Equal(t, 1, snap.Counts.ReversePowerAlarms)
	assert.Equal(t, 2, snap.Counts.InverterCommands)
}

func TestIntegrationBMSLinkLossFaultsAndRecovers(t *testing.T) {
	r := newRig(t, 100, 150)

	r.tick(t, 1, gpio.Sample{ChargeButton: true})
	delete(r.bus.Values, bus.BatteryChargeLimit)
	r.tick(t, 3, gpio.Sample{})

	assert.Equal(t, logic.FaultBMS, r.loop.Controller().Fault())
	assert.Equal(t, logic.ModeChargeOnly, r.loop.Controller().State().Mode, "a fault never changes mode")

	r.bus.Values[bus.BatteryChargeLimit] = 100
	r.tick(t, 1, gpio.Sample{})
	assert.Equal(t, logic.FaultNone, r.loop.Controller().Fault())
	assert.Equal(t, []logic.EventType{logic.EventMode, logic.EventInverterCommand, logic.EventFaultRaised, logic.EventFaultCleared}, r.pub.EventTypes())
}

func TestIntegrationStatusServedOverHTTP(t *testing.T) {
	r := newRig(t, 100, 150)
	r.tick(t, 3, gpio.Sample{OnButton: true})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := web.New(ln.Addr().String(), r.tracker, false)
	go srv.Serve(ln)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })

	base := "http://" + ln.Addr().String()

	resp, err := http.Get(base + "/healthcheck")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(base + "/index.json")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	var sj status.StatusJSON
	require.NoError(t, json.Unmarshal(body, &sj))
	assert.Equal(t, "On", sj.Status.Mode)
	assert.EqualValues(t, 3, sj.Status.Ticks)
	assert.Equal(t, "ON", sj.Status.Inverter.SwitchActual)
	assert.Equal(t, "ON", sj.Status.Inverter.SwitchTarget)
	assert.True(t, sj.Status.Battery.Connected)
	assert.True(t, sj.Status.MQTT.Connected)

	relays := map[string]int{}
	for _, rj := range sj.Status.Relays {
		relays[rj.Name] = rj.State
	}
	assert.Equal(t, 1, relays["remote_start"])
	assert.Equal(t, 1, relays["mode_request"])
	assert.Equal(t, 0, relays["off_led"])
}
