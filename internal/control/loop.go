// Package control runs the controller: once per tick it samples the digital
// inputs and bus telemetry, advances the pure logic, and writes the outputs
// that changed. It is the only owner of the controller state.
package control

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/EVParts/EVP15KVAGeneratorControl/internal/bus"
	"github.com/EVParts/EVP15KVAGeneratorControl/internal/diag"
	"github.com/EVParts/EVP15KVAGeneratorControl/internal/gpio"
	"github.com/EVParts/EVP15KVAGeneratorControl/internal/logic"
	"github.com/EVParts/EVP15KVAGeneratorControl/internal/mqtt"
	"github.com/EVParts/EVP15KVAGeneratorControl/internal/status"
)

// ErrRestartRequested is returned by Run after the restart chord's grace
// period. The process should exit cleanly so its supervisor restarts it.
var ErrRestartRequested = errors.New("control: restart requested")

// Options configures a Loop. Inputs, Bus and Log are required.
type Options struct {
	Params logic.Params
	// Period is the tick length.
	Period time.Duration
	// Heartbeat is the interval between HEARTBEAT system events; 0 disables.
	Heartbeat time.Duration

	Inputs    gpio.Reader
	Bus       bus.Bus
	Publisher mqtt.Publisher
	// MQTTStatus, if set, feeds the tracker's connection flag.
	MQTTStatus mqtt.ConnectionStatus
	Tracker    *status.Tracker
	Diag       *diag.Monitor
	Log        *zap.Logger
}

// Loop drives the controller at a fixed period.
type Loop struct {
	opts Options
	ctrl *logic.Controller
	log  *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	lastHeartbeat time.Time
	// restartIn counts down the remaining ticks once a restart was requested.
	restartIn int
}

// New creates a Loop with a fresh controller.
func New(opts Options) *Loop {
	return &Loop{
		opts:  opts,
		ctrl:  logic.NewController(opts.Params),
		log:   opts.Log,
		now:   time.Now,
		sleep: sleepContext,
	}
}

// Controller exposes the controller for inspection.
func (l *Loop) Controller() *logic.Controller {
	return l.ctrl
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run ticks until ctx is cancelled, an input read fails, or a requested
// restart's grace period ends. Each tick starts one period after the
// previous one started; an overrunning tick is followed immediately by the next.
func (l *Loop) Run(ctx context.Context) error {
	for {
		start := l.now()

		res, err := l.Step()
		if err != nil {
			return err
		}

		if l.restartIn > 0 {
			l.restartIn--
			if l.restartIn == 0 {
				l.log.Warn("restarting")
				return ErrRestartRequested
			}
		} else if res.Chords.Restart {
			grace := l.opts.Params.RestartGraceTicks
			l.log.Warn(fmt.Sprintf("Restart requested, going down in %d ticks", grace))
			if grace <= 0 {
				return ErrRestartRequested
			}
			l.restartIn = grace
		}

		elapsed := l.now().Sub(start)
		if err := l.sleep(ctx, max(l.opts.Period-elapsed, 0)); err != nil {
			return err
		}
	}
}

// Step runs exactly one tick. Only a digital input failure is returned as
// an error; bus failures are logged and surface as link-down faults.
func (l *Loop) Step() (logic.Result, error) {
	sample, err := l.opts.Inputs.Read()
	if err != nil {
		return logic.Result{}, fmt.Errorf("read inputs: %w", err)
	}
	l.log.Debug("inputs",
		zap.Bool("off", sample.OffButton),
		zap.Bool("on", sample.OnButton),
		zap.Bool("charge", sample.ChargeButton),
		zap.Bool("off_led", sample.OffLED),
		zap.Bool("on_led", sample.OnLED),
		zap.Bool("charge_led", sample.ChargeLED),
		zap.Bool("bms_wake", sample.BMSWake),
	)

	now := l.now()
	tel := readTelemetry(l.opts.Bus, l.log)
	res := l.ctrl.Tick(logic.Input{
		Buttons:   buttons(sample),
		Telemetry: tel,
		Time:      now,
	})

	l.apply(res)

	state := l.ctrl.State()
	l.log.Info(status.Line(state, res.Fault, l.opts.Params))
	l.log.Debug("relays", zap.Any("states", state.RelayStates))
	if res.Chords.RCDReset {
		l.log.Info("RCD reset pulse")
	}

	if l.opts.Tracker != nil {
		l.opts.Tracker.Update(state, res.Fault, res.Events)
		if l.opts.MQTTStatus != nil {
			l.opts.Tracker.SetMQTTConnected(l.opts.MQTTStatus.IsConnected())
		}
	}
	l.publish(res.Events)
	l.heartbeat(now)
	l.opts.Diag.Tick()

	return res, nil
}

// apply issues the relay writes and the inverter command of one tick.
func (l *Loop) apply(res logic.Result) {
	for _, w := range res.Writes {
		ch, err := bus.RelayChannel(int(w.Relay))
		if err != nil {
			l.log.Error("no channel for relay", zap.Stringer("relay", w.Relay), zap.Error(err))
			continue
		}
		if err := l.opts.Bus.Write(ch, w.Value); err != nil {
			l.log.Warn("relay write failed", zap.Stringer("relay", w.Relay), zap.Int("value", w.Value), zap.Error(err))
		}
	}

	if res.Command != nil {
		state := l.ctrl.State()
		l.log.Info(fmt.Sprintf("Updating switch mode from %s to %s", state.SwitchModeActual, *res.Command))
		if err := l.opts.Bus.Write(bus.InverterSwitchMode, int(*res.Command)); err != nil {
			l.log.Warn("switch mode write failed", zap.Stringer("mode", *res.Command), zap.Error(err))
		}
	}
}

func (l *Loop) publish(events []logic.Event) {
	for _, e := range events {
		l.log.Info("event",
			zap.String("type", string(e.Type)),
			zap.Stringer("mode", e.Mode),
			zap.String("fault", string(e.Fault)),
		)
		if l.opts.Publisher == nil {
			continue
		}
		if err := l.opts.Publisher.Publish(e); err != nil {
			// Don't stop controlling on publish failure
			l.log.Warn("publish error", zap.Error(err))
		}
	}
}

func (l *Loop) heartbeat(now time.Time) {
	if l.opts.Heartbeat <= 0 || l.opts.Publisher == nil {
		return
	}
	if l.lastHeartbeat.IsZero() {
		l.lastHeartbeat = now
		return
	}
	if now.Sub(l.lastHeartbeat) < l.opts.Heartbeat {
		return
	}
	l.lastHeartbeat = now

	ev := mqtt.SystemEvent{Timestamp: now, Event: "HEARTBEAT"}
	if l.opts.Tracker != nil {
		ev.RawPayload = status.FormatStatusEvent(l.opts.Tracker.Snapshot(), "HEARTBEAT", "")
	}
	if err := l.opts.Publisher.PublishSystem(ev); err != nil {
		l.log.Warn("heartbeat publish error", zap.Error(err))
	}
}
