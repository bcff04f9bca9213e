// Command generator-control runs the standby generator and battery inverter
// controller on a Venus OS GX device.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	"go.uber.org/zap"

	"github.com/EVParts/EVP15KVAGeneratorControl/internal/bus"
	"github.com/EVParts/EVP15KVAGeneratorControl/internal/config"
	"github.com/EVParts/EVP15KVAGeneratorControl/internal/control"
	"github.com/EVParts/EVP15KVAGeneratorControl/internal/diag"
	"github.com/EVParts/EVP15KVAGeneratorControl/internal/gpio"
	"github.com/EVParts/EVP15KVAGeneratorControl/internal/mqtt"
	"github.com/EVParts/EVP15KVAGeneratorControl/internal/status"
	"github.com/EVParts/EVP15KVAGeneratorControl/internal/web"
)

func main() {
	os.Exit(realMain(os.Args[1:]))
}

func realMain(args []string) int {
	cfg, err := config.Load(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 2
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		return 2
	}
	defer logger.Sync()

	ctx, stop := signalContext()
	defer stop()

	if err := run(ctx, cfg, logger, os.Stdout); err != nil {
		logger.Error("fatal", zap.Error(err))
		return 1
	}
	return 0
}

// signalError records which signal ended the process.
type signalError struct {
	sig os.Signal
}

func (e signalError) Error() string {
	return "received " + e.sig.String()
}

// signalContext is cancelled on SIGINT or SIGTERM with a signalError cause.
func signalContext() (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case s := <-sigCh:
			cancel(signalError{sig: s})
		case <-ctx.Done():
		}
	}()
	return ctx, func() {
		signal.Stop(sigCh)
		cancel(context.Canceled)
	}
}

// shutdownReason names the cause of a cancelled context for the SHUTDOWN event.
func shutdownReason(ctx context.Context) string {
	var se signalError
	if errors.As(context.Cause(ctx), &se) {
		switch se.sig {
		case syscall.SIGINT:
			return "SIGINT"
		case syscall.SIGTERM:
			return "SIGTERM"
		}
	}
	return "UNKNOWN"
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger, out io.Writer) error {
	version := versioninfo.Short()
	logger.Info("generator control starting", append([]zap.Field{zap.String("version", version)}, cfg.SafeFields()...)...)

	inputs, err := openInputs(cfg)
	if err != nil {
		return fmt.Errorf("init inputs: %w", err)
	}
	defer inputs.Close()

	if cfg.PrintInputs {
		sample, err := inputs.Read()
		if err != nil {
			return fmt.Errorf("read inputs: %w", err)
		}
		fmt.Fprintln(out, formatSample(sample))
		return nil
	}

	if cfg.StartupDelay > 0 {
		logger.Info("waiting for bus services", zap.Duration("delay", cfg.StartupDelay))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(cfg.StartupDelay):
		}
	}

	conn, err := openBus(cfg, logger.Named("bus"))
	if err != nil {
		return fmt.Errorf("init bus: %w", err)
	}
	defer conn.Close()

	tracker := status.NewTracker(time.Now(), status.Config{
		TickMs:      cfg.Tick.Milliseconds(),
		HeartbeatMs: cfg.MQTT.Heartbeat.Milliseconds(),
		Bus:         cfg.Bus.Kind,
		Broker:      config.Redact(cfg.MQTT.Broker),
		HTTPPort:    cfg.HTTP,
		Version:     version,
	})

	d := &daemon{
		cfg:     cfg,
		log:     logger,
		inputs:  inputs,
		bus:     conn,
		tracker: tracker,
	}

	if cfg.MQTT.Enabled {
		pub, err := mqtt.NewRealPublisher(mqtt.Options{
			Broker:      cfg.MQTT.Broker,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			BufferSize:  cfg.MQTT.BufferSize,
			OnReconnect: func() { d.publishSystem("RECONNECTED", "") },
		}, logger.Named("mqtt"))
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		defer pub.Close()
		d.publisher = pub
		d.mqttStatus = pub
	}

	if cfg.HTTP != "" {
		srv := web.New(cfg.HTTP, tracker, cfg.HTTPLog)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("http server error", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
		logger.Info("http status server listening", zap.String("addr", cfg.HTTP))
	}

	return d.serve(ctx)
}

// daemon holds the opened resources of a running controller.
type daemon struct {
	cfg        *config.Config
	log        *zap.Logger
	inputs     gpio.Reader
	bus        bus.Bus
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	tracker    *status.Tracker
}

// serve publishes STARTUP, runs the control loop until it ends, and
// publishes the matching SHUTDOWN or RESTART event. A cancelled context and
// a requested restart are clean exits.
func (d *daemon) serve(ctx context.Context) error {
	d.publishSystem("STARTUP", "")

	loop := control.New(control.Options{
		Params:     d.cfg.Params(),
		Period:     d.cfg.Tick,
		Heartbeat:  d.cfg.MQTT.Heartbeat,
		Inputs:     d.inputs,
		Bus:        d.bus,
		Publisher:  d.publisher,
		MQTTStatus: d.mqttStatus,
		Tracker:    d.tracker,
		Diag:       diag.NewMonitor(d.cfg.Diagnostics.MemoryEvery, d.log.Named("diag")),
		Log:        d.log.Named("control"),
	})

	err := loop.Run(ctx)
	switch {
	case errors.Is(err, control.ErrRestartRequested):
		d.publishSystem("RESTART", "BUTTON_CHORD")
		return nil
	case ctx.Err() != nil:
		reason := shutdownReason(ctx)
		d.log.Info("shutting down", zap.String("reason", reason))
		d.publishSystem("SHUTDOWN", reason)
		return nil
	default:
		d.publishSystem("SHUTDOWN", "ERROR")
		return err
	}
}

// publishSystem sends a retained lifecycle event carrying a status snapshot.
func (d *daemon) publishSystem(event, reason string) {
	if d.publisher == nil {
		return
	}
	if d.mqttStatus != nil {
		d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
	}
	snap := d.tracker.Snapshot()
	ev := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      event,
		Reason:     reason,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	}
	if err := d.publisher.PublishSystem(ev); err != nil {
		d.log.Warn("failed to publish system event", zap.String("event", event), zap.Error(err))
		return
	}
	d.log.Info("published system event", zap.String("event", event))
}

func openInputs(cfg *config.Config) (gpio.Reader, error) {
	switch cfg.GPIO.Source {
	case config.GPIOCdev:
		return gpio.NewRealReader(cfg.GPIO.Chip, cfg.GPIO.Pins, gpio.ChipOptions{
			ActiveLow: cfg.GPIO.ActiveLow,
			Debounce:  cfg.GPIO.Debounce,
		})
	default:
		return gpio.NewVenusReader(cfg.GPIO.Dir, cfg.GPIO.Inputs)
	}
}

func openBus(cfg *config.Config, logger *zap.Logger) (bus.Bus, error) {
	switch cfg.Bus.Kind {
	case config.BusVenusMQTT:
		return bus.DialMQTT(bus.MQTTOptions{
			Broker:     cfg.Bus.MQTT.Broker,
			PortalID:   cfg.Bus.MQTT.PortalID,
			Devices:    cfg.Bus.MQTT.Devices,
			StaleAfter: cfg.Bus.MQTT.StaleAfter,
			Keepalive:  cfg.Bus.MQTT.Keepalive,
		}, logger)
	default:
		return bus.DialDBus(cfg.Bus.Services, cfg.Bus.DBus.Session, logger)
	}
}

func formatSample(s gpio.Sample) string {
	return fmt.Sprintf("Off: %s, On: %s, Charge: %s, Off LED: %s, On LED: %s, Charge LED: %s, BMS wake: %s",
		onOff(s.OffButton), onOff(s.OnButton), onOff(s.ChargeButton),
		onOff(s.OffLED), onOff(s.OnLED), onOff(s.ChargeLED), onOff(s.BMSWake))
}

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}
