package ebb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"eggplot/host/serial"
	"eggplot/plotter"
	"eggplot/protocol"
)

// ErrNotConnected is returned when a command is issued before Connect
var ErrNotConnected = errors.New("not connected to EBB")

var _ plotter.Device = (*Device)(nil)

// Device is a connection to an EiBotBoard
type Device struct {
	// Transport layer
	transport *protocol.Transport

	cfg    *plotter.Config
	logger *slog.Logger

	version   string
	connected atomic.Bool
}

// New creates a new EBB device (not yet connected)
func New(cfg *plotter.Config, logger *slog.Logger) *Device {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Device{
		cfg:    cfg,
		logger: logger,
	}
}

// Connect connects to an EBB via serial port. An empty device path
// selects the first attached EBB.
func (d *Device) Connect(device string) error {
	if device == "" {
		found, err := serial.FindEBB()
		if err != nil {
			return err
		}
		device = found
	}

	sc := serial.DefaultConfig(device)
	if d.cfg.Serial.Baud != 0 {
		sc.Baud = d.cfg.Serial.Baud
	}
	if d.cfg.Serial.ReadTimeoutMS != 0 {
		sc.ReadTimeout = d.cfg.Serial.ReadTimeoutMS
	}
	return d.ConnectWithConfig(sc)
}

// ConnectWithConfig connects to an EBB with a custom serial config
func (d *Device) ConnectWithConfig(sc *serial.Config) error {
	port, err := serial.Open(sc)
	if err != nil {
		return fmt.Errorf("failed to open serial port: %w", err)
	}

	if err := d.Attach(port); err != nil {
		port.Close()
		return err
	}
	d.logger.Info("connected", "device", sc.Device, "firmware", d.version)
	return nil
}

// Attach starts talking to an already open port: it queries the firmware,
// enables the motors, configures the servo and raises the pen
func (d *Device) Attach(port io.ReadWriteCloser) error {
	d.transport = protocol.NewTransport(port, d.logger)

	version, err := d.transport.Query(protocol.Version())
	if err != nil {
		d.transport.Close()
		return fmt.Errorf("failed to query firmware version: %w", err)
	}
	d.version = version
	d.connected.Store(true)

	setup := []protocol.Command{
		protocol.EnableMotors(),
		protocol.ServoPosition(true, d.cfg.Pen.UpPercent),
		protocol.ServoPosition(false, d.cfg.Pen.DownPercent),
		protocol.SetPen(true, d.cfg.Pen.ServoMoveMS),
	}
	for _, cmd := range setup {
		if err := d.execute(cmd); err != nil {
			d.connected.Store(false)
			d.transport.Close()
			return fmt.Errorf("failed to configure EBB: %w", err)
		}
	}

	return nil
}

// Close raises the pen, disables the motors and closes the port
func (d *Device) Close() error {
	if d.transport == nil {
		return nil
	}

	var errs []error
	if d.connected.Load() {
		if err := d.execute(protocol.SetPen(true, d.cfg.Pen.ServoMoveMS)); err != nil {
			errs = append(errs, err)
		}
		if err := d.execute(protocol.DisableMotors()); err != nil {
			errs = append(errs, err)
		}
	}
	d.connected.Store(false)

	if err := d.transport.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Detach closes the port without raising the pen or releasing the motors
func (d *Device) Detach() error {
	if d.transport == nil {
		return nil
	}
	d.connected.Store(false)
	return d.transport.Close()
}

// Ready reports whether the EBB is connected and configured
func (d *Device) Ready() bool {
	return d.connected.Load()
}

// Version returns the firmware version reported on connect
func (d *Device) Version() string {
	return d.version
}

// Move sends one stepper move
func (d *Device) Move(ctx context.Context, cmd plotter.MotorCommand) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.execute(protocol.StepperMove(cmd.DurationMS, cmd.Motor1, cmd.Motor2))
}

// Pen raises or lowers the pen
func (d *Device) Pen(ctx context.Context, up bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.execute(protocol.SetPen(up, d.cfg.Pen.ServoMoveMS))
}

// Halt stops all motion immediately
func (d *Device) Halt() error {
	return d.execute(protocol.EmergencyStop())
}

// EnableMotors energizes both motors
func (d *Device) EnableMotors() error {
	return d.execute(protocol.EnableMotors())
}

// DisableMotors lets both motors spin freely
func (d *Device) DisableMotors() error {
	return d.execute(protocol.DisableMotors())
}

// ConfigureServo sets the pen up and down heights in percent
func (d *Device) ConfigureServo(upPercent, downPercent float64) error {
	if err := d.execute(protocol.ServoPosition(true, upPercent)); err != nil {
		return err
	}
	return d.execute(protocol.ServoPosition(false, downPercent))
}

// SetPin sets a digital output
func (d *Device) SetPin(port string, pin int, on bool) error {
	return d.execute(protocol.PinOutput(port, pin, on))
}

// Fan switches the configured fan output
func (d *Device) Fan(on bool) error {
	return d.SetPin(d.cfg.Fan.Port, d.cfg.Fan.Pin, on)
}

// StepPosition reads the motor step counters
func (d *Device) StepPosition() (int32, int32, error) {
	if !d.connected.Load() {
		return 0, 0, ErrNotConnected
	}
	data, err := d.transport.Execute(protocol.QueryMotors(), d.ackTimeout())
	if err != nil {
		return 0, 0, err
	}
	if len(data) == 0 {
		return 0, 0, fmt.Errorf("empty reply to %s", protocol.QueryMotors())
	}
	return protocol.ParseSteps(data[0])
}

// execute sends a command and waits for OK
func (d *Device) execute(cmd protocol.Command) error {
	if !d.connected.Load() {
		return ErrNotConnected
	}
	if _, err := d.transport.Execute(cmd, d.ackTimeout()); err != nil {
		return err
	}
	return nil
}

func (d *Device) ackTimeout() time.Duration {
	if d.cfg.Timing.AckTimeoutMS <= 0 {
		return 2 * time.Second
	}
	return time.Duration(d.cfg.Timing.AckTimeoutMS) * time.Millisecond
}
