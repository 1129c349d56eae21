// Package machine drives a plotter.Device from compiled planner moves.
package machine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"eggplot/plotter"
	"eggplot/plotter/kinematics"
	"eggplot/plotter/planner"
)

// ErrNoDevice is returned when a live operation has no device attached
var ErrNoDevice = errors.New("no device attached")

// Waiter blocks for d or until ctx is done
type Waiter func(ctx context.Context, d time.Duration) error

// Wait is the default Waiter backed by a timer
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Plotter executes moves and pen changes on a device, one at a time
type Plotter struct {
	device  plotter.Device
	cfg     *plotter.Config
	planner *planner.Planner
	logger  *slog.Logger
	wait    Waiter

	mu       sync.Mutex
	distance float64
	moves    int
}

// New creates a plotter around a device
func New(device plotter.Device, cfg *plotter.Config, logger *slog.Logger) *Plotter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Plotter{
		device:  device,
		cfg:     cfg,
		planner: planner.NewPlanner(cfg, kinematics.NewHBot()),
		logger:  logger,
		wait:    Wait,
	}
}

// SetWaiter replaces the timer used for move and pen settling
func (p *Plotter) SetWaiter(w Waiter) {
	p.wait = w
}

// Device returns the attached device
func (p *Plotter) Device() plotter.Device {
	return p.device
}

// Config returns the plotter configuration
func (p *Plotter) Config() *plotter.Config {
	return p.cfg
}

// Ready reports whether the device can accept commands
func (p *Plotter) Ready() bool {
	return p.device != nil && p.device.Ready()
}

// MoveTo draws to (x, y) at the drawing speed
func (p *Plotter) MoveTo(ctx context.Context, x, y float64) error {
	return p.moveTo(ctx, x, y, kinematics.Draw)
}

func (p *Plotter) moveTo(ctx context.Context, x, y float64, mode kinematics.Mode) error {
	if p.device == nil {
		return ErrNoDevice
	}

	move, err := p.planner.CompileMove(x, y, mode)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.distance += move.Distance
	p.mu.Unlock()

	if !move.Issued {
		return nil
	}

	p.logger.Debug("move",
		"x", x, "y", y, "mode", mode.String(),
		"duration_ms", move.Command.DurationMS,
		"motor1", move.Command.Motor1, "motor2", move.Command.Motor2)

	if err := p.device.Move(ctx, move.Command); err != nil {
		return err
	}

	p.mu.Lock()
	p.moves++
	p.mu.Unlock()

	return p.wait(ctx, move.Command.Duration()+p.cfg.MoveSettle())
}

// PenUp raises the pen if it is down
func (p *Plotter) PenUp(ctx context.Context) error {
	return p.setPen(ctx, false)
}

// PenDown lowers the pen if it is up
func (p *Plotter) PenDown(ctx context.Context) error {
	return p.setPen(ctx, true)
}

// TogglePen flips the pen state
func (p *Plotter) TogglePen(ctx context.Context) error {
	return p.setPen(ctx, !p.planner.PenIsDown())
}

func (p *Plotter) setPen(ctx context.Context, down bool) error {
	if !p.planner.NeedsPen(down) {
		return nil
	}
	if p.device == nil {
		return ErrNoDevice
	}

	if err := p.device.Pen(ctx, !down); err != nil {
		return err
	}
	p.planner.SetPen(down)
	p.logger.Debug("pen", "down", down)

	return p.wait(ctx, p.cfg.PenSettle())
}

// PenIsDown reports the tracked pen state
func (p *Plotter) PenIsDown() bool {
	return p.planner.PenIsDown()
}

// GetCurrentPosition returns the tracked position
func (p *Plotter) GetCurrentPosition() plotter.Position {
	return p.planner.GetCurrentPosition()
}

// SetPosition redefines the current position as pos without moving
func (p *Plotter) SetPosition(pos plotter.Position) {
	p.planner.SetPosition(pos)
}

// SetFeedrate records the requested feedrate
func (p *Plotter) SetFeedrate(f float64) {
	p.planner.SetFeedrate(f)
}

// State returns the tracked tool state
func (p *Plotter) State() plotter.ToolState {
	return p.planner.State()
}

// Distance returns the requested distance covered so far (mm)
func (p *Plotter) Distance() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.distance
}

// Moves returns the number of motion commands sent
func (p *Plotter) Moves() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.moves
}

// Halt stops the device immediately
func (p *Plotter) Halt() error {
	if p.device == nil {
		return ErrNoDevice
	}
	return p.device.Halt()
}

// Reset forgets position, pen state and counters
func (p *Plotter) Reset() {
	p.planner.Reset()
	p.mu.Lock()
	p.distance = 0
	p.moves = 0
	p.mu.Unlock()
}
