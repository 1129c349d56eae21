// Package plottertest provides an in-memory plotter.Device for tests.
package plottertest

import (
	"context"
	"fmt"
	"sync"

	"eggplot/plotter"
)

// Call is one recorded device operation
type Call struct {
	Op   string // "move", "pen" or "halt"
	Move plotter.MotorCommand
	Up   bool
}

func (c Call) String() string {
	switch c.Op {
	case "move":
		return fmt.Sprintf("SM,%d,%d,%d", c.Move.DurationMS, c.Move.Motor1, c.Move.Motor2)
	case "pen":
		if c.Up {
			return "SP,1"
		}
		return "SP,0"
	}
	return "ES"
}

// Device records every command it receives
type Device struct {
	mu    sync.Mutex
	calls []Call

	// NotReady makes Ready report false
	NotReady bool

	// FailMove makes the nth move (1-based) return Err
	FailMove int
	Err      error

	// OnMove runs after the nth move (1-based) is recorded
	OnMove func(n int, cmd plotter.MotorCommand)
}

// NewDevice creates a ready device
func NewDevice() *Device {
	return &Device{}
}

func (d *Device) Ready() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.NotReady
}

func (d *Device) Move(ctx context.Context, cmd plotter.MotorCommand) error {
	d.mu.Lock()
	d.calls = append(d.calls, Call{Op: "move", Move: cmd})
	n := d.countLocked("move")
	fail := d.FailMove == n
	hook := d.OnMove
	d.mu.Unlock()

	if fail {
		return d.Err
	}
	if hook != nil {
		hook(n, cmd)
	}
	return nil
}

func (d *Device) Pen(ctx context.Context, up bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, Call{Op: "pen", Up: up})
	return nil
}

func (d *Device) Halt() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, Call{Op: "halt"})
	return nil
}

// Calls returns a copy of everything recorded
func (d *Device) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Call, len(d.calls))
	copy(out, d.calls)
	return out
}

// Moves returns the motion commands in order
func (d *Device) Moves() []plotter.MotorCommand {
	var out []plotter.MotorCommand
	for _, c := range d.Calls() {
		if c.Op == "move" {
			out = append(out, c.Move)
		}
	}
	return out
}

// Count returns how many calls of op were recorded
func (d *Device) Count(op string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.countLocked(op)
}

// Strings returns the calls in EBB-like notation
func (d *Device) Strings() []string {
	calls := d.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.String()
	}
	return out
}

func (d *Device) countLocked(op string) int {
	n := 0
	for _, c := range d.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}
