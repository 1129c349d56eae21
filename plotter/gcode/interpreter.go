package gcode

import (
	"context"
	"math"

	"eggplot/plotter"
)

// ZTolerance is how close Z must be to 0 to count as pen down
const ZTolerance = 1e-3

// Machine is the motion target driven by the interpreter. The live plotter and
// the estimator both implement it on top of the same planner.
type Machine interface {
	MoveTo(ctx context.Context, x, y float64) error
	PenUp(ctx context.Context) error
	PenDown(ctx context.Context) error
	GetCurrentPosition() plotter.Position
	SetFeedrate(f float64)
}

// Interpreter executes G-code commands
type Interpreter struct {
	machine Machine
}

// NewInterpreter creates a new G-code interpreter
func NewInterpreter(machine Machine) *Interpreter {
	return &Interpreter{machine: machine}
}

// Execute executes a parsed G-code command
func (interp *Interpreter) Execute(ctx context.Context, cmd *plotter.ToolCommand) error {
	if cmd == nil {
		return nil
	}

	// Z selects the pen before the command's own action
	if cmd.HasParameter('Z') {
		var err error
		if math.Abs(cmd.GetParameter('Z', 0)) < ZTolerance {
			err = interp.machine.PenDown(ctx)
		} else {
			err = interp.machine.PenUp(ctx)
		}
		if err != nil {
			return err
		}
	}

	switch cmd.Kind {
	case plotter.RapidMove, plotter.LinearMove, plotter.ArcMove:
		return interp.doMove(ctx, cmd)
	case plotter.PenDown:
		return interp.machine.PenDown(ctx)
	case plotter.PenUp, plotter.ProgramEnd:
		return interp.machine.PenUp(ctx)
	case plotter.SetFeedrate:
		if cmd.HasParameter('F') {
			interp.machine.SetFeedrate(cmd.GetParameter('F', 0))
		}
	}

	return nil
}

// doMove executes a move. Arcs go straight to their endpoint.
func (interp *Interpreter) doMove(ctx context.Context, cmd *plotter.ToolCommand) error {
	current := interp.machine.GetCurrentPosition()

	if cmd.HasParameter('F') {
		interp.machine.SetFeedrate(cmd.GetParameter('F', 0))
	}

	x := cmd.GetParameter('X', current.X)
	y := cmd.GetParameter('Y', current.Y)
	return interp.machine.MoveTo(ctx, x, y)
}
