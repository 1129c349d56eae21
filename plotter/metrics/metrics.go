// Package metrics estimates plot distance and time before running a program.
//
// The estimate replays commands through the same interpreter and planner the
// live plotter uses, so live progress can be compared against it directly.
package metrics

import (
	"context"
	"fmt"
	"math"
	"time"

	"eggplot/plotter"
	"eggplot/plotter/gcode"
	"eggplot/plotter/kinematics"
	"eggplot/plotter/planner"
)

// Bounds is the bounding box of visited points
type Bounds struct {
	Min   plotter.Position
	Max   plotter.Position
	Valid bool
}

func (b *Bounds) add(p plotter.Position) {
	if !b.Valid {
		b.Min, b.Max, b.Valid = p, p, true
		return
	}
	b.Min.X = math.Min(b.Min.X, p.X)
	b.Min.Y = math.Min(b.Min.Y, p.Y)
	b.Max.X = math.Max(b.Max.X, p.X)
	b.Max.Y = math.Max(b.Max.Y, p.Y)
}

// Width returns the X extent (mm)
func (b Bounds) Width() float64 {
	return b.Max.X - b.Min.X
}

// Height returns the Y extent (mm)
func (b Bounds) Height() float64 {
	return b.Max.Y - b.Min.Y
}

// Estimate summarizes a dry run
type Estimate struct {
	Commands   int           // Commands replayed
	Moves      int           // Motion commands that would be sent
	Distance   float64       // Requested travel (mm)
	Time       time.Duration // Moves, pads, overhead and pen settles
	PenChanges int
	Bounds     Bounds
	Start      string // Quadrant of the first move target
}

func (e *Estimate) String() string {
	return fmt.Sprintf("%d commands, %d moves, %.1f mm, %s, %d pen changes, %.1f x %.1f mm, start %s",
		e.Commands, e.Moves, e.Distance, e.Time.Round(time.Second), e.PenChanges,
		e.Bounds.Width(), e.Bounds.Height(), e.Start)
}

// Run replays cmds without touching any device
func Run(cmds []plotter.ToolCommand, cfg *plotter.Config) (*Estimate, error) {
	dry := &dryRun{
		cfg:     cfg,
		planner: planner.NewPlanner(cfg, kinematics.NewHBot()),
		est:     &Estimate{},
	}
	interp := gcode.NewInterpreter(dry)

	ctx := context.Background()
	for i := range cmds {
		if err := interp.Execute(ctx, &cmds[i]); err != nil {
			return nil, fmt.Errorf("line %d: %w", cmds[i].Line, err)
		}
		dry.est.Commands++
	}

	dry.est.Start = quadrant(dry.first, dry.hasFirst, dry.est.Bounds)
	return dry.est, nil
}

// dryRun is a gcode.Machine that only accumulates
type dryRun struct {
	cfg     *plotter.Config
	planner *planner.Planner
	est     *Estimate

	first    plotter.Position
	hasFirst bool
}

func (d *dryRun) MoveTo(ctx context.Context, x, y float64) error {
	move, err := d.planner.CompileMove(x, y, kinematics.Draw)
	if err != nil {
		return err
	}

	if !d.hasFirst {
		d.first, d.hasFirst = move.End, true
	}
	d.est.Bounds.add(move.End)
	d.est.Distance += move.Distance

	if move.Issued {
		d.est.Moves++
		d.est.Time += move.Command.Duration() + d.cfg.MoveSettle() +
			time.Duration(d.cfg.Timing.CommandOverheadMS)*time.Millisecond
	}
	return nil
}

func (d *dryRun) PenUp(ctx context.Context) error {
	return d.setPen(false)
}

func (d *dryRun) PenDown(ctx context.Context) error {
	return d.setPen(true)
}

func (d *dryRun) setPen(down bool) error {
	if !d.planner.NeedsPen(down) {
		return nil
	}
	d.planner.SetPen(down)
	d.est.PenChanges++
	d.est.Time += d.cfg.PenSettle()
	return nil
}

func (d *dryRun) GetCurrentPosition() plotter.Position {
	return d.planner.GetCurrentPosition()
}

func (d *dryRun) SetFeedrate(f float64) {
	d.planner.SetFeedrate(f)
}

// quadrant names where the first target sits relative to the plot center
func quadrant(p plotter.Position, ok bool, b Bounds) string {
	if !ok || !b.Valid {
		return "Unknown"
	}
	midX := (b.Min.X + b.Max.X) / 2
	midY := (b.Min.Y + b.Max.Y) / 2

	vertical := "Lower"
	if p.Y >= midY {
		vertical = "Upper"
	}
	horizontal := "Right"
	if p.X <= midX {
		horizontal = "Left"
	}
	return vertical + " " + horizontal
}
