package planner

import (
	"errors"
	"fmt"
	"math"

	"eggplot/plotter"
	"eggplot/plotter/kinematics"
)

// Epsilon is the smallest move (mm) that is compiled at all
const Epsilon = 1e-3

// ErrInvalidDuration is returned when the configuration produces a duration
// that cannot be sent to the device
var ErrInvalidDuration = errors.New("invalid move duration")

// Steps holds Cartesian step deltas
type Steps struct {
	X int32
	Y int32
}

// Move is the result of compiling one target
type Move struct {
	Start    plotter.Position
	End      plotter.Position
	Distance float64 // Requested distance (mm)
	Steps    Steps
	Command  plotter.MotorCommand
	Issued   bool // False when the move compiled to no device command
}

// Planner turns Cartesian targets into motor commands and owns the tool state
type Planner struct {
	drawing    plotter.MotionConfig
	jog        plotter.MotionConfig
	kinematics kinematics.Kinematics

	state plotter.ToolState
}

// NewPlanner creates a new motion planner
func NewPlanner(cfg *plotter.Config, kin kinematics.Kinematics) *Planner {
	return &Planner{
		drawing:    cfg.Drawing,
		jog:        cfg.Jog.Motion,
		kinematics: kin,
	}
}

// motion returns the settings for a mode
func (p *Planner) motion(mode kinematics.Mode) plotter.MotionConfig {
	if mode.IsJog() {
		return p.jog
	}
	return p.drawing
}

// CompileMove compiles a move to (x, y). The tracked position always becomes
// the target, even when the move is too small to produce any steps.
func (p *Planner) CompileMove(x, y float64, mode kinematics.Mode) (Move, error) {
	cfg := p.motion(mode)
	start := p.state.Position
	target := plotter.Position{X: x, Y: y}

	dx := target.X - start.X
	dy := target.Y - start.Y
	distance := math.Hypot(dx, dy)

	move := Move{
		Start:    start,
		End:      target,
		Distance: distance,
	}

	if distance < Epsilon {
		p.state.Position = target
		return move, nil
	}

	nominal := math.Round(1000 * distance * cfg.StepsPerMM / cfg.StepScale / cfg.Speed)
	if math.IsNaN(nominal) || math.IsInf(nominal, 0) || nominal < 0 || nominal > math.MaxUint32 {
		return Move{}, fmt.Errorf("%w: %v ms for %.3f mm in %s mode", ErrInvalidDuration, nominal, distance, mode)
	}
	duration := uint32(nominal)
	if duration < cfg.MinDurationMS {
		duration = cfg.MinDurationMS
	}

	sx, err := toSteps(dx, cfg)
	if err != nil {
		return Move{}, err
	}
	sy, err := toSteps(dy, cfg)
	if err != nil {
		return Move{}, err
	}
	move.Steps = Steps{X: sx, Y: sy}

	// Position advances before the zero-step check; the fraction is not carried.
	p.state.Position = target

	if sx == 0 && sy == 0 {
		return move, nil
	}

	m1, m2 := p.kinematics.MotorSteps(sx, sy, mode)
	duration = clampDuration(duration, cfg.MinStepRateHz, m1, m2)

	move.Command = plotter.MotorCommand{
		DurationMS: duration,
		Motor1:     m1,
		Motor2:     m2,
	}
	move.Issued = true
	return move, nil
}

// toSteps converts an axis delta in mm to a rounded step count
func toSteps(delta float64, cfg plotter.MotionConfig) (int32, error) {
	steps := math.Round(delta * cfg.StepsPerMM / cfg.StepScale)
	if math.IsNaN(steps) || steps > math.MaxInt32 || steps < math.MinInt32 {
		return 0, fmt.Errorf("step count out of range: %v", steps)
	}
	return int32(steps), nil
}

// clampDuration shortens duration so neither motor steps slower than minRate
func clampDuration(duration uint32, minRate float64, motors ...int32) uint32 {
	for _, m := range motors {
		if m == 0 {
			continue
		}
		if bound := MaxDuration(m, minRate); bound < duration {
			duration = bound
		}
	}
	if duration < 1 {
		duration = 1
	}
	return duration
}

// MaxDuration returns the longest duration (ms, truncated) that keeps a motor
// at or above minRate steps/s
func MaxDuration(steps int32, minRate float64) uint32 {
	return uint32(math.Abs(float64(steps)) / minRate * 1000)
}

// State returns a copy of the tool state
func (p *Planner) State() plotter.ToolState {
	return p.state
}

// GetCurrentPosition returns the tracked position
func (p *Planner) GetCurrentPosition() plotter.Position {
	return p.state.Position
}

// SetPosition overrides the tracked position without moving
func (p *Planner) SetPosition(pos plotter.Position) {
	p.state.Position = pos
}

// PenIsDown reports the tracked pen state
func (p *Planner) PenIsDown() bool {
	return p.state.PenDown
}

// NeedsPen reports whether moving the pen to down would change anything
func (p *Planner) NeedsPen(down bool) bool {
	return p.state.PenDown != down
}

// SetPen records a completed pen transition
func (p *Planner) SetPen(down bool) {
	p.state.PenDown = down
}

// SetFeedrate records the requested feedrate (mm/min)
func (p *Planner) SetFeedrate(f float64) {
	p.state.Feedrate = f
}

// Reset returns the planner to the origin with the pen up
func (p *Planner) Reset() {
	p.state = plotter.ToolState{}
}
