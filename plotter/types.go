package plotter

import (
	"context"
	"time"
)

// Position represents a position in machine coordinates (mm)
type Position struct {
	X float64
	Y float64
}

// Kind classifies a parsed G-code line
type Kind int

const (
	Unknown Kind = iota
	RapidMove
	LinearMove
	ArcMove
	PenDown
	PenUp
	ProgramEnd
	SetFeedrate
)

func (k Kind) String() string {
	switch k {
	case RapidMove:
		return "RapidMove"
	case LinearMove:
		return "LinearMove"
	case ArcMove:
		return "ArcMove"
	case PenDown:
		return "PenDown"
	case PenUp:
		return "PenUp"
	case ProgramEnd:
		return "ProgramEnd"
	case SetFeedrate:
		return "SetFeedrate"
	}
	return "Unknown"
}

// IsMove reports whether the kind produces a motion target
func (k Kind) IsMove() bool {
	return k == RapidMove || k == LinearMove || k == ArcMove
}

// ToolCommand represents a parsed G-code command
type ToolCommand struct {
	Kind   Kind
	Word   string           // Normalized command word (e.g. "G01")
	Params map[byte]float64 // Parameters (X, Y, Z, F, ...)
	Raw    string           // Source text
	Line   int              // 1-based source line
}

// HasParameter checks if a parameter exists in the command
func (cmd *ToolCommand) HasParameter(param byte) bool {
	_, ok := cmd.Params[param]
	return ok
}

// GetParameter gets a parameter value, or returns the default if not present
func (cmd *ToolCommand) GetParameter(param byte, defaultValue float64) float64 {
	if val, ok := cmd.Params[param]; ok {
		return val
	}
	return defaultValue
}

// ToolState is the commanded state of the pen carriage
type ToolState struct {
	Position Position
	PenDown  bool
	Feedrate float64 // mm/min, tracked only
}

// MotorCommand is one paired stepper move for the EBB
type MotorCommand struct {
	DurationMS uint32
	Motor1     int32
	Motor2     int32
}

// Duration returns the move time as a time.Duration
func (m MotorCommand) Duration() time.Duration {
	return time.Duration(m.DurationMS) * time.Millisecond
}

// Device is the motion hardware driven by the plotter
type Device interface {
	// Ready reports whether the device is connected and configured
	Ready() bool

	// Move issues a stepper move and returns once the device accepted it
	Move(ctx context.Context, cmd MotorCommand) error

	// Pen raises (up=true) or lowers the pen servo
	Pen(ctx context.Context, up bool) error

	// Halt stops all motion immediately
	Halt() error
}

// MotionConfig holds the per-mode compiler constants
type MotionConfig struct {
	StepsPerMM    float64 `json:"steps_per_mm" yaml:"steps_per_mm" toml:"steps_per_mm"`
	StepScale     float64 `json:"step_scale" yaml:"step_scale" toml:"step_scale"`
	Speed         float64 `json:"speed" yaml:"speed" toml:"speed"` // steps/s
	MinDurationMS uint32  `json:"min_duration_ms" yaml:"min_duration_ms" toml:"min_duration_ms"`
	MinStepRateHz float64 `json:"min_step_rate_hz" yaml:"min_step_rate_hz" toml:"min_step_rate_hz"`
}

// PenConfig holds servo settings
type PenConfig struct {
	UpPercent   float64 `json:"up_percent" yaml:"up_percent" toml:"up_percent"`
	DownPercent float64 `json:"down_percent" yaml:"down_percent" toml:"down_percent"`
	ServoMoveMS int     `json:"servo_move_ms" yaml:"servo_move_ms" toml:"servo_move_ms"`
	SettleMS    int     `json:"settle_ms" yaml:"settle_ms" toml:"settle_ms"`
}

// TimingConfig holds dispatch pacing constants
type TimingConfig struct {
	MoveSettleMS      int `json:"move_settle_ms" yaml:"move_settle_ms" toml:"move_settle_ms"`
	CommandOverheadMS int `json:"command_overhead_ms" yaml:"command_overhead_ms" toml:"command_overhead_ms"`
	AckTimeoutMS      int `json:"ack_timeout_ms" yaml:"ack_timeout_ms" toml:"ack_timeout_ms"`
}

// JogConfig holds manual jog settings
type JogConfig struct {
	Motion     MotionConfig `json:"motion" yaml:"motion" toml:"motion"`
	DistanceMM float64      `json:"distance_mm" yaml:"distance_mm" toml:"distance_mm"`
}

// FanConfig names the digital output driving the fan
type FanConfig struct {
	Port string `json:"port" yaml:"port" toml:"port"`
	Pin  int    `json:"pin" yaml:"pin" toml:"pin"`
}

// SerialConfig holds connection settings
type SerialConfig struct {
	Device        string `json:"device" yaml:"device" toml:"device"`
	Baud          int    `json:"baud" yaml:"baud" toml:"baud"`
	ReadTimeoutMS int    `json:"read_timeout_ms" yaml:"read_timeout_ms" toml:"read_timeout_ms"`
}

// Config represents the complete plotter configuration
type Config struct {
	Drawing MotionConfig `json:"drawing" yaml:"drawing" toml:"drawing"`
	Jog     JogConfig    `json:"jog" yaml:"jog" toml:"jog"`
	Pen     PenConfig    `json:"pen" yaml:"pen" toml:"pen"`
	Timing  TimingConfig `json:"timing" yaml:"timing" toml:"timing"`
	Fan     FanConfig    `json:"fan" yaml:"fan" toml:"fan"`
	Serial  SerialConfig `json:"serial" yaml:"serial" toml:"serial"`
}

// PenSettle returns the pen settle delay
func (c *Config) PenSettle() time.Duration {
	return time.Duration(c.Pen.SettleMS) * time.Millisecond
}

// MoveSettle returns the pad added after every motion command
func (c *Config) MoveSettle() time.Duration {
	return time.Duration(c.Timing.MoveSettleMS) * time.Millisecond
}
