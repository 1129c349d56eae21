package calibrate

import (
	"errors"
	"math"
	"strings"
	"testing"

	"eggplot/plotter"
	"eggplot/plotter/config"
	"eggplot/plotter/gcode"
	"eggplot/plotter/metrics"
)

func TestPatternProgram(t *testing.T) {
	text, err := DefaultPattern().GCode()
	if err != nil {
		t.Fatalf("GCode failed: %v", err)
	}

	prog, err := gcode.ParseString(text)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(prog.Warnings) != 0 {
		t.Errorf("Expected no warnings, got %v", prog.Warnings)
	}
	if len(prog.Commands) != 90 {
		t.Errorf("Expected 90 commands, got %d", len(prog.Commands))
	}

	first := prog.Commands[0]
	if first.Kind != plotter.RapidMove || first.GetParameter('X', -1) != 10 || first.GetParameter('Y', -1) != 10 {
		t.Errorf("Expected rapid to (10,10), got %q", first.Raw)
	}
	if last := prog.Commands[len(prog.Commands)-1]; last.Kind != plotter.ProgramEnd {
		t.Errorf("Expected program end, got %s", last.Kind)
	}

	pendowns := strings.Count(text, "M3\n")
	if pendowns != 6 {
		t.Errorf("Expected 6 strokes, got %d", pendowns)
	}
}

func TestPatternBounds(t *testing.T) {
	text, _ := DefaultPattern().GCode()
	prog, _ := gcode.ParseString(text)

	est, err := metrics.Run(prog.Commands, config.Default())
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}

	b := est.Bounds
	if b.Min.X != 0 || b.Min.Y != 0 {
		t.Errorf("Expected min (0,0), got (%v,%v)", b.Min.X, b.Min.Y)
	}
	if math.Abs(b.Max.X-117.5) > 1e-9 || math.Abs(b.Max.Y-110) > 1e-9 {
		t.Errorf("Expected max (117.5,110), got (%v,%v)", b.Max.X, b.Max.Y)
	}
	if est.PenChanges != 12 {
		t.Errorf("Expected 12 pen changes, got %d", est.PenChanges)
	}
}

func TestPatternRejectsBadSizes(t *testing.T) {
	tests := []Pattern{
		{X: 0, Y: 50, Circle: 40, Circle2: 30},
		{X: 50, Y: -1, Circle: 40, Circle2: 30},
		{X: 50, Y: 50, Circle: math.NaN(), Circle2: 30},
		{X: 50, Y: 50, Circle: 40, Circle2: math.Inf(1)},
	}

	for _, p := range tests {
		if _, err := p.GCode(); !errors.Is(err, ErrInvalidDimension) {
			t.Errorf("%+v: expected ErrInvalidDimension, got %v", p, err)
		}
	}
}

func TestCompute(t *testing.T) {
	tests := []struct {
		name     string
		measured Pattern
		steps    [4]float64
		errors   [4]float64
		average  float64
	}{
		{
			name:     "exact",
			measured: DefaultPattern(),
			steps:    [4]float64{100, 100, 100, 100},
			errors:   [4]float64{0, 0, 0, 0},
			average:  100,
		},
		{
			name:     "short x long y",
			measured: Pattern{X: 25, Y: 100, Circle: 40, Circle2: 30},
			steps:    [4]float64{200, 50, 100, 100},
			errors:   [4]float64{50, 100, 0, 0},
			average:  112.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Compute(100, DefaultPattern(), tt.measured)
			if err != nil {
				t.Fatalf("Compute failed: %v", err)
			}
			for i, c := range res.Corrections {
				if math.Abs(c.StepsPerMM-tt.steps[i]) > 1e-9 {
					t.Errorf("%s: expected %v steps/mm, got %v", c.Name, tt.steps[i], c.StepsPerMM)
				}
				if math.Abs(c.ErrorPercent-tt.errors[i]) > 1e-9 {
					t.Errorf("%s: expected %v%% error, got %v", c.Name, tt.errors[i], c.ErrorPercent)
				}
			}
			if math.Abs(res.Average-tt.average) > 1e-9 {
				t.Errorf("Expected average %v, got %v", tt.average, res.Average)
			}
		})
	}
}

func TestComputeApply(t *testing.T) {
	res, err := Compute(100, DefaultPattern(), Pattern{X: 25, Y: 100, Circle: 40, Circle2: 30})
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	cfg := config.Default()
	res.Apply(cfg)
	if cfg.Drawing.StepsPerMM != 112.5 {
		t.Errorf("Expected 112.5 steps/mm, got %v", cfg.Drawing.StepsPerMM)
	}
	if cfg.Jog.Motion.StepsPerMM != 40 {
		t.Errorf("Jog steps/mm should be unchanged, got %v", cfg.Jog.Motion.StepsPerMM)
	}
	if !strings.Contains(res.String(), "average: 112.5000") {
		t.Errorf("Expected average in summary, got %q", res.String())
	}
}

func TestComputeRejectsBadInput(t *testing.T) {
	if _, err := Compute(0, DefaultPattern(), DefaultPattern()); !errors.Is(err, ErrInvalidDimension) {
		t.Errorf("Expected ErrInvalidDimension for zero current, got %v", err)
	}
	if _, err := Compute(100, DefaultPattern(), Pattern{X: 50, Y: 50, Circle: 0, Circle2: 30}); !errors.Is(err, ErrInvalidDimension) {
		t.Errorf("Expected ErrInvalidDimension for zero measurement, got %v", err)
	}
}
