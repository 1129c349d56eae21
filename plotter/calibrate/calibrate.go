// Package calibrate draws a steps-per-mm test pattern and computes a
// corrected value from measurements of the drawn pattern.
package calibrate

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"eggplot/plotter"
)

// Segments is the number of chords used for each circle
const Segments = 32

// ErrInvalidDimension is returned for zero or negative sizes
var ErrInvalidDimension = errors.New("dimensions must be positive")

// Pattern holds the four test sizes (mm)
type Pattern struct {
	X       float64 // Horizontal line length
	Y       float64 // Vertical line length
	Circle  float64 // First circle diameter
	Circle2 float64 // Second circle diameter, drawn with crosshairs
}

// DefaultPattern returns the standard 50/50/40/30 mm pattern
func DefaultPattern() Pattern {
	return Pattern{X: 50, Y: 50, Circle: 40, Circle2: 30}
}

// Validate checks every dimension is positive
func (p Pattern) Validate() error {
	for _, v := range p.values() {
		if !(v > 0) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %v", ErrInvalidDimension, v)
		}
	}
	return nil
}

func (p Pattern) values() [4]float64 {
	return [4]float64{p.X, p.Y, p.Circle, p.Circle2}
}

// GCode renders the pattern as a program
func (p Pattern) GCode() (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}

	var w writer
	w.comment("calibration pattern")

	// X axis
	w.stroke(plotter.Position{X: 10, Y: 10}, plotter.Position{X: 10 + p.X, Y: 10})

	// Y axis
	w.stroke(plotter.Position{X: 20 + p.X, Y: 10}, plotter.Position{X: 20 + p.X, Y: 10 + p.Y})

	// Combined axes
	c1 := plotter.Position{X: 10 + p.X/2, Y: 20 + p.Y + p.Circle/2}
	w.circle(c1, p.Circle/2)

	c2 := plotter.Position{X: 30 + p.X + p.Circle2/2, Y: 20 + p.Y + p.Circle2/2}
	w.circle(c2, p.Circle2/2)

	cross := p.Circle2 / 2 * 1.5
	w.stroke(plotter.Position{X: c2.X - cross, Y: c2.Y}, plotter.Position{X: c2.X + cross, Y: c2.Y})
	w.stroke(plotter.Position{X: c2.X, Y: c2.Y - cross}, plotter.Position{X: c2.X, Y: c2.Y + cross})

	w.line("G0", plotter.Position{})
	w.raw("M2")
	return w.String(), nil
}

// writer builds G-code text
type writer struct {
	strings.Builder
}

func (w *writer) raw(s string) {
	w.WriteString(s)
	w.WriteByte('\n')
}

func (w *writer) comment(s string) {
	w.raw("; " + s)
}

func (w *writer) line(word string, p plotter.Position) {
	w.raw(word + " X" + format(p.X) + " Y" + format(p.Y))
}

// stroke draws a single pen-down segment
func (w *writer) stroke(from, to plotter.Position) {
	w.line("G0", from)
	w.raw("M3")
	w.line("G1", to)
	w.raw("M5")
}

func (w *writer) circle(center plotter.Position, radius float64) {
	w.line("G0", plotter.Position{X: center.X + radius, Y: center.Y})
	w.raw("M3")
	for i := 0; i <= Segments; i++ {
		angle := 2 * math.Pi * float64(i) / Segments
		w.line("G1", plotter.Position{
			X: center.X + radius*math.Cos(angle),
			Y: center.Y + radius*math.Sin(angle),
		})
	}
	w.raw("M5")
}

func format(v float64) string {
	s := strconv.FormatFloat(v, 'f', 3, 64)
	if s == "-0.000" {
		return "0.000"
	}
	return s
}

// Correction is the result for one measured feature
type Correction struct {
	Name         string
	Intended     float64
	Measured     float64
	StepsPerMM   float64 // Recommended steps/mm from this feature
	ErrorPercent float64
}

// Result is a full calibration computation
type Result struct {
	Current     float64
	Corrections []Correction
	Average     float64
}

// Compute derives corrected steps/mm as current*intended/measured for each
// feature and averages the four results
func Compute(current float64, intended, measured Pattern) (*Result, error) {
	if !(current > 0) {
		return nil, fmt.Errorf("%w: current steps/mm %v", ErrInvalidDimension, current)
	}
	if err := intended.Validate(); err != nil {
		return nil, fmt.Errorf("intended: %w", err)
	}
	if err := measured.Validate(); err != nil {
		return nil, fmt.Errorf("measured: %w", err)
	}

	names := [4]string{"x", "y", "circle", "circle2"}
	want := intended.values()
	got := measured.values()

	res := &Result{Current: current}
	sum := 0.0
	for i, name := range names {
		steps := current * (want[i] / got[i])
		res.Corrections = append(res.Corrections, Correction{
			Name:         name,
			Intended:     want[i],
			Measured:     got[i],
			StepsPerMM:   steps,
			ErrorPercent: math.Abs((got[i] - want[i]) / want[i] * 100),
		})
		sum += steps
	}
	res.Average = sum / float64(len(names))
	return res, nil
}

// Apply stores the averaged steps/mm as the drawing setting
func (r *Result) Apply(cfg *plotter.Config) {
	cfg.Drawing.StepsPerMM = r.Average
}

func (r *Result) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "current steps/mm: %.4f\n", r.Current)
	for _, c := range r.Corrections {
		fmt.Fprintf(&b, "  %-8s %.4f (error %.1f%%)\n", c.Name, c.StepsPerMM, c.ErrorPercent)
	}
	fmt.Fprintf(&b, "average: %.4f\n", r.Average)
	return b.String()
}
