package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"eggplot/plotter/calibrate"
	"eggplot/plotter/gcode"
	"eggplot/plotter/machine"
	"eggplot/plotter/metrics"
	"eggplot/plotter/session"
)

var (
	patternSizes  []float64
	measuredSizes []float64
	currentSteps  float64
	drawPattern   bool
	patternOutput string
)

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Draw a test pattern and correct steps/mm",
	Long: `Calibrate steps/mm in two steps:

  1. eggplot calibrate pattern --draw
     draws an X line, a Y line and two circles (the second with crosshairs)
  2. measure them and run
     eggplot calibrate compute --measured 49.2,50.4,39.8,30.1

Sizes are given as X,Y,CIRCLE,CIRCLE2 in mm (default 50,50,40,30).`,
}

var patternCmd = &cobra.Command{
	Use:   "pattern",
	Short: "Emit or draw the calibration pattern",
	Args:  cobra.NoArgs,
	RunE:  runPattern,
}

var computeCmd = &cobra.Command{
	Use:   "compute",
	Short: "Compute corrected steps/mm from measurements",
	Args:  cobra.NoArgs,
	RunE:  runCompute,
}

func init() {
	rootCmd.AddCommand(calibrateCmd)
	calibrateCmd.AddCommand(patternCmd)
	calibrateCmd.AddCommand(computeCmd)

	calibrateCmd.PersistentFlags().Float64SliceVar(&patternSizes, "intended", nil,
		"pattern sizes X,Y,CIRCLE,CIRCLE2 in mm")

	patternCmd.Flags().BoolVar(&drawPattern, "draw", false,
		"draw the pattern on the EBB instead of printing G-code")
	patternCmd.Flags().StringVarP(&patternOutput, "output", "o", "",
		"write G-code to this file")

	computeCmd.Flags().Float64SliceVar(&measuredSizes, "measured", nil,
		"measured sizes X,Y,CIRCLE,CIRCLE2 in mm")
	computeCmd.Flags().Float64Var(&currentSteps, "current", 0,
		"steps/mm used to draw the pattern (default: configured value)")
	computeCmd.MarkFlagRequired("measured")
}

// toPattern converts a four value flag
func toPattern(name string, v []float64) (calibrate.Pattern, error) {
	if len(v) == 0 {
		return calibrate.DefaultPattern(), nil
	}
	if len(v) != 4 {
		return calibrate.Pattern{}, fmt.Errorf("--%s needs 4 values, got %d", name, len(v))
	}
	return calibrate.Pattern{X: v[0], Y: v[1], Circle: v[2], Circle2: v[3]}, nil
}

func runPattern(cmd *cobra.Command, args []string) error {
	pattern, err := toPattern("intended", patternSizes)
	if err != nil {
		return err
	}
	text, err := pattern.GCode()
	if err != nil {
		return err
	}

	if !drawPattern {
		if patternOutput != "" {
			return os.WriteFile(patternOutput, []byte(text), 0o644)
		}
		fmt.Fprint(cmd.OutOrStdout(), text)
		return nil
	}

	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	prog, err := gcode.ParseString(text)
	if err != nil {
		return err
	}
	est, err := metrics.Run(prog.Commands, cfg)
	if err != nil {
		return err
	}

	dev, err := connect(cfg, logger)
	if err != nil {
		return err
	}
	defer dev.Close()

	s := session.New(prog.Commands, machine.New(dev, cfg, logger), session.Options{
		Estimate: est,
		Logger:   logger,
		Observer: progressPrinter(cmd.OutOrStdout()),
	})
	if err := s.Start(context.Background()); err != nil {
		return err
	}
	if _, err := s.Wait(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Pattern drawn: X %.1f mm, Y %.1f mm, circles %.1f and %.1f mm\n",
		pattern.X, pattern.Y, pattern.Circle, pattern.Circle2)
	return nil
}

func runCompute(cmd *cobra.Command, args []string) error {
	intended, err := toPattern("intended", patternSizes)
	if err != nil {
		return err
	}
	measured, err := toPattern("measured", measuredSizes)
	if err != nil {
		return err
	}

	current := currentSteps
	if current == 0 {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		current = cfg.Drawing.StepsPerMM
	}

	res, err := calibrate.Compute(current, intended, measured)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), res)
	return nil
}
