package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"eggplot/plotter"
	"eggplot/plotter/gcode"
	"eggplot/plotter/metrics"
)

var estimateCmd = &cobra.Command{
	Use:   "estimate FILE",
	Short: "Estimate plot distance, time and size",
	Long: `Replay a G-code file through the motion compiler without a device and
report the distance, time, pen changes, drawing size and start corner.`,
	Args: cobra.ExactArgs(1),
	RunE: runEstimate,
}

func init() {
	rootCmd.AddCommand(estimateCmd)
}

func runEstimate(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}

	prog, est, err := loadProgram(args[0], cfg, logger)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "File:        %s\n", args[0])
	fmt.Fprintf(out, "Commands:    %d\n", len(prog.Commands))
	fmt.Fprintf(out, "Moves:       %d\n", est.Moves)
	fmt.Fprintf(out, "Distance:    %.1f mm\n", est.Distance)
	fmt.Fprintf(out, "Time:        %s\n", est.Time)
	fmt.Fprintf(out, "Pen changes: %d\n", est.PenChanges)
	fmt.Fprintf(out, "Size:        %.1f x %.1f mm\n", est.Bounds.Width(), est.Bounds.Height())
	fmt.Fprintf(out, "Start:       %s\n", est.Start)
	if len(prog.Warnings) > 0 {
		fmt.Fprintf(out, "Warnings:    %d\n", len(prog.Warnings))
	}
	return nil
}

// loadProgram parses a G-code file and estimates it
func loadProgram(path string, cfg *plotter.Config, logger *slog.Logger) (*gcode.Program, *metrics.Estimate, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	prog, err := gcode.Parse(f)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	for _, w := range prog.Warnings {
		logger.Warn("parse warning", "line", w.Line, "token", w.Token, "error", w.Err)
	}

	est, err := metrics.Run(prog.Commands, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to estimate %s: %w", path, err)
	}
	return prog, est, nil
}
