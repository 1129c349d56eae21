package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"eggplot/plotter/kinematics"
	"eggplot/plotter/machine"
)

var jogCmd = &cobra.Command{
	Use:   "jog x|y [MM]",
	Short: "Move the carriage along one axis",
	Long: `Move the carriage along X or Y using the jog speed. MM may be negative;
it defaults to the configured jog distance.

Examples:
  eggplot jog x 10
  eggplot jog y -2.5`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runJog,
}

func init() {
	rootCmd.AddCommand(jogCmd)
}

func runJog(cmd *cobra.Command, args []string) error {
	mode, err := parseAxis(args[0])
	if err != nil {
		return err
	}

	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}

	mm := cfg.Jog.DistanceMM
	if len(args) == 2 {
		mm, err = strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("invalid distance %q", args[1])
		}
	}

	dev, err := connect(cfg, logger)
	if err != nil {
		return err
	}
	defer dev.Detach()

	p := machine.New(dev, cfg, logger)
	if err := p.Jog(cmd.Context(), mode, mm); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Jogged %s %.3f mm\n", args[0], mm)
	return nil
}

// parseAxis maps "x" or "y" to a jog mode
func parseAxis(s string) (kinematics.Mode, error) {
	switch strings.ToLower(s) {
	case "x":
		return kinematics.JogX, nil
	case "y":
		return kinematics.JogY, nil
	}
	return 0, fmt.Errorf("unknown axis %q (x or y)", s)
}
