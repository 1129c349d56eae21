package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var penCmd = &cobra.Command{
	Use:   "pen up|down",
	Short: "Raise or lower the pen",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		up, err := parseSwitch(args[0], "up", "down")
		if err != nil {
			return err
		}
		return withDevice(cmd, func(d auxDevice) error {
			return d.Pen(cmd.Context(), up)
		})
	},
}

var fanCmd = &cobra.Command{
	Use:   "fan on|off",
	Short: "Switch the cooling fan output",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		on, err := parseSwitch(args[0], "on", "off")
		if err != nil {
			return err
		}
		return withDevice(cmd, func(d auxDevice) error {
			return d.Fan(on)
		})
	},
}

var motorsCmd = &cobra.Command{
	Use:   "motors on|off",
	Short: "Enable or release both motors",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		on, err := parseSwitch(args[0], "on", "off")
		if err != nil {
			return err
		}
		return withDevice(cmd, func(d auxDevice) error {
			if on {
				return d.EnableMotors()
			}
			return d.DisableMotors()
		})
	},
}

var versionCmd = &cobra.Command{
	Use:   "firmware",
	Short: "Print the EBB firmware version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDevice(cmd, func(d auxDevice) error {
			fmt.Fprintln(cmd.OutOrStdout(), d.Version())
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(penCmd)
	rootCmd.AddCommand(fanCmd)
	rootCmd.AddCommand(motorsCmd)
	rootCmd.AddCommand(versionCmd)
}

// withDevice connects, runs fn and detaches leaving the pen and motors as fn set them
func withDevice(cmd *cobra.Command, fn func(auxDevice) error) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	dev, err := connect(cfg, logger)
	if err != nil {
		return err
	}
	defer dev.Detach()
	return fn(dev)
}
