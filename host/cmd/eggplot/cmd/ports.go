package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"eggplot/host/serial"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports, marking attached EBBs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := serial.Discover()
		if err != nil {
			return err
		}
		printPorts(cmd.OutOrStdout(), ports)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(portsCmd)
}

func printPorts(w io.Writer, ports []serial.PortInfo) {
	if len(ports) == 0 {
		fmt.Fprintln(w, "No serial ports found")
		return
	}
	for _, p := range ports {
		mark := " "
		if p.IsEBB() {
			mark = "*"
		}
		if p.USB {
			fmt.Fprintf(w, "%s %-20s %s:%s %s %s\n", mark, p.Name, p.VID, p.PID, p.Serial, p.Product)
		} else {
			fmt.Fprintf(w, "%s %s\n", mark, p.Name)
		}
	}
}
