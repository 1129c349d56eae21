package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/shlex"
	"github.com/spf13/cobra"

	"eggplot/plotter"
	"eggplot/plotter/machine"
)

// auxDevice is the EBB surface the one-shot commands and the console use
type auxDevice interface {
	plotter.Device
	Fan(on bool) error
	EnableMotors() error
	DisableMotors() error
	Version() string
}

var errQuit = errors.New("quit")

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Interactive jog console",
	Long: `Open an interactive console for jogging and setting up the plotter.
Type 'help' for the available commands.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup(cmd)
		if err != nil {
			return err
		}
		dev, err := connect(cfg, logger)
		if err != nil {
			return err
		}
		defer dev.Close()

		c := &console{
			device:  dev,
			plotter: machine.New(dev, cfg, logger),
			out:     cmd.OutOrStdout(),
		}
		fmt.Fprintf(c.out, "Connected to %s\n", dev.Version())
		return c.run(cmd.Context(), cmd.InOrStdin())
	},
}

func init() {
	rootCmd.AddCommand(consoleCmd)
}

// console runs jog and setup commands typed by the user
type console struct {
	device  auxDevice
	plotter *machine.Plotter
	out     io.Writer
}

func (c *console) run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(c.out, "> ")
		if !scanner.Scan() {
			break
		}

		err := c.exec(ctx, scanner.Text())
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
		}
	}
	return scanner.Err()
}

// exec runs one console line
func (c *console) exec(ctx context.Context, line string) error {
	args, err := shlex.Split(line)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return nil
	}

	word := strings.ToLower(args[0])
	switch word {
	case "quit", "exit", "q":
		return errQuit

	case "help", "?":
		c.help()
		return nil

	case "x", "y":
		mode, _ := parseAxis(word)
		if len(args) < 2 {
			return c.plotter.JogStep(ctx, mode, 1)
		}
		mm, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("invalid distance %q", args[1])
		}
		return c.plotter.Jog(ctx, mode, mm)

	case "x+", "x-", "y+", "y-":
		mode, _ := parseAxis(word[:1])
		dir := 1
		if word[1] == '-' {
			dir = -1
		}
		return c.plotter.JogStep(ctx, mode, dir)

	case "up":
		return c.plotter.PenUp(ctx)

	case "down":
		return c.plotter.PenDown(ctx)

	case "home":
		c.plotter.SetPosition(plotter.Position{})
		fmt.Fprintln(c.out, "Position set to 0,0")
		return nil

	case "pos":
		pos := c.plotter.GetCurrentPosition()
		fmt.Fprintf(c.out, "X %.3f Y %.3f pen %s\n", pos.X, pos.Y, penName(c.plotter.PenIsDown()))
		return nil

	case "fan", "motors":
		if len(args) < 2 {
			return fmt.Errorf("usage: %s on|off", word)
		}
		on, err := parseSwitch(args[1], "on", "off")
		if err != nil {
			return err
		}
		if word == "fan" {
			return c.device.Fan(on)
		}
		if on {
			return c.device.EnableMotors()
		}
		return c.device.DisableMotors()

	case "stop":
		return c.device.Halt()
	}

	return fmt.Errorf("unknown command %q (type 'help')", args[0])
}

func (c *console) help() {
	fmt.Fprintln(c.out, "\nAvailable commands:")
	fmt.Fprintln(c.out, "  x|y [MM]        - Jog along an axis (default: jog distance)")
	fmt.Fprintln(c.out, "  x+ x- y+ y-     - Jog one step in a direction")
	fmt.Fprintln(c.out, "  up, down        - Raise or lower the pen")
	fmt.Fprintln(c.out, "  home            - Make the current position 0,0")
	fmt.Fprintln(c.out, "  pos             - Print the tracked position")
	fmt.Fprintln(c.out, "  fan on|off      - Switch the fan")
	fmt.Fprintln(c.out, "  motors on|off   - Enable or release the motors")
	fmt.Fprintln(c.out, "  stop            - Emergency stop")
	fmt.Fprintln(c.out, "  quit/exit/q     - Exit the console")
	fmt.Fprintln(c.out)
}

func penName(down bool) string {
	if down {
		return "down"
	}
	return "up"
}
