package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"eggplot/host/monitor"
	"eggplot/plotter/machine"
	"eggplot/plotter/session"
)

var monitorAddr string

var plotCmd = &cobra.Command{
	Use:   "plot FILE",
	Short: "Plot a G-code file",
	Long: `Plot a G-code file on the connected EBB.

While plotting, type a control word and press enter:
  p, pause     pause after the current command (raises the pen)
  r, resume    continue from where the plot paused
  s, stop      halt the motors immediately
  t, pen       toggle the pen while paused

Ctrl-C also stops the plot.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlot,
}

func init() {
	rootCmd.AddCommand(plotCmd)

	plotCmd.Flags().StringVar(&monitorAddr, "monitor", "",
		"serve live progress on this address (e.g. :8080)")
}

func runPlot(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}

	prog, est, err := loadProgram(args[0], cfg, logger)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Estimate: %s\n", est)

	dev, err := connect(cfg, logger)
	if err != nil {
		return err
	}
	defer dev.Close()

	observers := session.Observers{progressPrinter(out)}

	var srv *monitor.Server
	if monitorAddr != "" {
		srv = monitor.New(monitorAddr, logger)
		observers = append(observers, srv)
	}

	p := machine.New(dev, cfg, logger)
	s := session.New(prog.Commands, p, session.Options{
		Estimate: est,
		Logger:   logger,
		Observer: observers,
	})

	if srv != nil {
		srv.SetController(s)
		go func() {
			if err := srv.Start(); err != nil {
				logger.Error("monitor failed", "error", err)
			}
		}()
		defer srv.Stop()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := s.Start(context.Background()); err != nil {
		return err
	}
	go supervise(ctx, cmd.InOrStdin(), out, s)

	state, err := s.Wait()
	if err != nil {
		return fmt.Errorf("plot %s: %w", state, err)
	}

	progress := s.Progress()
	fmt.Fprintf(out, "Plot %s: %d/%d commands, %.1f mm in %s\n",
		state, progress.Executed, progress.Total,
		progress.ActualDistance, progress.ActualTime.Round(time.Second))
	return nil
}

// supervise forwards stdin control words and interrupts to the session
func supervise(ctx context.Context, in io.Reader, out io.Writer, s *session.Session) {
	lines := readLines(in, s.Done())

	for {
		select {
		case <-s.Done():
			return

		case <-ctx.Done():
			if err := s.RequestStop(); err != nil {
				fmt.Fprintln(out, err)
			}
			return

		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			if err := control(ctx, s, line); err != nil {
				fmt.Fprintln(out, err)
			}
		}
	}
}

// readLines scans in until EOF or until done is closed
func readLines(in io.Reader, done <-chan struct{}) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
	}()
	return lines
}

// control applies one supervisor word
func control(ctx context.Context, s *session.Session, word string) error {
	switch strings.ToLower(strings.TrimSpace(word)) {
	case "":
		return nil
	case "p", "pause":
		return s.RequestPause()
	case "r", "resume":
		return s.RequestResume()
	case "s", "stop":
		return s.RequestStop()
	case "t", "pen":
		return s.TogglePen(ctx)
	}
	return fmt.Errorf("unknown control %q (p, r, s or t)", word)
}

// progressPrinter reports state changes and percent complete
func progressPrinter(w io.Writer) session.Observer {
	last := -10
	return session.ObserverFunc(func(e session.Event) {
		switch e.Type {
		case session.StateChanged:
			fmt.Fprintf(w, "[%s]\n", e.State)
		case session.CommandExecuted:
			pct := int(e.Progress.Percent())
			if pct/10 != last/10 {
				fmt.Fprintf(w, "%3d%% (%d/%d)\n", pct, e.Progress.Executed, e.Progress.Total)
			}
			last = pct
		}
	})
}
