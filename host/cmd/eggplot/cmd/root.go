package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"eggplot/host/ebb"
	"eggplot/plotter"
	"eggplot/plotter/config"
)

var (
	// Global flags
	devicePath string
	baudRate   int
	configPath string
	logLevel   string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "eggplot",
	Short: "G-code plotter for EggBot-style H-bot machines",
	Long: `Plot G-code on a two-motor H-bot pen plotter driven by an EiBotBoard.

Examples:
  eggplot estimate drawing.gcode                 # Distance, time and size only
  eggplot plot drawing.gcode                     # Plot on the first attached EBB
  eggplot plot drawing.gcode --monitor :8080     # Plot with a live progress feed
  eggplot jog x 10                               # Move the carriage 10 mm along X
  eggplot calibrate pattern > pattern.gcode      # Emit the calibration pattern`,
	Version:       "0.3.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&devicePath, "device", "d", "",
		"serial device (default: first attached EBB)")
	rootCmd.PersistentFlags().IntVar(&baudRate, "baud", 0,
		"baud rate (default 9600)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"configuration file (.json, .yaml or .toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"log level: debug, info, warn or error")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"verbose output (same as --log-level debug)")
}

// loadConfig reads --config and applies the connection flags
func loadConfig() (*plotter.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.LoadFile(configPath)
		if err != nil {
			return nil, err
		}
	}

	if devicePath != "" {
		cfg.Serial.Device = devicePath
	}
	if baudRate != 0 {
		cfg.Serial.Baud = baudRate
	}
	return cfg, nil
}

// newLogger builds the text logger used by every command
func newLogger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(logLevel)
	if err != nil {
		return nil, err
	}
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

// setup loads configuration and the logger for a command
func setup(cmd *cobra.Command) (*plotter.Config, *slog.Logger, error) {
	logger, err := newLogger(cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, err
	}
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// connect opens the configured EBB
func connect(cfg *plotter.Config, logger *slog.Logger) (*ebb.Device, error) {
	dev := ebb.New(cfg, logger)
	if err := dev.Connect(cfg.Serial.Device); err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return dev, nil
}

// parseSwitch accepts on/off style arguments
func parseSwitch(arg, on, off string) (bool, error) {
	switch strings.ToLower(arg) {
	case on, "1", "true":
		return true, nil
	case off, "0", "false":
		return false, nil
	}
	return false, fmt.Errorf("expected %s or %s, got %q", on, off, arg)
}
