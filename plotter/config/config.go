package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"eggplot/plotter"
)

// ErrInvalidConfig is returned when a configuration cannot drive the plotter
var ErrInvalidConfig = errors.New("invalid configuration")

// LoadConfig parses a JSON configuration and returns a Config
func LoadConfig(jsonData []byte) (*plotter.Config, error) {
	var config plotter.Config

	err := json.Unmarshal(jsonData, &config)
	if err != nil {
		return nil, err
	}

	return finish(&config)
}

// LoadYAML parses a YAML configuration
func LoadYAML(data []byte) (*plotter.Config, error) {
	var config plotter.Config

	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, err
	}

	return finish(&config)
}

// LoadTOML parses a TOML configuration
func LoadTOML(data []byte) (*plotter.Config, error) {
	var config plotter.Config

	if _, err := toml.Decode(string(data), &config); err != nil {
		return nil, err
	}

	return finish(&config)
}

// LoadFile reads a configuration file, choosing the format by extension
func LoadFile(path string) (*plotter.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var config *plotter.Config
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		config, err = LoadConfig(data)
	case ".yaml", ".yml":
		config, err = LoadYAML(data)
	case ".toml":
		config, err = LoadTOML(data)
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	return config, nil
}

func finish(config *plotter.Config) (*plotter.Config, error) {
	applyDefaults(config)
	if err := Validate(config); err != nil {
		return nil, err
	}
	return config, nil
}

// applyDefaults fills in missing configuration values with EggBot defaults
func applyDefaults(config *plotter.Config) {
	def := Default()

	applyMotionDefaults(&config.Drawing, def.Drawing)
	applyMotionDefaults(&config.Jog.Motion, def.Jog.Motion)
	if config.Jog.DistanceMM == 0 {
		config.Jog.DistanceMM = def.Jog.DistanceMM
	}

	if config.Pen.UpPercent == 0 {
		config.Pen.UpPercent = def.Pen.UpPercent
	}
	if config.Pen.DownPercent == 0 {
		config.Pen.DownPercent = def.Pen.DownPercent
	}
	if config.Pen.ServoMoveMS == 0 {
		config.Pen.ServoMoveMS = def.Pen.ServoMoveMS
	}
	if config.Pen.SettleMS == 0 {
		config.Pen.SettleMS = def.Pen.SettleMS
	}

	if config.Timing.MoveSettleMS == 0 {
		config.Timing.MoveSettleMS = def.Timing.MoveSettleMS
	}
	if config.Timing.CommandOverheadMS == 0 {
		config.Timing.CommandOverheadMS = def.Timing.CommandOverheadMS
	}
	if config.Timing.AckTimeoutMS == 0 {
		config.Timing.AckTimeoutMS = def.Timing.AckTimeoutMS
	}

	if config.Fan.Port == "" {
		config.Fan = def.Fan
	}

	if config.Serial.Baud == 0 {
		config.Serial.Baud = def.Serial.Baud
	}
	if config.Serial.ReadTimeoutMS == 0 {
		config.Serial.ReadTimeoutMS = def.Serial.ReadTimeoutMS
	}
}

func applyMotionDefaults(m *plotter.MotionConfig, def plotter.MotionConfig) {
	if m.StepsPerMM == 0 {
		m.StepsPerMM = def.StepsPerMM
	}
	if m.StepScale == 0 {
		m.StepScale = def.StepScale
	}
	if m.Speed == 0 {
		m.Speed = def.Speed
	}
	if m.MinDurationMS == 0 {
		m.MinDurationMS = def.MinDurationMS
	}
	if m.MinStepRateHz == 0 {
		m.MinStepRateHz = def.MinStepRateHz
	}
}

// Validate rejects values the motion compiler cannot work with
func Validate(config *plotter.Config) error {
	if err := validateMotion("drawing", config.Drawing); err != nil {
		return err
	}
	if err := validateMotion("jog", config.Jog.Motion); err != nil {
		return err
	}
	if config.Pen.UpPercent < 0 || config.Pen.UpPercent > 100 {
		return fmt.Errorf("%w: pen up_percent %v outside 0-100", ErrInvalidConfig, config.Pen.UpPercent)
	}
	if config.Pen.DownPercent < 0 || config.Pen.DownPercent > 100 {
		return fmt.Errorf("%w: pen down_percent %v outside 0-100", ErrInvalidConfig, config.Pen.DownPercent)
	}
	if config.Pen.SettleMS < 0 || config.Timing.MoveSettleMS < 0 || config.Timing.CommandOverheadMS < 0 {
		return fmt.Errorf("%w: negative delay", ErrInvalidConfig)
	}
	if config.Timing.AckTimeoutMS <= 0 {
		return fmt.Errorf("%w: ack_timeout_ms must be positive", ErrInvalidConfig)
	}
	return nil
}

func validateMotion(name string, m plotter.MotionConfig) error {
	switch {
	case m.StepsPerMM <= 0:
		return fmt.Errorf("%w: %s steps_per_mm must be positive", ErrInvalidConfig, name)
	case m.StepScale <= 0:
		return fmt.Errorf("%w: %s step_scale must be positive", ErrInvalidConfig, name)
	case m.Speed <= 0:
		return fmt.Errorf("%w: %s speed must be positive", ErrInvalidConfig, name)
	case m.MinStepRateHz <= 0:
		return fmt.Errorf("%w: %s min_step_rate_hz must be positive", ErrInvalidConfig, name)
	}
	return nil
}

// Default returns the stock EggBot configuration
func Default() *plotter.Config {
	return &plotter.Config{
		Drawing: DefaultDrawing(),
		Jog: plotter.JogConfig{
			Motion:     DefaultJog(),
			DistanceMM: 5,
		},
		Pen: plotter.PenConfig{
			UpPercent:   15,
			DownPercent: 45,
			ServoMoveMS: 400,
			SettleMS:    300,
		},
		Timing: plotter.TimingConfig{
			MoveSettleMS:      20,
			CommandOverheadMS: 15,
			AckTimeoutMS:      2000,
		},
		Fan: plotter.FanConfig{
			Port: "B",
			Pin:  5,
		},
		Serial: plotter.SerialConfig{
			Baud:          9600,
			ReadTimeoutMS: 100,
		},
	}
}

// DefaultDrawing returns the program motion settings
func DefaultDrawing() plotter.MotionConfig {
	return plotter.MotionConfig{
		StepsPerMM:    100,
		StepScale:     1,
		Speed:         1000,
		MinDurationMS: 10,
		MinStepRateHz: 1.31,
	}
}

// DefaultJog returns the manual jog motion settings
func DefaultJog() plotter.MotionConfig {
	return plotter.MotionConfig{
		StepsPerMM:    40,
		StepScale:     2,
		Speed:         200,
		MinDurationMS: 1,
		MinStepRateHz: 1.31,
	}
}
