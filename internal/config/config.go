// Package config provides unified configuration loading for connectome.
// It supports loading from YAML files and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/nvandessel/connectome/internal/logging"
	"gopkg.in/yaml.v3"
)

// Sweep modes.
const (
	ModeProduct = "product"
	ModeZip     = "zip"
)

// Config contains all connectome configuration settings.
type Config struct {
	// Connectome locates the connectivity dataset.
	Connectome ConnectomeConfig `json:"connectome" yaml:"connectome"`

	// Engine configures the simulator bridge.
	Engine EngineConfig `json:"engine" yaml:"engine"`

	// Simulation holds the per-run timing and model inputs.
	Simulation SimulationConfig `json:"simulation" yaml:"simulation"`

	// Stimulus shapes the pulse applied to target regions.
	Stimulus StimulusConfig `json:"stimulus" yaml:"stimulus"`

	// Sweep controls how a plan is executed.
	Sweep SweepConfig `json:"sweep" yaml:"sweep"`

	// Plot controls rendered figures.
	Plot PlotConfig `json:"plot" yaml:"plot"`

	// Logging contains settings for operational and event logging.
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// ConnectomeConfig locates the connectivity dataset handed to the engine.
type ConnectomeConfig struct {
	// Path is the directory holding weights.txt, tract_lengths.txt and centres.txt.
	Path string `json:"path" yaml:"path"`

	// Archive is the zipped dataset name the engine loads, if any.
	Archive string `json:"archive,omitempty" yaml:"archive,omitempty"`
}

// EngineConfig configures the external simulator bridge.
type EngineConfig struct {
	// Command is the bridge executable and its leading arguments.
	Command []string `json:"command" yaml:"command"`

	// Timeout bounds a single bridge call. Zero disables the limit.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// SimulationConfig holds timing and model inputs shared by every run.
type SimulationConfig struct {
	// ResultsRoot is the directory that receives one folder per run.
	ResultsRoot string `json:"results_root" yaml:"results_root"`

	// DurationMs is the simulated time per run.
	DurationMs float64 `json:"duration_ms" yaml:"duration_ms"`

	// CutTransientMs is the initial segment discarded when loading results.
	CutTransientMs float64 `json:"cut_transient_ms" yaml:"cut_transient_ms"`

	// ExternalInput drives both external_input_ex_ex and external_input_in_ex.
	ExternalInput float64 `json:"external_input" yaml:"external_input"`

	// IntegratorNoise keeps the engine's integrator noise when true.
	IntegratorNoise bool `json:"integrator_noise" yaml:"integrator_noise"`

	// WeightNoise keeps the engine's weight noise when true.
	WeightNoise bool `json:"weight_noise" yaml:"weight_noise"`

	// Seed is forwarded to the engine when non-zero.
	Seed int64 `json:"seed,omitempty" yaml:"seed,omitempty"`
}

// StimulusConfig shapes the square pulse.
type StimulusConfig struct {
	DurationMs       float64 `json:"duration_ms" yaml:"duration_ms"`
	InterstimulusMs  float64 `json:"interstimulus_ms" yaml:"interstimulus_ms"`
	DefaultAmplitude float64 `json:"default_amplitude,omitempty" yaml:"default_amplitude,omitempty"`
}

// SweepConfig controls plan execution.
type SweepConfig struct {
	// Mode is "product" or "zip".
	Mode string `json:"mode" yaml:"mode"`

	// BValues are the adaptation strengths swept when a plan names none.
	BValues []float64 `json:"b_values" yaml:"b_values"`

	// ContinueOnError keeps sweeping after a failed run.
	ContinueOnError bool `json:"continue_on_error" yaml:"continue_on_error"`

	// Resume skips runs the ledger records as succeeded.
	Resume bool `json:"resume" yaml:"resume"`
}

// PlotConfig controls rendered figures.
type PlotConfig struct {
	MinY     float64 `json:"min_y" yaml:"min_y"`
	Headroom float64 `json:"headroom" yaml:"headroom"`
	XMin     float64 `json:"x_min" yaml:"x_min"`
	XMax     float64 `json:"x_max" yaml:"x_max"`
	XStep    float64 `json:"x_step" yaml:"x_step"`
	Width    float64 `json:"width_cm" yaml:"width_cm"`
	RowCm    float64 `json:"row_height_cm" yaml:"row_height_cm"`
}

// LoggingConfig configures logging behavior.
type LoggingConfig struct {
	// Level sets the log verbosity: "info" (default), "debug", or "trace".
	// "debug" enables the sweep event log in the results root.
	// "trace" additionally logs every engine call.
	Level string `json:"level" yaml:"level"`
}

// Default returns a Config with the reference simulation defaults.
func Default() *Config {
	return &Config{
		Connectome: ConnectomeConfig{
			Path: "connectivity",
		},
		Engine: EngineConfig{
			Command: []string{"tvb-bridge"},
		},
		Simulation: SimulationConfig{
			ResultsRoot:     "results",
			DurationMs:      5000,
			CutTransientMs:  2000,
			ExternalInput:   0.000315,
			IntegratorNoise: true,
			WeightNoise:     true,
		},
		Stimulus: StimulusConfig{
			DurationMs:      50,
			InterstimulusMs: 1e9,
		},
		Sweep: SweepConfig{
			Mode:    ModeProduct,
			BValues: []float64{5},
		},
		Plot: PlotConfig{
			MinY:     100,
			Headroom: 20,
			XMin:     3,
			XMax:     5,
			XStep:    0.5,
			Width:    40,
			RowCm:    10,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DefaultPath returns ~/.connectome/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".connectome", "config.yaml"), nil
}

// Load loads configuration from the default location and environment variables.
// Order: defaults -> ~/.connectome/config.yaml -> environment variables
func Load() (*Config, error) {
	path, err := DefaultPath()
	if err != nil {
		path = ""
	}
	return LoadWithOverride(path, false)
}

// LoadWithOverride loads path instead of the default file. When required is
// false a missing file falls back to defaults.
func LoadWithOverride(path string, required bool) (*Config, error) {
	config := Default()

	if path != "" {
		_, statErr := os.Stat(path)
		switch {
		case statErr == nil:
			fileConfig, err := LoadFromFile(path)
			if err != nil {
				return nil, fmt.Errorf("loading config file: %w", err)
			}
			config = fileConfig
		case required:
			return nil, fmt.Errorf("loading config file: %w", statErr)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// LoadFromFile loads configuration from a specific YAML file. Unset keys keep
// their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	config.Connectome.Path = expandEnvVars(config.Connectome.Path)
	config.Simulation.ResultsRoot = expandEnvVars(config.Simulation.ResultsRoot)

	return config, nil
}

// Save writes the configuration as YAML, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if len(c.Engine.Command) == 0 || c.Engine.Command[0] == "" {
		return fmt.Errorf("engine.command must not be empty")
	}
	if c.Engine.Timeout < 0 {
		return fmt.Errorf("engine.timeout must be non-negative, got %v", c.Engine.Timeout)
	}

	s := c.Simulation
	if s.ResultsRoot == "" {
		return fmt.Errorf("simulation.results_root must not be empty")
	}
	if s.DurationMs <= 0 {
		return fmt.Errorf("simulation.duration_ms must be positive, got %g", s.DurationMs)
	}
	if s.CutTransientMs < 0 || s.CutTransientMs >= s.DurationMs {
		return fmt.Errorf("simulation.cut_transient_ms must be in [0, %g), got %g", s.DurationMs, s.CutTransientMs)
	}

	if c.Stimulus.DurationMs <= 0 {
		return fmt.Errorf("stimulus.duration_ms must be positive, got %g", c.Stimulus.DurationMs)
	}
	if c.Stimulus.InterstimulusMs <= 0 {
		return fmt.Errorf("stimulus.interstimulus_ms must be positive, got %g", c.Stimulus.InterstimulusMs)
	}

	if c.Sweep.Mode != ModeProduct && c.Sweep.Mode != ModeZip {
		return fmt.Errorf("invalid sweep mode: %s (valid: %s, %s)", c.Sweep.Mode, ModeProduct, ModeZip)
	}
	if len(c.Sweep.BValues) == 0 {
		return fmt.Errorf("sweep.b_values must not be empty")
	}

	if c.Plot.XMax <= c.Plot.XMin {
		return fmt.Errorf("plot.x_max (%g) must exceed plot.x_min (%g)", c.Plot.XMax, c.Plot.XMin)
	}
	if c.Plot.XStep <= 0 {
		return fmt.Errorf("plot.x_step must be positive, got %g", c.Plot.XStep)
	}

	if c.Logging.Level != "" && !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("invalid log level: %s (valid: info, debug, trace, or empty for default)", c.Logging.Level)
	}

	return nil
}

// Keys lists every dotted key Value accepts, in display order.
func Keys() []string {
	return []string{
		"connectome.path",
		"connectome.archive",
		"engine.command",
		"engine.timeout",
		"simulation.results_root",
		"simulation.duration_ms",
		"simulation.cut_transient_ms",
		"simulation.external_input",
		"simulation.integrator_noise",
		"simulation.weight_noise",
		"stimulus.duration_ms",
		"stimulus.interstimulus_ms",
		"sweep.mode",
		"sweep.b_values",
		"sweep.continue_on_error",
		"sweep.resume",
		"plot.min_y",
		"plot.headroom",
		"logging.level",
	}
}

// Value retrieves a configuration value by dot-notation key.
func (c *Config) Value(key string) (any, bool) {
	switch key {
	case "connectome.path":
		return c.Connectome.Path, true
	case "connectome.archive":
		return c.Connectome.Archive, true
	case "engine.command":
		return strings.Join(c.Engine.Command, " "), true
	case "engine.timeout":
		return c.Engine.Timeout.String(), true
	case "simulation.results_root":
		return c.Simulation.ResultsRoot, true
	case "simulation.duration_ms":
		return c.Simulation.DurationMs, true
	case "simulation.cut_transient_ms":
		return c.Simulation.CutTransientMs, true
	case "simulation.external_input":
		return c.Simulation.ExternalInput, true
	case "simulation.integrator_noise":
		return c.Simulation.IntegratorNoise, true
	case "simulation.weight_noise":
		return c.Simulation.WeightNoise, true
	case "stimulus.duration_ms":
		return c.Stimulus.DurationMs, true
	case "stimulus.interstimulus_ms":
		return c.Stimulus.InterstimulusMs, true
	case "sweep.mode":
		return c.Sweep.Mode, true
	case "sweep.b_values":
		return c.Sweep.BValues, true
	case "sweep.continue_on_error":
		return c.Sweep.ContinueOnError, true
	case "sweep.resume":
		return c.Sweep.Resume, true
	case "plot.min_y":
		return c.Plot.MinY, true
	case "plot.headroom":
		return c.Plot.Headroom, true
	case "logging.level":
		return c.Logging.Level, true
	default:
		return nil, false
	}
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("CONNECTOME_CONNECTIVITY"); v != "" {
		config.Connectome.Path = v
	}

	if v := os.Getenv("CONNECTOME_ENGINE"); v != "" {
		config.Engine.Command = strings.Fields(v)
	}

	if v := os.Getenv("CONNECTOME_RESULTS_ROOT"); v != "" {
		config.Simulation.ResultsRoot = v
	}

	if v := os.Getenv("CONNECTOME_SWEEP_MODE"); v != "" {
		config.Sweep.Mode = v
	}

	if v := os.Getenv("CONNECTOME_CONTINUE_ON_ERROR"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.Sweep.ContinueOnError = b
		}
	}

	if v := os.Getenv("CONNECTOME_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
