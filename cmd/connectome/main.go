package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/nvandessel/connectome/internal/config"
	"github.com/nvandessel/connectome/internal/connectome"
	"github.com/nvandessel/connectome/internal/engine"
	"github.com/nvandessel/connectome/internal/logging"
	"github.com/spf13/cobra"
)

// Set via ldflags at build time.
var (
	version = "0.1.0-dev"
	commit  = "none"
	date    = "unknown"
)

// newEngine builds the simulator bridge. Tests replace it.
var newEngine = func(cfg *config.Config, logger *slog.Logger) (engine.Engine, error) {
	return engine.NewExecEngine(cfg.Engine.Command, cfg.Engine.Timeout, logger)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "connectome",
		Short: "Edit brain connectivity and drive stimulus sweeps",
		Long: `connectome edits a structural connectivity dataset (weights, tract
lengths and region centres), runs stimulus sweeps through an external
simulator bridge, and plots or exports the resulting firing rates.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.connectome/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: info, debug or trace")
	rootCmd.PersistentFlags().String("connectivity", "", "Connectivity directory (overrides connectome.path)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRegionsCmd(),
		newLookupCmd(),
		newEditCmd(),
		newSweepCmd(),
		newRunsCmd(),
		newPlotCmd(),
		newExportCmd(),
		newConfigCmd(),
		newMCPServerCmd(),
	)

	return rootCmd
}

// loadConfig applies --config, --log-level and --connectivity on top of the
// usual config resolution and validates the result.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")

	var cfg *config.Config
	var err error
	if path != "" {
		cfg, err = config.LoadWithOverride(path, true)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if dir, _ := cmd.Flags().GetString("connectivity"); dir != "" {
		cfg.Connectome.Path = dir
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	return logging.NewLogger(cfg.Logging.Level, cmd.ErrOrStderr())
}

func loadConnectome(cfg *config.Config) (*connectome.Connectome, error) {
	c, err := connectome.Load(cfg.Connectome.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load connectivity: %w", err)
	}
	return c, nil
}

// signalContext returns a context cancelled on the first interrupt.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 1)
	notifySignals(sigCh)
	go func() {
		defer signal.Stop(sigCh)
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
