package main

import (
	"fmt"

	"github.com/nvandessel/connectome/internal/logging"
	"github.com/nvandessel/connectome/internal/mcp"
	"github.com/spf13/cobra"
)

func newMCPServerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp-server",
		Short: "Serve connectivity lookups and sweep planning over MCP (stdio)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cmd, cfg)
			c, err := loadConnectome(cfg)
			if err != nil {
				return err
			}

			events, err := logging.NewEventLogger(cfg.Simulation.ResultsRoot, cfg.Logging.Level)
			if err != nil {
				logger.Warn("event log disabled", "error", err)
			}
			defer events.Close()

			server, err := mcp.NewServer(&mcp.Config{
				Name:       "connectome",
				Version:    version,
				Connectome: c,
				Defaults:   cfg,
				Events:     events,
				Logger:     logger,
			})
			if err != nil {
				return fmt.Errorf("failed to create MCP server: %w", err)
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			return server.Run(ctx)
		},
	}
}
