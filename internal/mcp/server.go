// Package mcp provides an MCP (Model Context Protocol) server exposing
// connectivity lookups and sweep planning.
package mcp

import (
	"context"
	"fmt"
	"log/slog"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/nvandessel/connectome/internal/config"
	"github.com/nvandessel/connectome/internal/connectome"
	"github.com/nvandessel/connectome/internal/logging"
)

// Server wraps the MCP SDK server around a loaded connectome.
type Server struct {
	server   *sdk.Server
	conn     *connectome.Connectome
	defaults *config.Config
	events   *logging.EventLogger
	logger   *slog.Logger
}

// Config holds server configuration.
type Config struct {
	Name       string // Server name (e.g., "connectome")
	Version    string
	Connectome *connectome.Connectome
	// Defaults fills unset sweep_plan fields. nil uses config.Default().
	Defaults *config.Config
	Events   *logging.EventLogger
	Logger   *slog.Logger
}

// NewServer creates a server with every tool registered.
func NewServer(cfg *Config) (*Server, error) {
	if cfg.Connectome == nil {
		return nil, fmt.Errorf("mcp server needs a connectome")
	}
	defaults := cfg.Defaults
	if defaults == nil {
		defaults = config.Default()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	mcpServer := sdk.NewServer(&sdk.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, nil)

	s := &Server{
		server:   mcpServer,
		conn:     cfg.Connectome,
		defaults: defaults,
		events:   cfg.Events,
		logger:   logger,
	}
	s.registerTools()
	return s, nil
}

// Run serves over stdio until the client disconnects or ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("mcp server started", "regions", s.conn.Len())
	return s.server.Run(ctx, &sdk.StdioTransport{})
}
