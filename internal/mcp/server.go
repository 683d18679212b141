// Package mcp provides an MCP (Model Context Protocol) server exposing
// world generation, controller simulation and patching as tools.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nvandessel/btsynth/internal/config"
	"github.com/nvandessel/btsynth/internal/oracle"
	"github.com/nvandessel/btsynth/internal/ratelimit"
	"github.com/nvandessel/btsynth/internal/store"
)

// Server wraps the MCP SDK server with btsynth tools.
type Server struct {
	server       *sdk.Server
	store        store.ControllerStore
	settings     *config.Config
	oracle       oracle.Oracle
	root         string
	logger       *slog.Logger
	toolLimiters ratelimit.ToolLimiters
	auditLogger  *AuditLogger
}

// Config holds server configuration.
type Config struct {
	Name    string // Server name (e.g., "btsynth")
	Version string // Server version
	Root    string // Project root; world paths resolve against it

	// Settings defaults to config.Default().
	Settings *config.Config
	// Store defaults to the store configured in Settings.
	Store store.ControllerStore
	// Oracle defaults to the oracle configured in Settings.
	Oracle oracle.Oracle
	Logger *slog.Logger
}

// NewServer creates a new MCP server with btsynth tools.
func NewServer(cfg *Config) (*Server, error) {
	settings := cfg.Settings
	if settings == nil {
		settings = config.Default()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	cs := cfg.Store
	if cs == nil {
		var err error
		cs, err = store.Open(settings.Store.Kind, settings.StoreDir(), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open controller store: %w", err)
		}
	}
	o := cfg.Oracle
	if o == nil {
		o = settings.NewOracle(logger)
	}

	mcpServer := sdk.NewServer(&sdk.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, &sdk.ServerOptions{
		InitializedHandler: func(ctx context.Context, req *sdk.InitializedRequest) {
			logger.Debug("mcp client initialized")
		},
	})

	s := &Server{
		server:       mcpServer,
		store:        cs,
		settings:     settings,
		oracle:       o,
		root:         cfg.Root,
		logger:       logger,
		toolLimiters: ratelimit.NewToolLimiters(),
		auditLogger:  NewAuditLogger(settings.LogDir()),
	}

	s.registerTools()
	s.registerResources()
	return s, nil
}

// Run starts the MCP server over stdio transport.
// This blocks until the client disconnects or the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	notifySignals(sigChan)
	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	err := s.server.Run(ctx, &sdk.StdioTransport{})
	if cerr := s.Close(); err == nil {
		err = cerr
	}
	return err
}

// Close flushes the store and releases resources.
func (s *Server) Close() error {
	s.auditLogger.Close()
	return s.store.Close()
}
