package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/nvandessel/btsynth/internal/mcp"
)

func newMCPServerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp-server",
		Short: "Run the MCP server over stdio",
		Long: `Serve btsynth tools to an MCP client over stdin and stdout.

Tools generate worlds, simulate and patch controllers, and browse the
controller store. Tool calls are rate limited and recorded in
audit.jsonl in the log directory.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			stopTelemetry, err := startTelemetry(cmd, settings)
			if err != nil {
				return err
			}
			defer stopTelemetry()

			logger := newLogger(cmd, settings)
			root, _ := cmd.Flags().GetString("root")
			server, err := mcp.NewServer(&mcp.Config{
				Name:     "btsynth",
				Version:  version,
				Root:     root,
				Settings: settings,
				Logger:   logger,
			})
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			serveMetrics(ctx, settings, logger)
			return server.Run(ctx)
		},
	}
}
