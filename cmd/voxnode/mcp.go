package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MrWong99/voxnode/internal/mcpserver"
	"github.com/MrWong99/voxnode/internal/notebook"
	"github.com/MrWong99/voxnode/pkg/kv"
)

func mcpCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the notebook tools over MCP on stdin/stdout",
		Long: `Serve the notebook tools over the Model Context Protocol on stdin/stdout.
get_transcript returns the autosaved transcript draft. Logs go to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return c.withNotebooks(ctx, func(nbs *notebook.Store, s kv.Store) error {
				srv := mcpserver.New(nbs, func(ctx context.Context) (string, error) {
					return readDraft(ctx, s)
				}, version)
				slog.Info("mcp server listening on stdio", "storage", c.cfg.Storage.Backend)
				return mcpserver.ServeStdio(ctx, srv)
			})
		},
	}
}
