package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/voxnode/internal/app"
	"github.com/MrWong99/voxnode/internal/config"
)

func serveCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the update stream and the MCP endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			slog.Info("voxnode starting",
				"config", c.configPath,
				"listen_addr", c.cfg.Server.ListenAddr,
				"log_level", c.cfg.Server.LogLevel,
				"version", version,
			)
			printStartupSummary(cmd.ErrOrStderr(), c.cfg)

			opts := []app.Option{app.WithLogLevel(c.logLevel), app.WithVersion(version)}
			if c.configPath != "" {
				opts = append(opts, app.WithConfigWatch(c.configPath))
			}
			application, err := app.New(ctx, c.cfg, opts...)
			if err != nil {
				return fmt.Errorf("initialise application: %w", err)
			}

			slog.Info("server ready, press Ctrl+C to shut down")
			runErr := application.Run(ctx)
			if runErr != nil && !errors.Is(runErr, context.Canceled) {
				slog.Error("run error", "err", runErr)
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := application.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}
			slog.Info("goodbye")
			if errors.Is(runErr, context.Canceled) {
				return nil
			}
			return runErr
		},
	}
}

func printStartupSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║         voxnode · startup summary     ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printRow(w, "Listen addr", cfg.Server.ListenAddr)
	printRow(w, "Language", cfg.Recognition.Language)
	printRow(w, "Speech", providerLabel(cfg.Recognition.Engine.Name, cfg.Recognition.Engine.Model))
	chatProvider := cfg.Chat.Provider
	if chatProvider == "" {
		chatProvider = "groq"
	}
	printRow(w, "Chat", providerLabel(chatProvider, cfg.Chat.Model))
	printRow(w, "Storage", string(cfg.Storage.Backend))
	printRow(w, "Fallbacks", fmt.Sprint(len(cfg.Chat.Fallbacks)))
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func providerLabel(name, model string) string {
	switch {
	case name == "":
		return "(not configured)"
	case model != "":
		return name + " / " + model
	default:
		return name
	}
}

func printRow(w io.Writer, key, value string) {
	if r := []rune(value); len(r) > 19 {
		value = string(r[:18]) + "…"
	}
	fmt.Fprintf(w, "║  %-12s    : %-19s ║\n", key, value)
}
