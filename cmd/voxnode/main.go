// Command voxnode runs the reading assistant server and manages notebooks
// from the command line.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/voxnode/internal/app"
	"github.com/MrWong99/voxnode/internal/config"
	"github.com/MrWong99/voxnode/internal/notebook"
	"github.com/MrWong99/voxnode/pkg/kv"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// nowFunc is the clock used for default entry titles.
var nowFunc = time.Now

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// cli carries the state shared by all subcommands.
type cli struct {
	configPath string
	logLevel   *slog.LevelVar
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{logLevel: new(slog.LevelVar)}

	root := &cobra.Command{
		Use:           "voxnode",
		Short:         "Voice reading assistant with notebooks and a chat relay",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load(cmd)
		},
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "path to the YAML configuration file (defaults apply when empty)")

	root.AddCommand(
		serveCmd(c),
		notebookCmd(c),
		askCmd(c),
		mcpCmd(c),
	)
	return root
}

// load reads the configuration and installs the process logger on stderr.
func (c *cli) load(cmd *cobra.Command) error {
	var (
		cfg *config.Config
		err error
	)
	if c.configPath == "" {
		cfg = config.Default()
		if err := config.Validate(cfg); err != nil {
			return err
		}
	} else {
		cfg, err = config.Load(c.configPath)
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config file %q not found", c.configPath)
		}
		if err != nil {
			return err
		}
	}
	c.cfg = cfg

	c.logLevel.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(app.NewLogger(cmd.ErrOrStderr(), cfg.Server.LogFormat, c.logLevel))
	return nil
}

// openStore opens the configured storage backend.
func (c *cli) openStore(ctx context.Context) (kv.Store, error) {
	reg := config.NewRegistry()
	app.RegisterBuiltins(reg)
	s, err := reg.OpenStorage(ctx, c.cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", c.cfg.Storage.Backend, err)
	}
	return s, nil
}

// withNotebooks opens storage for the duration of fn.
func (c *cli) withNotebooks(ctx context.Context, fn func(*notebook.Store, kv.Store) error) error {
	s, err := c.openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(notebook.New(s), s)
}
