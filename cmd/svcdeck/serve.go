package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/loykin/svcdeck"
	"github.com/loykin/svcdeck/internal/config"
	"github.com/loykin/svcdeck/internal/logger"
)

const shutdownTimeout = 10 * time.Second

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	v := config.NewViper()
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Run the svcdeck daemon",
		Long: `Run the svcdeck daemon. Settings come from the optional TOML file,
SVCDECK_* environment variables and the flags below, in increasing priority.

Examples:
  svcdeck serve
  svcdeck serve svcdeck.toml
  SVCDECK_NATS_URL=nats://localhost:4222 svcdeck serve --watch`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := globalFlags.ConfigPath
			if len(args) > 0 {
				path = args[0]
			}
			return runServe(cmd.Context(), v, path)
		},
	}
	f := cmd.Flags()
	f.String("listen", "", "listen address (default 0.0.0.0:8765)")
	f.String("data-dir", "", "directory holding services_config.json and settings.json")
	f.String("log-level", "", "debug, info, warn or error")
	f.String("log-format", "", "text, json or color")
	f.String("log-file", "", "also write logs to this rotated file")
	f.Bool("watch", false, "reload the services file when edited by hand")
	f.StringSlice("history", nil, "history sink DSN (repeatable)")
	for key, name := range map[string]string{
		"server.listen": "listen",
		"data_dir":      "data-dir",
		"log.level":     "log-level",
		"log.format":    "log-format",
		"log.file":      "log-file",
		"watch_config":  "watch",
		"history.dsns":  "history",
	} {
		_ = v.BindPFlag(key, f.Lookup(name))
	}
	return cmd
}

func runServe(ctx context.Context, v *viper.Viper, path string) error {
	cfg, err := config.LoadDaemon(v, path)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	closer, err := logger.Setup(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	deck, err := svcdeck.New(cfg)
	if err != nil {
		return err
	}
	if _, err := deck.Start(); err != nil {
		_ = deck.Shutdown(context.Background())
		return err
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	slog.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return deck.Shutdown(sctx)
}
