// agentlink follows coding agents over gRPC and serves their conversation,
// execution state and pending questions to renderers.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ashureev/agentlink/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "agentlink",
		Short:        "Follow coding agents and serve their conversations",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "YAML configuration file (overrides "+config.ConfigFileEnv+")")

	load := func() (*config.Config, *slog.Logger, error) {
		if err := godotenv.Load(); err != nil {
			slog.Debug("No .env file found, using environment variables")
		}
		path := configPath
		if path == "" {
			path = os.Getenv(config.ConfigFileEnv)
		}
		cfg, err := config.LoadFrom(path)
		if err != nil {
			return nil, nil, err
		}
		level, err := cfg.SlogLevel()
		if err != nil {
			return nil, nil, err
		}
		logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)
		return cfg, logger, nil
	}

	root.AddCommand(newServeCmd(load), newTailCmd(load))
	return root
}

type loader func() (*config.Config, *slog.Logger, error)
