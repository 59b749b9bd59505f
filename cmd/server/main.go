package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-realtime/internal/app"
	"github.com/vovakirdan/wirechat-realtime/internal/config"
	"github.com/vovakirdan/wirechat-realtime/internal/log"
)

type rootOptions struct {
	configPath string
	overrides  config.Config
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "wirechat-realtime",
		Short:         "Realtime core of the wirechat messenger",
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), opts)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to config.yaml")
	flags.StringVar(&opts.overrides.Addr, "addr", "", "HTTP listen address")
	flags.StringVar(&opts.overrides.DatabasePath, "db", "", "sqlite database path")
	flags.StringVar(&opts.overrides.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&opts.overrides.LogFormat, "log-format", "", "log format (console, json)")
	flags.DurationVar(&opts.overrides.ShutdownTimeout, "shutdown-timeout", 0, "graceful shutdown timeout")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the realtime server",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return serve(cmd.Context(), opts)
			},
		},
		newTokenCommand(opts),
		newUserCommand(opts),
		newContactCommand(opts),
		newConversationCommand(opts),
	)
	return root
}

// loadConfig resolves configuration and applies command-line overrides.
func loadConfig(opts *rootOptions) (config.Config, error) {
	bootstrap := log.New(opts.overrides.LogLevel, opts.overrides.LogFormat)
	cfg, path, err := config.Load(bootstrap, opts.configPath)
	if err != nil {
		return cfg, err
	}
	cfg.UpdateFrom(opts.overrides)
	bootstrap.Debug().Str("config", path).Msg("configuration loaded")
	return cfg, nil
}

func serve(ctx context.Context, opts *rootOptions) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	logger := log.New(cfg.LogLevel, cfg.LogFormat)

	application, err := app.New(&cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialize")
		return err
	}

	logger.Info().Str("addr", cfg.Addr).Msg("starting wirechat realtime server")
	if err := application.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("server exited with error")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
