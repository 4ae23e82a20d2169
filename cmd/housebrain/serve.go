// v0
// cmd/housebrain/serve.go
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"nrgchamp/housebrain/internal/app"
	"nrgchamp/housebrain/internal/config"
	"nrgchamp/housebrain/internal/logging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run every configured instance and the HTTP control surface",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(propertiesPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logger, logWriter, closeLog := logging.Init(cfg.LogDir, cfg.LogLevel)
		defer func() { _ = closeLog() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		application, err := app.New(ctx, cfg, app.Options{Logger: logger, AccessLog: logWriter})
		if err != nil {
			return fmt.Errorf("app init: %w", err)
		}
		defer func() {
			if cerr := application.Close(); cerr != nil {
				logger.Error("app_close_failed", slog.Any("err", cerr))
			}
		}()

		logger.Info("service_boot",
			slog.String("listen_address", cfg.ListenAddress),
			slog.String("properties_path", cfg.PropertiesPath),
			slog.String("instances_path", cfg.InstancesPath),
			slog.String("platform_mode", cfg.PlatformMode),
			slog.String("kafka_brokers", strings.Join(cfg.KafkaBrokers, ",")),
			slog.Bool("breaker_enabled", cfg.Breaker.Enabled),
		)

		if err := application.Run(ctx); err != nil {
			logger.Error("service_terminated", slog.Any("err", err))
			return err
		}
		logger.Info("service_stopped")
		return nil
	},
}

// newApplication builds an application for the one-shot commands. Logs go to
// console and the log file, never to stdout.
func newApplication(ctx context.Context, console io.Writer) (*app.Application, *slog.Logger, func(), error) {
	cfg, err := config.Load(propertiesPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, _, closeLog := logging.InitConsole(console, cfg.LogDir, cfg.LogLevel)
	application, err := app.New(ctx, cfg, app.Options{Logger: logger})
	if err != nil {
		_ = closeLog()
		return nil, nil, nil, fmt.Errorf("app init: %w", err)
	}
	cleanup := func() {
		if cerr := application.Close(); cerr != nil {
			logger.Error("app_close_failed", slog.Any("err", cerr))
		}
		_ = closeLog()
	}
	return application, logger, cleanup, nil
}
