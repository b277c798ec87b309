package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/bleflow/internal/tracing"
	"github.com/srg/bleflow/pkg/config"
)

// environment is what every command needs before touching the adapter.
type environment struct {
	cfg      *config.Config
	logger   *logrus.Logger
	out      *printer
	shutdown func(context.Context) error
}

// close flushes pending spans.
func (e *environment) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.shutdown(ctx); err != nil {
		e.logger.WithField("error", err).Warn("Failed to flush traces")
	}
}

// setupEnvironment loads the configuration and applies the global flags over it.
func setupEnvironment(cmd *cobra.Command) (*environment, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}
	if format, _ := cmd.Flags().GetString("format"); format != "" {
		cfg.OutputFormat = format
	}
	if traced, _ := cmd.Flags().GetBool("trace"); traced {
		cfg.Tracing.Enabled = true
		cfg.Tracing.Exporter = "stdout"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := configureLogger(cmd, cfg)

	shutdown, err := tracing.Setup(context.Background(), cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("failed to set up tracing: %w", err)
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	return &environment{
		cfg:      cfg,
		logger:   logger,
		out:      newPrinter(cmd.OutOrStdout(), cfg.OutputFormat),
		shutdown: shutdown,
	}, nil
}

// configureLogger logs to stderr. Without an explicit --log-level the CLI stays
// quiet below errors so output remains parseable.
func configureLogger(cmd *cobra.Command, cfg *config.Config) *logrus.Logger {
	logger := cfg.NewLogger()
	logger.SetOutput(cmd.ErrOrStderr())

	if explicit, _ := cmd.Flags().GetString("log-level"); explicit == "" {
		logger.SetLevel(logrus.ErrorLevel)
	}
	return logger
}

// interruptible returns a context cancelled by Ctrl+C, bounded by timeout when positive.
func interruptible(cmd *cobra.Command, timeout time.Duration) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	if timeout <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}
