// Package cmd defines and implements the CLI commands for the crawlkit
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlkit/internal/config"
	"github.com/JakeFAU/crawlkit/internal/logging"
	"github.com/JakeFAU/crawlkit/internal/telemetry"
)

// envKeyType is the key for storing the command environment in the context.
type envKeyType string

const envKey envKeyType = "env"

// env carries what every subcommand needs once the root hooks have run.
type env struct {
	cfg      config.Config
	logger   *zap.Logger
	shutdown func(context.Context) error
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "crawlkit",
		Short: "A resumable, polite crawler core.",
		Long: `crawlkit enumerates work items from a site adapter, fetches them through
a rate-limited, proxy-rotating, cached dispatcher, and writes deduplicated
records to a durable sink. Progress is checkpointed so an interrupted crawl
resumes where it stopped.`,
		SilenceUsage: true,

		// Runs before every subcommand: load config, then build the logger
		// and tracer the subcommand will use.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(logging.Config{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			shutdown, err := telemetry.InitTracerProvider(cmd.Context(), telemetry.Config{
				Enabled:     cfg.Tracing.Enabled,
				ServiceName: cfg.Tracing.ServiceName,
				SampleRatio: cfg.Tracing.SampleRatio,
			})
			if err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}

			e := &env{cfg: cfg, logger: logger, shutdown: shutdown}
			cmd.SetContext(context.WithValue(cmd.Context(), envKey, e))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return
			}
			if err := e.shutdown(context.WithoutCancel(cmd.Context())); err != nil {
				e.logger.Warn("tracer shutdown failed", zap.Error(err))
			}
			_ = e.logger.Sync()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); CRAWLKIT_* env vars override it")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newFailuresCmd())
	cmd.AddCommand(newCheckpointCmd())

	return cmd
}

func resolveEnv(ctx context.Context) (*env, error) {
	e, ok := ctx.Value(envKey).(*env)
	if !ok || e == nil {
		return nil, errors.New("command environment not initialized")
	}
	return e, nil
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the command
// context; a crawl then drains in-flight work for its grace period.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "crawlkit:", err)
		stop()
		os.Exit(1)
	}
}
