package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlkit/internal/app"
)

// newCrawlCmd creates the 'crawl' subcommand, which runs (or resumes) the
// configured crawl.
func newCrawlCmd() *cobra.Command {
	var (
		retryFailed bool
		maxItems    int64
		workers     int
	)
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs or resumes the configured crawl",
		Long: `Enumerates work items from the item after the last checkpoint and runs
them through the worker pool. With --retry-failed, replays the failure ledger
instead; items that now succeed are removed from it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			cfg := e.cfg
			if cmd.Flags().Changed("max-items") {
				cfg.Crawl.MaxItems = maxItems
			}
			if cmd.Flags().Changed("workers") {
				cfg.Crawl.Workers = workers
			}
			if cfg.Adapter.Source == "" {
				return fmt.Errorf("adapter.source must be set")
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			a, err := app.New(cmd.Context(), cfg, e.logger)
			if err != nil {
				return fmt.Errorf("initialize crawl: %w", err)
			}
			defer func() {
				if cerr := a.Close(); cerr != nil {
					e.logger.Warn("shutdown incomplete", zap.Error(cerr))
				}
			}()

			report, err := a.Run(cmd.Context(), retryFailed)
			if err != nil {
				return fmt.Errorf("run crawl: %w", err)
			}
			if report.Canceled {
				e.logger.Info("crawl interrupted; rerun to resume",
					zap.Int64("checkpoint", report.Checkpoint))
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return fmt.Errorf("print report: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&retryFailed, "retry-failed", false, "replay the failure ledger instead of enumerating")
	cmd.Flags().Int64Var(&maxItems, "max-items", 0, "stop after enumerating this many items (0 = no cap)")
	cmd.Flags().IntVar(&workers, "workers", 0, "override crawl.workers")
	return cmd
}
