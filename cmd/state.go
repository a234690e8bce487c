package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlkit/internal/app"
)

// newFailuresCmd lists, or clears, the durable failure ledger.
func newFailuresCmd() *cobra.Command {
	var clearAll bool
	cmd := &cobra.Command{
		Use:   "failures",
		Short: "Lists work items that failed terminally",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			a, err := app.OpenState(cmd.Context(), e.cfg, e.logger)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := a.Close(); cerr != nil {
					e.logger.Warn("close state failed", zap.Error(cerr))
				}
			}()

			failures, err := a.Failures().Failures(cmd.Context())
			if err != nil {
				return fmt.Errorf("list failures: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, f := range failures {
				if err := enc.Encode(f); err != nil {
					return fmt.Errorf("print failure: %w", err)
				}
			}
			if !clearAll {
				return nil
			}
			for _, f := range failures {
				if err := a.Failures().RemoveFailure(cmd.Context(), f.Item.ID); err != nil {
					return fmt.Errorf("clear failure %s: %w", f.Item.ID, err)
				}
			}
			e.logger.Info("failure ledger cleared", zap.Int("removed", len(failures)))
			return nil
		},
	}
	cmd.Flags().BoolVar(&clearAll, "clear", false, "remove every listed failure after printing it")
	return cmd
}

// newCheckpointCmd prints the durable checkpoint for the configured crawl.
func newCheckpointCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checkpoint",
		Short: "Shows the last durably completed item",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			a, err := app.OpenState(cmd.Context(), e.cfg, e.logger)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := a.Close(); cerr != nil {
					e.logger.Warn("close state failed", zap.Error(cerr))
				}
			}()

			if _, err := a.Checkpoint().Load(cmd.Context()); err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(a.Checkpoint().State()); err != nil {
				return fmt.Errorf("print checkpoint: %w", err)
			}
			return nil
		},
	}
}
