package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"fitcoach/internal/config"
	"fitcoach/internal/pkg/logger"
)

func newSweepCmd() *cobra.Command {
	var retention time.Duration
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete unreferenced artifacts older than the retention window and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if retention > 0 {
				cfg.SweepRetention = retention
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			log := logger.Init(cfg.AppEnv)

			a, err := newApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.close()

			res, err := a.sweeper.RunOnce(ctx)
			if err != nil {
				return fmt.Errorf("sweep: %w", err)
			}
			log.Info("sweep finished",
				slog.Int("scanned", res.Scanned),
				slog.Int("deleted", res.Deleted),
				slog.Int("skipped", res.Skipped),
				slog.Int("failed", res.Failed),
			)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "scanned=%d deleted=%d skipped=%d failed=%d\n",
				res.Scanned, res.Deleted, res.Skipped, res.Failed)
			return nil
		},
	}
	cmd.Flags().DurationVar(&retention, "retention", 0, "override SWEEP_RETENTION")
	return cmd
}
