package main

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"spcbench-backend-go/internal/services"
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Hard-delete soft-deleted entries and old server samples",
	RunE: func(cmd *cobra.Command, _ []string) error {
		olderThan, _ := cmd.Flags().GetDuration("older-than")
		metricsOlderThan, _ := cmd.Flags().GetDuration("metrics-older-than")
		conn, err := openDB()
		if err != nil {
			return err
		}
		defer conn.Close()

		now := time.Now().UTC()
		purged, err := services.PurgeInactive(cmd.Context(), conn, now.Add(-olderThan), cfg.Storage.UploadDir, cfg.Storage.MediaDir)
		if err != nil {
			return err
		}
		pruned, err := services.PruneMetrics(cmd.Context(), conn, now.Add(-metricsOlderThan))
		if err != nil {
			return err
		}
		zap.L().Info("purge finished", zap.Int("entries", purged), zap.Int64("metric_samples", pruned))
		return nil
	},
}

func init() {
	purgeCmd.Flags().Duration("older-than", 30*24*time.Hour, "purge entries deleted longer ago than this")
	purgeCmd.Flags().Duration("metrics-older-than", 7*24*time.Hour, "drop server samples older than this")
	rootCmd.AddCommand(purgeCmd)
}
