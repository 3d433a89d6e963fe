package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"spcbench-backend-go/internal/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		conn, err := openDB()
		if err != nil {
			return err
		}
		defer conn.Close()
		if err := migrations.Apply(conn); err != nil {
			return err
		}
		zap.L().Info("database is up to date", zap.String("driver", cfg.Database.Driver))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
