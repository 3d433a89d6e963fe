package main

import (
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"spcbench-backend-go/internal/config"
	"spcbench-backend-go/internal/db"
	"spcbench-backend-go/internal/logging"
	"spcbench-backend-go/internal/manifest"
)

var (
	cfg       *config.Config
	flushLogs func()
)

var rootCmd = &cobra.Command{
	Use:   "spcbench",
	Short: "Benchmark submission portal for single-photon reconstructions",
	Long: `Accepts zipped reconstruction results, validates them against the reference
frame manifest, scores them offline (PSNR, SSIM, LPIPS) and serves a ranked,
visibility-aware leaderboard.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		cfg = c

		flush, err := logging.Init(cfg.Log)
		if err != nil {
			return eris.Wrap(err, "init logger")
		}
		flushLogs = flush
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if flushLogs != nil {
			flushLogs()
		}
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func openDB() (*sqlx.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return db.Open(cfg.Database.Driver, cfg.Database.URL)
}

func loadReference() (manifest.Set, error) {
	ref, err := manifest.LoadReference(cfg.Storage.ReferenceDir)
	if err != nil {
		return manifest.Set{}, eris.Wrapf(err, "load reference frames from %s", cfg.Storage.ReferenceDir)
	}
	if ref.Len() == 0 {
		return manifest.Set{}, eris.Errorf("no reference frames found in %s", cfg.Storage.ReferenceDir)
	}
	return ref, nil
}
