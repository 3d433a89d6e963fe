package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"spcbench-backend-go/internal/evaluator"
	"spcbench-backend-go/internal/models"
	"spcbench-backend-go/internal/scoring"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Score every entry waiting for processing",
	Long: `Runs one evaluation pass: every WAIT_PROC entry is scored against the
reference frames and moved to SUCCESS or FAIL, then archives of finished
entries are deleted. With --interval the pass repeats until interrupted.

Examples:
  # Single pass, e.g. from cron
  spcbench evaluate

  # Keep polling every five minutes
  spcbench evaluate --interval 5m`,
	RunE: runEvaluate,
}

func init() {
	f := evaluateCmd.Flags()
	f.Duration("interval", 0, "repeat passes at this interval (0 = single pass, default eval.interval)")
	f.Float64("lpips-rps", 20, "maximum LPIPS requests per second")
	rootCmd.AddCommand(evaluateCmd)
}

func newDriver(cmd *cobra.Command) (*evaluator.Driver, error) {
	conn, err := openDB()
	if err != nil {
		return nil, err
	}
	evaluatorCfg := &scoring.Evaluator{
		ReferenceDir: cfg.Storage.ReferenceDir,
		Workers:      cfg.Eval.FrameWorkers,
	}
	if cfg.Eval.LPIPSURL != "" {
		rps, _ := cmd.Flags().GetFloat64("lpips-rps")
		evaluatorCfg.Perceptual = scoring.NewHTTPPerceptual(cfg.Eval.LPIPSURL, rps)
	} else {
		zap.L().Warn("eval.lpips_url is not set; LPIPS metrics will stay unset")
	}
	return &evaluator.Driver{
		DB:     conn,
		Scorer: evaluatorCfg,
		Samples: scoring.SampleWriter{
			Frames:       cfg.Eval.SampleFrames,
			MaxWidth:     cfg.Eval.SampleWidth,
			ReferenceDir: cfg.Storage.ReferenceDir,
			ReferenceOut: models.ReferenceSampleDir(cfg.Storage.MediaDir),
		},
		UploadDir:    cfg.Storage.UploadDir,
		MediaDir:     cfg.Storage.MediaDir,
		EntryTimeout: cfg.Eval.EntryTimeout,
	}, nil
}

func runEvaluate(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	driver, err := newDriver(cmd)
	if err != nil {
		return err
	}
	defer driver.DB.Close()

	interval := cfg.Eval.Interval
	if cmd.Flags().Changed("interval") {
		interval, _ = cmd.Flags().GetDuration("interval")
	}
	if interval > 0 {
		zap.L().Info("evaluation loop started", zap.Duration("interval", interval))
		return driver.RunEvery(ctx, interval)
	}

	report, err := driver.Run(ctx)
	zap.L().Info("evaluation pass finished",
		zap.Int("evaluated", report.Evaluated),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Int("cleaned", report.Cleaned),
		zap.Int("stale", report.Stale),
		zap.Bool("mismatched", report.Mismatched))
	return err
}
