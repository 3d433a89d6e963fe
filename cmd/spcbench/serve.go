package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httpapi "spcbench-backend-go/internal/http"
	"spcbench-backend-go/internal/mail"
	"spcbench-backend-go/internal/migrations"
	"spcbench-backend-go/internal/services"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the JSON API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().Bool("migrate", true, "apply pending migrations before serving")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.RequireSecret(); err != nil {
		return err
	}
	conn, err := openDB()
	if err != nil {
		return err
	}
	defer conn.Close()
	if apply, _ := cmd.Flags().GetBool("migrate"); apply {
		if err := migrations.Apply(conn); err != nil {
			return err
		}
	}
	reference, err := loadReference()
	if err != nil {
		return err
	}

	hub := services.NewMetricsHub()
	go hub.Run(ctx)
	go services.RunSampler(ctx, conn, hub, cfg.Metrics.DiskPath, time.Duration(cfg.Metrics.SampleSeconds)*time.Second)

	server := httpapi.NewServer(conn, *cfg, reference, mail.New(cfg.Mail), hub)
	httpServer := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Server.Port),
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("listening", zap.String("addr", httpServer.Addr), zap.Int("reference_frames", reference.Len()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	zap.L().Info("shutdown complete")
	return nil
}
