package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vidpipe/api"
	"vidpipe/ingest"
	"vidpipe/pipeline"
	"vidpipe/status"
	"vidpipe/store"
)

const defaultShutdownGrace = 5 * time.Second

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the pipeline supervisor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.prepareDirs(); err != nil {
		return err
	}

	st, closeStore, err := store.New(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("open job store: %w", err)
	}
	defer func() {
		if err := closeStore(); err != nil {
			a.log.Warn("closing job store", zap.Error(err))
		}
	}()

	pub, closePub, err := a.publisher()
	if err != nil {
		return fmt.Errorf("init event publisher: %w", err)
	}
	defer func() {
		if err := closePub(); err != nil {
			a.log.Warn("closing event publisher", zap.Error(err))
		}
	}()

	r, err := a.newRunner(a.cfg, a.log)
	if err != nil {
		return fmt.Errorf("init task runner: %w", err)
	}

	sup := pipeline.NewSupervisor(st, a.orchestrator(st, r, pub), a.cfg.JobTimeout, a.log.Named("supervisor"))
	recovered, err := sup.Recover(ctx)
	if err != nil {
		return err
	}
	if recovered > 0 {
		a.log.Info("resumed unfinished jobs", zap.Int("count", recovered))
	}

	if a.cfg.WatchEnable {
		w := ingest.NewWatcher(a.cfg.WatchDir, a.cfg.UploadDir, sup, a.log.Named("ingest"))
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("start watch folder: %w", err)
		}
		defer w.Stop()
	}

	if a.log.Core().Enabled(zap.DebugLevel) {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	handler := api.NewHandler(sup, status.NewService(st), a.cfg, a.log.Named("api"))
	srv := &http.Server{
		Addr:              ":" + a.cfg.Port,
		Handler:           api.SetupRouter(handler, a.cfg, a.log.Named("http")),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("server starting", zap.String("addr", srv.Addr),
			zap.String("store", a.cfg.StoreDriver), zap.Bool("parallel_stages", a.cfg.ParallelStages))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.grace())
		defer cancel()
		a.stopJobs(shutdownCtx, sup)
		return fmt.Errorf("listen: %w", err)
	}

	stop()
	a.log.Info("shutting down gracefully, press Ctrl+C again to force")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.grace())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server forced to shutdown", zap.Error(err))
	}
	a.stopJobs(shutdownCtx, sup)

	a.log.Info("server exiting")
	return nil
}

// stopJobs interrupts running jobs and waits for them until ctx expires.
func (a *app) stopJobs(ctx context.Context, sup *pipeline.Supervisor) {
	if err := sup.Shutdown(ctx); err != nil {
		a.log.Warn("jobs still running at exit", zap.Strings("job_ids", sup.Running()), zap.Error(err))
	}
}

func (a *app) grace() time.Duration {
	if a.shutdownGrace > 0 {
		return a.shutdownGrace
	}
	return defaultShutdownGrace
}
