package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/timmy/cattube/internal/api"
	"github.com/timmy/cattube/internal/app"
	"github.com/timmy/cattube/internal/config"
	"github.com/timmy/cattube/internal/logger"
	"github.com/timmy/cattube/internal/scheduler"
)

// drainTimeout bounds how long shutdown waits for running batches.
const drainTimeout = 30 * time.Second

func main() {
	// Initialize logger first
	appLogger := logger.NewFromEnv(nil)
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// Support CONFIG_PATH environment variable for production deployments
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize services")
	}
	defer a.Close()

	// The index must exist before anything is submitted to it.
	if err := a.Index.CheckIndex(ctx); err != nil {
		appLogger.WithError(err).WithField("index_id", cfg.TwelveLabs.IndexID).Fatal("Video index is not reachable")
	}

	// Background work outlives requests, so it gets its own context.
	workCtx, cancelWork := context.WithCancel(context.Background())
	a.Pool.Start(workCtx)

	sched := scheduler.New(
		scheduler.Job{
			Name:     "sweep",
			Schedule: cfg.Ingest.SweepSchedule,
			Run: func(ctx context.Context) error {
				_, err := a.Coordinator.Sweep(ctx)
				return err
			},
		},
		scheduler.Job{
			Name:     "reconcile",
			Schedule: cfg.Ingest.ReconcileSchedule,
			Run: func(ctx context.Context) error {
				_, err := a.Coordinator.Reconcile(ctx, a.Source)
				return err
			},
		},
	)
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		if err := sched.Run(ctx); err != nil {
			appLogger.WithError(err).Error("Scheduler stopped")
		}
	}()

	mediaRoot, mediaPath := a.MediaMount()
	router := api.SetupRouter(cfg, &api.Dependencies{
		Coordinator: a.Coordinator,
		Catalog:     a.Catalog,
		Jobs:        a.Jobs,
		Source:      a.Source,
		DB:          a.SQL,
		MediaRoot:   mediaRoot,
		MediaPath:   mediaPath,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		appLogger.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	<-ctx.Done()
	appLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Server forced to shutdown")
	}
	<-schedDone

	// Running batches get a grace period, then their context is cancelled
	// and they record themselves as interrupted.
	a.Pool.Stop(drainTimeout)
	cancelWork()

	appLogger.Info("Server exited")
}
