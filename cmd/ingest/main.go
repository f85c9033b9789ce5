package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/timmy/cattube/internal/app"
	"github.com/timmy/cattube/internal/config"
	"github.com/timmy/cattube/internal/logger"
	"github.com/timmy/cattube/internal/service"
)

// maxWait bounds how long the command waits for dispatched batches.
const maxWait = 24 * time.Hour

func main() {
	// Initialize logger first (with defaults)
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "json",
		ServiceName: "cattube-ingest",
	})
	logger.SetDefaultLogger(appLogger)

	// Parse command line flags
	reconcile := flag.Bool("reconcile", false, "Create records for videos in the bucket that have none")
	index := flag.String("index", "", "Submit videos for indexing: \"all\" or a comma separated id list")
	sweep := flag.Bool("sweep", false, "Resume or fail videos stuck in a non-terminal state")
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	if !*reconcile && *index == "" && !*sweep {
		flag.Usage()
		os.Exit(2)
	}

	sel, err := parseSelection(*index)
	if err != nil {
		appLogger.WithError(err).Fatal("Invalid -index value")
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	appLogger.WithFields(logger.Fields{
		"reconcile": *reconcile,
		"index":     *index,
		"sweep":     *sweep,
	}).Info("Starting ingestion")

	// Setup signal handling
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize services")
	}
	defer a.Close()

	a.Pool.Start(ctx)

	if *reconcile {
		result, err := a.Coordinator.Reconcile(ctx, a.Source)
		if err != nil {
			appLogger.WithError(err).Fatal("Reconcile failed")
		}
		appLogger.WithFields(logger.Fields{
			"job_id":  result.JobID,
			"created": len(result.Created),
			"skipped": result.Skipped,
		}).Info("Reconcile completed")
	}

	if *sweep {
		result, err := a.Coordinator.Sweep(ctx)
		if err != nil {
			appLogger.WithError(err).Fatal("Sweep failed")
		}
		appLogger.WithFields(logger.Fields{
			"job_id":  result.JobID,
			"resumed": len(result.Resumed),
			"failed":  len(result.Failed),
		}).Info("Sweep dispatched")
	}

	if !sel.Empty() {
		if err := a.Index.CheckIndex(ctx); err != nil {
			appLogger.WithError(err).Fatal("Video index is not reachable")
		}
		result, err := a.Coordinator.Submit(ctx, sel)
		if err != nil {
			appLogger.WithError(err).Fatal("Submit failed")
		}
		appLogger.WithFields(logger.Fields{
			"job_id": result.JobID,
			"count":  len(result.Videos),
		}).Info("Videos submitted for indexing")
	}

	// Wait for dispatched batches. The pool context derives from ctx, so a
	// signal cancels them and they record themselves as interrupted.
	a.Pool.Stop(maxWait)

	appLogger.Info("Ingestion finished")
}

// parseSelection reads the -index flag.
func parseSelection(value string) (service.Selection, error) {
	value = strings.TrimSpace(value)
	switch value {
	case "":
		return service.Selection{}, nil
	case "all":
		return service.Selection{All: true}, nil
	}

	var sel service.Selection
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseUint(part, 10, 64)
		if err != nil || id == 0 {
			return sel, fmt.Errorf("invalid video id %q", part)
		}
		sel.IDs = append(sel.IDs, uint(id))
	}
	return sel, nil
}
