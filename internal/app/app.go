// Package app wires configuration into the services shared by the API
// server and the ingest command.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	"github.com/timmy/cattube/internal/config"
	"github.com/timmy/cattube/internal/logger"
	"github.com/timmy/cattube/internal/repository"
	"github.com/timmy/cattube/internal/retry"
	"github.com/timmy/cattube/internal/service"
	"github.com/timmy/cattube/internal/source"
	"github.com/timmy/cattube/internal/source/bucket"
	"github.com/timmy/cattube/internal/storage"
	"gorm.io/gorm"
)

// App holds the long lived collaborators of one process.
type App struct {
	Config      *config.Config
	DB          *gorm.DB
	SQL         *sql.DB
	Store       storage.ObjectStorage
	URLs        *storage.URLCache
	Index       *service.TwelveLabsClient
	Transcoder  *service.TransloaditClient
	Pool        *service.WorkerPool
	Coordinator *service.Coordinator
	Catalog     *service.CatalogService
	Jobs        *repository.JobRepository
	Source      source.Source
}

// New connects to the database, blob store and gateways and builds the
// ingest pipeline. The worker pool is created but not started.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("initialize database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database handle: %w", err)
	}

	store, err := storage.NewStorage(&cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("initialize storage: %w", err)
	}
	if s3, ok := store.(*storage.S3Storage); ok {
		if err := s3.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("ensure storage bucket: %w", err)
		}
	}
	urls, err := storage.NewURLCache(store, cfg.Storage.URLExpiry, cfg.Storage.URLCacheSize)
	if err != nil {
		return nil, fmt.Errorf("initialize url cache: %w", err)
	}

	index := service.NewTwelveLabsClient(&service.TwelveLabsConfig{
		APIKey:          cfg.TwelveLabs.APIKey,
		BaseURL:         cfg.TwelveLabs.BaseURL,
		IndexID:         cfg.TwelveLabs.IndexID,
		Timeout:         cfg.TwelveLabs.Timeout,
		SearchOptions:   cfg.TwelveLabs.SearchOptions,
		SearchThreshold: cfg.TwelveLabs.SearchThreshold,
	})
	transcoder := service.NewTransloaditClient(&service.TransloaditConfig{
		Key:     cfg.Transloadit.Key,
		Secret:  cfg.Transloadit.Secret,
		BaseURL: cfg.Transloadit.BaseURL,
	})

	videos := repository.NewVideoRepository(db)
	jobs := repository.NewJobRepository(db)
	pool := service.NewWorkerPool(cfg.Ingest.MaxTasks)

	coordinator := service.NewCoordinator(
		videos,
		jobs,
		repository.NewNotificationRepository(db),
		store,
		index,
		transcoder,
		pool,
		service.CoordinatorConfig{
			PollInterval:            cfg.TwelveLabs.PollInterval,
			MaxPollDuration:         cfg.TwelveLabs.MaxPollDuration,
			AssemblyPollInterval:    cfg.Transloadit.PollInterval,
			AssemblyMaxPollDuration: cfg.Transloadit.MaxPollDuration,
			SignedURLTTL:            cfg.Storage.URLExpiry,
			StaleAfter:              cfg.Ingest.StaleAfter,
			VideoPrefix:             cfg.Ingest.VideoPrefix,
			Retry:                   retry.FromConfig(cfg.Ingest.Retry),
			AuditNotifications:      cfg.Transloadit.AuditNotifications,
			GatewayConcurrency:      cfg.Ingest.GatewayConcurrency,
		},
	)
	catalog := service.NewCatalogService(videos, index, store, urls, &service.CatalogConfig{
		SearchMaxPages: cfg.TwelveLabs.SearchMaxPages,
	})

	logger.With(logger.Fields{
		"storage":             cfg.Storage.Type,
		"database":            cfg.Database.Driver,
		"max_tasks":           cfg.Ingest.MaxTasks,
		"gateway_concurrency": cfg.Ingest.GatewayConcurrency,
	}).Info(ctx, "Services initialized")

	return &App{
		Config:      cfg,
		DB:          db,
		SQL:         sqlDB,
		Store:       store,
		URLs:        urls,
		Index:       index,
		Transcoder:  transcoder,
		Pool:        pool,
		Coordinator: coordinator,
		Catalog:     catalog,
		Jobs:        jobs,
		Source:      bucket.NewAdapter(store, cfg.Ingest.VideoPrefix),
	}, nil
}

// MediaMount returns the filesystem root and URL path under which local
// storage is served. Both are empty for remote stores.
func (a *App) MediaMount() (root, path string) {
	local, ok := a.Store.(*storage.LocalStorage)
	if !ok || a.Config.Storage.PublicURL == "" {
		return "", ""
	}
	u, err := url.Parse(a.Config.Storage.PublicURL)
	if err != nil || u.Path == "" || u.Path == "/" {
		return "", ""
	}
	return local.Root(), u.Path
}

// Close releases the database connection.
func (a *App) Close() error {
	return a.SQL.Close()
}
