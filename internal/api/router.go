package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/timmy/cattube/internal/api/handler"
	"github.com/timmy/cattube/internal/api/middleware"
	"github.com/timmy/cattube/internal/config"
	"github.com/timmy/cattube/internal/repository"
	"github.com/timmy/cattube/internal/service"
	"github.com/timmy/cattube/internal/source"
)

// Dependencies are the services the HTTP layer is built on.
type Dependencies struct {
	Coordinator *service.Coordinator
	Catalog     *service.CatalogService
	Jobs        *repository.JobRepository
	Source      source.Source
	DB          handler.Pinger

	// MediaRoot, when set, is served under MediaPath for local storage.
	MediaRoot string
	MediaPath string
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(cfg *config.Config, deps *Dependencies) *gin.Engine {
	// Set Gin mode
	switch cfg.Server.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	// Add middleware
	r.Use(gin.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS(cfg.Server.CORS))

	// Create handlers
	healthHandler := handler.NewHealthHandler(deps.DB)
	videoHandler := handler.NewVideoHandler(deps.Coordinator, deps.Catalog, cfg.Transloadit.Poll)
	searchHandler := handler.NewSearchHandler(deps.Catalog)
	uploadHandler := handler.NewUploadHandler(cfg.Transloadit)
	webhookHandler := handler.NewWebhookHandler(deps.Coordinator, cfg.Transloadit.Secret)
	adminHandler := handler.NewAdminHandler(deps.Coordinator, deps.Jobs, deps.Source)

	// Health check and metrics
	r.GET("/health", healthHandler.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if deps.MediaRoot != "" && deps.MediaPath != "" {
		r.Static(deps.MediaPath, deps.MediaRoot)
	}

	// The transcoder authenticates with its own signature.
	r.POST(handler.NotificationPath, webhookHandler.Transcoder)

	// API v1 routes
	v1 := r.Group("/api/v1")
	v1.Use(middleware.Auth(cfg.Server.Auth))
	{
		// Videos
		v1.GET("/videos", videoHandler.List)
		v1.POST("/videos", videoHandler.Create)
		v1.GET("/videos/:id", middleware.NoCache(), videoHandler.Get)
		v1.GET("/videos/:id/artifacts/:kind", videoHandler.Artifact)
		v1.POST("/videos/index", videoHandler.Index)
		v1.POST("/videos/delete", videoHandler.Delete)
		v1.POST("/videos/reset", videoHandler.Reset)
		v1.POST("/videos/status", middleware.NoCache(), videoHandler.Status)

		// Search
		v1.GET("/search", searchHandler.Search)

		// Uploads
		v1.GET("/uploads/params", uploadHandler.Params)

		// Maintenance
		v1.POST("/admin/reconcile", adminHandler.Reconcile)
		v1.POST("/admin/sweep", adminHandler.Sweep)
		v1.GET("/jobs", adminHandler.ListJobs)
		v1.GET("/jobs/:id", adminHandler.GetJob)
	}

	return r
}
