package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/timmy/cattube/internal/repository"
	"github.com/timmy/cattube/internal/service"
	"github.com/timmy/cattube/internal/source"
)

// AdminHandler exposes maintenance operations and job inspection.
type AdminHandler struct {
	coordinator *service.Coordinator
	jobs        *repository.JobRepository
	src         source.Source
}

// NewAdminHandler creates a new admin handler. src is the blob listing
// reconciled against the catalog.
func NewAdminHandler(coordinator *service.Coordinator, jobs *repository.JobRepository, src source.Source) *AdminHandler {
	return &AdminHandler{coordinator: coordinator, jobs: jobs, src: src}
}

// Reconcile handles POST /api/v1/admin/reconcile.
func (h *AdminHandler) Reconcile(c *gin.Context) {
	result, err := h.coordinator.Reconcile(c.Request.Context(), h.src)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Sweep handles POST /api/v1/admin/sweep.
func (h *AdminHandler) Sweep(c *gin.Context) {
	result, err := h.coordinator.Sweep(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetJob handles GET /api/v1/jobs/:id.
func (h *AdminHandler) GetJob(c *gin.Context) {
	job, err := h.jobs.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// ListJobs handles GET /api/v1/jobs?limit=N.
func (h *AdminHandler) ListJobs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit < 1 || limit > 100 {
		limit = 20
	}
	jobs, err := h.jobs.ListRecent(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}
