package handler

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/timmy/cattube/internal/domain"
	"github.com/timmy/cattube/internal/service"
)

// VideoHandler handles catalog and ingest endpoints for videos.
type VideoHandler struct {
	coordinator *service.Coordinator
	catalog     *service.CatalogService
	poll        bool
}

// NewVideoHandler creates a new video handler.
// Parameters:
//   - coordinator: ingest coordinator for state changing calls.
//   - catalog: read side of the catalog.
//   - pollAssemblies: follow new uploads by polling the transcoder.
//
// Returns:
//   - *VideoHandler: initialized handler.
func NewVideoHandler(coordinator *service.Coordinator, catalog *service.CatalogService, pollAssemblies bool) *VideoHandler {
	return &VideoHandler{coordinator: coordinator, catalog: catalog, poll: pollAssemblies}
}

// CreateVideoRequest registers an upload started in the browser.
type CreateVideoRequest struct {
	Title      string `json:"title" binding:"required,max=255"`
	AssemblyID string `json:"assembly_id" binding:"required,max=64"`
}

// StatusRequestItem names one video in a status poll.
type StatusRequestItem struct {
	ID uint `json:"id" binding:"required"`
}

// List handles GET /api/v1/videos?page=N.
func (h *VideoHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	result, err := h.catalog.List(c.Request.Context(), page)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Get handles GET /api/v1/videos/:id.
func (h *VideoHandler) Get(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	video, err := h.catalog.Detail(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, video)
}

// Create handles POST /api/v1/videos.
func (h *VideoHandler) Create(c *gin.Context) {
	var req CreateVideoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalid(c, err)
		return
	}
	result, err := h.coordinator.CreateUpload(c.Request.Context(), req.Title, req.AssemblyID, h.poll)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func bindSelection(c *gin.Context) (service.Selection, bool) {
	var sel service.Selection
	if err := c.ShouldBindJSON(&sel); err != nil {
		respondInvalid(c, err)
		return sel, false
	}
	if sel.Empty() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "either ids or all is required"})
		return sel, false
	}
	return sel, true
}

// Index handles POST /api/v1/videos/index. The response lists the videos
// moved to Sending; indexing continues in the background.
func (h *VideoHandler) Index(c *gin.Context) {
	sel, ok := bindSelection(c)
	if !ok {
		return
	}
	result, err := h.coordinator.Submit(c.Request.Context(), sel)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, result)
}

// Delete handles POST /api/v1/videos/delete.
func (h *VideoHandler) Delete(c *gin.Context) {
	sel, ok := bindSelection(c)
	if !ok {
		return
	}
	deleted, err := h.coordinator.Delete(c.Request.Context(), sel)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

// Reset handles POST /api/v1/videos/reset.
func (h *VideoHandler) Reset(c *gin.Context) {
	sel, ok := bindSelection(c)
	if !ok {
		return
	}
	videos, err := h.coordinator.Reset(c.Request.Context(), sel)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"videos": videos})
}

// Status handles POST /api/v1/videos/status with a JSON array of {"id"}.
// Unknown ids are left out of the response.
func (h *VideoHandler) Status(c *gin.Context) {
	var items []StatusRequestItem
	if err := c.ShouldBindJSON(&items); err != nil {
		respondInvalid(c, err)
		return
	}
	ids := make([]uint, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	states, err := h.catalog.Status(c.Request.Context(), ids)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, states)
}

// Artifact handles GET /api/v1/videos/:id/artifacts/:kind.
func (h *VideoHandler) Artifact(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	kind, ok := domain.ParseArtifactKind(c.Param("kind"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown artifact kind"})
		return
	}

	rc, err := h.catalog.OpenArtifact(c.Request.Context(), id, kind)
	if err != nil {
		respondError(c, err)
		return
	}
	defer rc.Close()

	c.Header("Content-Type", "application/json")
	c.Status(http.StatusOK)
	_, _ = io.Copy(c.Writer, rc)
}
