package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/timmy/cattube/internal/service"
)

// SearchHandler handles search-related endpoints.
type SearchHandler struct {
	catalog *service.CatalogService
}

// NewSearchHandler creates a new search handler.
// Parameters:
//   - catalog: catalog service that owns search.
// Returns:
//   - *SearchHandler: initialized handler.
func NewSearchHandler(catalog *service.CatalogService) *SearchHandler {
	return &SearchHandler{catalog: catalog}
}

// Search handles GET /api/v1/search?q=...&page=N.
func (h *SearchHandler) Search(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Query parameter 'q' is required",
		})
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))

	result, err := h.catalog.Search(c.Request.Context(), query, page)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
