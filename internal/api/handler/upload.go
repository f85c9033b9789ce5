package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/timmy/cattube/internal/config"
	"github.com/timmy/cattube/internal/logger"
	"github.com/timmy/cattube/internal/signature"
)

// NotificationPath is where the transcoder posts assembly notifications.
const NotificationPath = "/api/v1/notifications/transcoder"

// UploadHandler issues signed parameters for browser uploads.
type UploadHandler struct {
	cfg config.TransloaditConfig
	now func() time.Time
}

// NewUploadHandler creates a new upload handler.
func NewUploadHandler(cfg config.TransloaditConfig) *UploadHandler {
	return &UploadHandler{cfg: cfg, now: time.Now}
}

// UploadParamsResponse is what the browser posts to the transcoder.
type UploadParamsResponse struct {
	Params    string `json:"params"`
	Signature string `json:"signature"`
}

// Params handles GET /api/v1/uploads/params.
func (h *UploadHandler) Params(c *gin.Context) {
	notifyURL := ""
	if !h.cfg.Poll {
		notifyURL = h.cfg.NotifyURL
		if notifyURL == "" {
			notifyURL = requestBaseURL(c) + NotificationPath
		}
	}

	params := signature.NewParams(h.cfg.Key, h.cfg.TemplateID, notifyURL, h.now(), h.cfg.SignatureTTL)
	payload, sig, err := signature.SignParams(h.cfg.Secret, params)
	if err != nil {
		logger.FromContext(c.Request.Context()).WithError(err).Error("Failed to sign upload params")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to sign upload params"})
		return
	}

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, UploadParamsResponse{Params: payload, Signature: sig})
}

// requestBaseURL rebuilds scheme://host as seen by the client.
func requestBaseURL(c *gin.Context) string {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	host := c.Request.Host
	if fwd := c.GetHeader("X-Forwarded-Host"); fwd != "" {
		host = fwd
	}
	return scheme + "://" + host
}
