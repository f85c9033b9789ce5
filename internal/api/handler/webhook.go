package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/cattube/internal/logger"
	"github.com/timmy/cattube/internal/metrics"
	"github.com/timmy/cattube/internal/repository"
	"github.com/timmy/cattube/internal/service"
	"github.com/timmy/cattube/internal/signature"
)

// WebhookHandler receives assembly notifications from the transcoder.
type WebhookHandler struct {
	coordinator *service.Coordinator
	secret      string
}

// NewWebhookHandler creates a new webhook handler. secret verifies the
// notification signatures.
func NewWebhookHandler(coordinator *service.Coordinator, secret string) *WebhookHandler {
	return &WebhookHandler{coordinator: coordinator, secret: secret}
}

// Transcoder handles POST /api/v1/notifications/transcoder. The body is a
// form with the assembly JSON in "transloadit" and its HMAC in "signature".
func (h *WebhookHandler) Transcoder(c *gin.Context) {
	ctx := logger.SetComponent(c.Request.Context(), "webhook")
	payload := c.PostForm("transloadit")
	sig := c.PostForm("signature")

	if payload == "" || sig == "" || !signature.Verify(h.secret, sig, payload) {
		metrics.RecordWebhook("unauthorized")
		logger.CtxWarn(ctx, "Rejected notification with invalid signature")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	assembly, err := service.ParseAssembly(payload)
	if err != nil {
		metrics.RecordWebhook("invalid")
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "invalid notification",
			"fields": gin.H{"transloadit": err.Error()},
		})
		return
	}
	h.coordinator.RecordNotification(ctx, assembly.AssemblyID, sig, payload, true)

	video, err := h.coordinator.ApplyAssembly(ctx, assembly)
	if err != nil {
		if repository.IsNotFound(err) {
			metrics.RecordWebhook("unknown_assembly")
		} else {
			metrics.RecordWebhook("error")
		}
		respondError(c, err)
		return
	}

	metrics.RecordWebhook("applied")
	logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldVideoID:    video.ID,
		logger.FieldAssemblyID: assembly.AssemblyID,
		logger.FieldStatus:     video.Status,
	}).Info("Applied assembly notification")
	c.Status(http.StatusNoContent)
}
