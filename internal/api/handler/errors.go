package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"unicode"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/timmy/cattube/internal/logger"
	"github.com/timmy/cattube/internal/repository"
	"github.com/timmy/cattube/internal/service"
)

// respondError maps service and repository errors to HTTP responses.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	var gwErr *service.GatewayError
	switch {
	case repository.IsNotFound(err), errors.Is(err, service.ErrArtifactMissing):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrAssemblyExists):
		status = http.StatusConflict
	case errors.Is(err, service.ErrQueueFull), errors.Is(err, service.ErrPoolStopped):
		status = http.StatusServiceUnavailable
	case errors.As(err, &gwErr):
		status = http.StatusBadGateway
	}

	if status >= 500 {
		logger.FromContext(c.Request.Context()).WithError(err).Error("Request failed")
		_ = c.Error(err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// respondInvalid writes a 400 with per-field messages when err came from
// struct validation.
func respondInvalid(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[snakeCase(fe.Field())] = fieldMessage(fe)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "fields": fields})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "min":
		return "must be at least " + fe.Param()
	}
	return "failed " + fe.Tag() + " validation"
}

// snakeCase converts a Go field name such as AssemblyID to assembly_id.
func snakeCase(s string) string {
	runes := []rune(s)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}

// parseID reads a positive numeric path parameter.
func parseID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return uint(id), true
}
