package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/timmy/cattube/internal/config"
	"github.com/timmy/cattube/internal/logger"
)

// SubjectKey is the Gin context key holding the authenticated subject.
const SubjectKey = "subject"

// Auth returns a middleware that requires an HS256 bearer token signed with
// cfg.JWTSecret. When no secret is configured every request passes.
func Auth(cfg config.AuthConfig) gin.HandlerFunc {
	if cfg.JWTSecret == "" {
		logger.Warn("JWT secret not set, API authentication is disabled")
		return func(c *gin.Context) { c.Next() }
	}

	secret := []byte(cfg.JWTSecret)
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	parser := jwt.NewParser(opts...)

	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		claims := &jwt.RegisteredClaims{}
		token, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
			return secret, nil
		})
		if err != nil || !token.Valid {
			logger.FromContext(c.Request.Context()).WithError(err).Debug("Rejected bearer token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(SubjectKey, claims.Subject)
		c.Request = c.Request.WithContext(logger.WithField(c.Request.Context(), "subject", claims.Subject))
		c.Next()
	}
}
