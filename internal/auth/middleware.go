package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SubjectKey is the gin context key holding the authenticated token subject.
const SubjectKey = "subject"

func AuthMiddleware(jwtManager JWTManagerInterface, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		log := logger.With(
			zap.String("path", c.Request.URL.Path),
			zap.String("method", c.Request.Method),
			zap.String("ip", c.ClientIP()),
		)

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			log.Debug("auth middleware: missing authorization header")
			abort(c, http.StatusUnauthorized, "authorization header is required")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			log.Debug("auth middleware: invalid authorization header format")
			abort(c, http.StatusUnauthorized, "invalid authorization header format")
			return
		}

		claims, err := jwtManager.ValidateToken(parts[1])
		if err != nil {
			log.Info("auth middleware: token validation failed", zap.Error(err))
			status := http.StatusUnauthorized
			if errors.Is(err, ErrExpiredToken) {
				status = http.StatusForbidden
			}
			abort(c, status, err.Error())
			return
		}

		c.Set(SubjectKey, claims.Subject)
		c.Next()
	}
}

func abort(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"status":  "error",
		"message": message,
	})
}
