package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/leyline/core/internal/services"
)

// RequestAudit records every finished request in the logs table
func RequestAudit(logService *services.LogService) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		logService.LogAPIRequest(
			c.Request.Method,
			path,
			c.Writer.Status(),
			time.Since(start).Milliseconds(),
			c.ClientIP(),
			c.Request.UserAgent(),
		)
	}
}
