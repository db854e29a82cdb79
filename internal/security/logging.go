package security

import (
	"slices"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
)

// AccessLogMiddleware logs one line per request. Server errors log at warn
// level. Requests for skipPaths are not logged.
func AccessLogMiddleware(skipPaths ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if slices.Contains(skipPaths, c.Request.URL.Path) {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []any{
			"method", c.Request.Method,
			"route", c.FullPath(),
			"status", status,
			"duration", time.Since(start),
			"ownerId", GetOwnerID(c),
		}
		if doc := c.Param("documentId"); doc != "" {
			fields = append(fields, "documentId", doc)
		}
		if len(c.Errors) > 0 {
			fields = append(fields, "err", c.Errors.String())
		}
		if status >= 500 {
			log.Warn("HTTP request failed", fields...)
			return
		}
		log.Info("HTTP request", fields...)
	}
}
