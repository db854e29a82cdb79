// Package system serves the management endpoints.
package system

import (
	"net/http"
	"sync/atomic"

	registryroute "github.com/chirino/resume-chat/internal/registry/route"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var ready atomic.Bool

// MarkReady flips /ready to 200. StartServer calls it once every subsystem
// is up.
func MarkReady() { ready.Store(true) }

// MarkNotReady flips /ready back to 503 while the server drains.
func MarkNotReady() { ready.Store(false) }

func init() {
	registryroute.Register(registryroute.Plugin{
		Name:    "system",
		Surface: registryroute.SurfaceManagement,
		Mount: func(r gin.IRouter) error {
			r.GET("/health", health)
			r.GET("/ready", readiness)
			r.GET("/metrics", gin.WrapH(promhttp.Handler()))
			return nil
		},
	})
}

func health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func readiness(c *gin.Context) {
	if !ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
