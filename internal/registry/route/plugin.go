// Package route collects HTTP handler plugins for the API and management
// surfaces.
package route

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/gin-gonic/gin"
)

// Surface names the listener a plugin's handlers belong to.
type Surface int

const (
	// SurfaceAPI is the main document editing API.
	SurfaceAPI Surface = iota
	// SurfaceManagement carries health, readiness and metrics. It shares the
	// main listener unless a management port is configured.
	SurfaceManagement
)

// Plugin mounts a group of handlers. Plugins of a surface mount in Order.
type Plugin struct {
	Name    string
	Order   int
	Surface Surface
	Mount   func(r gin.IRouter) error
}

var plugins []Plugin

// Register adds a plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// MountAll mounts every plugin registered for surface on r.
func MountAll(r gin.IRouter, surface Surface) error {
	var selected []Plugin
	for _, p := range plugins {
		if p.Surface == surface {
			selected = append(selected, p)
		}
	}
	slices.SortStableFunc(selected, func(a, b Plugin) int { return cmp.Compare(a.Order, b.Order) })
	for _, p := range selected {
		if err := p.Mount(r); err != nil {
			return fmt.Errorf("mount %s routes: %w", p.Name, err)
		}
	}
	return nil
}
