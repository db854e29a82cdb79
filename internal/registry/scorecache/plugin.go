package scorecache

import (
	"context"
	"fmt"

	"github.com/chirino/resume-chat/internal/scorecache"
)

type cacheKey struct{}

// WithContext returns a new context carrying the given ScoreCache.
func WithContext(ctx context.Context, c ScoreCache) context.Context {
	return context.WithValue(ctx, cacheKey{}, c)
}

// FromContext retrieves the ScoreCache from the context.
// Returns nil if none was set.
func FromContext(ctx context.Context) ScoreCache {
	c, _ := ctx.Value(cacheKey{}).(ScoreCache)
	return c
}

// ScoreCache stores compatibility scores by content key (see scorecache.Key).
// A miss is (Entry{}, false, nil); errors are reserved for backend failures.
type ScoreCache interface {
	Available() bool
	Get(ctx context.Context, key string) (scorecache.Entry, bool, error)
	Set(ctx context.Context, key string, score float64, subscores map[string]float64) error
	Stats(ctx context.Context) (scorecache.Stats, error)
	// Clear removes every entry and resets the hit and miss counters.
	Clear(ctx context.Context) error
	Close() error
}

// Loader creates a score cache from config.
type Loader func(ctx context.Context) (ScoreCache, error)

// Plugin represents a score cache plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a score cache plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered score cache plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named score cache plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown score cache %q; valid: %v", name, Names())
}
