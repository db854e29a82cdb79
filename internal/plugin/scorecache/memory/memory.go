package memory

import (
	"context"

	"github.com/chirino/resume-chat/internal/config"
	registryscorecache "github.com/chirino/resume-chat/internal/registry/scorecache"
	"github.com/chirino/resume-chat/internal/scorecache"
)

func init() {
	registryscorecache.Register(registryscorecache.Plugin{
		Name:   "memory",
		Loader: load,
	})
}

func load(ctx context.Context) (registryscorecache.ScoreCache, error) {
	opts := scorecache.Options{Capacity: 1000}
	if cfg := config.FromContext(ctx); cfg != nil {
		opts.Capacity = cfg.ScoreCacheCapacity
		opts.TTL = cfg.ScoreCacheTTL
		opts.SweepInterval = cfg.ScoreCacheSweepInterval
	}
	c := scorecache.New(opts)
	c.Start(ctx)
	return Wrap(c), nil
}

// Wrap adapts an in-process scorecache.Cache to the ScoreCache interface.
func Wrap(c *scorecache.Cache) registryscorecache.ScoreCache {
	return &memoryScoreCache{cache: c}
}

type memoryScoreCache struct {
	cache *scorecache.Cache
}

func (m *memoryScoreCache) Available() bool { return true }

func (m *memoryScoreCache) Get(_ context.Context, key string) (scorecache.Entry, bool, error) {
	e, ok := m.cache.Lookup(key)
	return e, ok, nil
}

func (m *memoryScoreCache) Set(_ context.Context, key string, score float64, subscores map[string]float64) error {
	m.cache.Store(key, score, subscores)
	return nil
}

func (m *memoryScoreCache) Stats(_ context.Context) (scorecache.Stats, error) {
	return m.cache.Stats(), nil
}

func (m *memoryScoreCache) Clear(_ context.Context) error {
	m.cache.Clear()
	return nil
}

func (m *memoryScoreCache) Close() error { return nil }

var _ registryscorecache.ScoreCache = (*memoryScoreCache)(nil)
