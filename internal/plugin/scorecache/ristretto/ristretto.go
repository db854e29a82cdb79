package ristretto

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chirino/resume-chat/internal/config"
	registryscorecache "github.com/chirino/resume-chat/internal/registry/scorecache"
	"github.com/chirino/resume-chat/internal/scorecache"
	"github.com/dgraph-io/ristretto/v2"
)

func init() {
	registryscorecache.Register(registryscorecache.Plugin{
		Name:   "ristretto",
		Loader: load,
	})
}

func load(ctx context.Context) (registryscorecache.ScoreCache, error) {
	capacity, ttl := 1000, time.Duration(0)
	if cfg := config.FromContext(ctx); cfg != nil {
		capacity, ttl = cfg.ScoreCacheCapacity, cfg.ScoreCacheTTL
	}
	return New(capacity, ttl)
}

// New creates a ristretto backed score cache. Admission is probabilistic:
// under pressure a Set may be dropped, which only costs a recomputation.
func New(capacity int, ttl time.Duration) (registryscorecache.ScoreCache, error) {
	if capacity < 1 {
		capacity = 1
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, *item]{
		NumCounters:        int64(capacity) * 10,
		MaxCost:            int64(capacity),
		BufferItems:        64,
		Metrics:            true,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("ristretto score cache: %w", err)
	}
	return &ristrettoScoreCache{cache: c, capacity: capacity, ttl: ttl}, nil
}

type item struct {
	mu    sync.Mutex
	entry scorecache.Entry
}

type ristrettoScoreCache struct {
	cache    *ristretto.Cache[string, *item]
	capacity int
	ttl      time.Duration
	hits     atomic.Int64
	misses   atomic.Int64
}

func (r *ristrettoScoreCache) Available() bool { return true }

func (r *ristrettoScoreCache) Get(_ context.Context, key string) (scorecache.Entry, bool, error) {
	it, ok := r.cache.Get(key)
	if !ok || it == nil {
		r.misses.Add(1)
		return scorecache.Entry{}, false, nil
	}
	r.hits.Add(1)
	it.mu.Lock()
	defer it.mu.Unlock()
	it.entry.AccessCount++
	it.entry.LastAccessedAt = time.Now()
	out := it.entry
	out.Subscores = maps.Clone(it.entry.Subscores)
	return out, true, nil
}

func (r *ristrettoScoreCache) Set(_ context.Context, key string, score float64, subscores map[string]float64) error {
	now := time.Now()
	it := &item{entry: scorecache.Entry{
		Key:            key,
		Score:          score,
		Subscores:      maps.Clone(subscores),
		CreatedAt:      now,
		LastAccessedAt: now,
	}}
	r.cache.SetWithTTL(key, it, 1, r.ttl)
	r.cache.Wait()
	return nil
}

func (r *ristrettoScoreCache) Stats(_ context.Context) (scorecache.Stats, error) {
	size := 0
	if m := r.cache.Metrics; m != nil {
		if n := int(m.KeysAdded()) - int(m.KeysEvicted()); n > 0 {
			size = min(n, r.capacity)
		}
	}
	return scorecache.Stats{
		Hits:     r.hits.Load(),
		Misses:   r.misses.Load(),
		Size:     size,
		Capacity: r.capacity,
	}, nil
}

func (r *ristrettoScoreCache) Clear(_ context.Context) error {
	r.cache.Clear()
	r.hits.Store(0)
	r.misses.Store(0)
	return nil
}

func (r *ristrettoScoreCache) Close() error {
	r.cache.Close()
	return nil
}

var _ registryscorecache.ScoreCache = (*ristrettoScoreCache)(nil)
