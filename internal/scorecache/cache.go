package scorecache

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// Entry is a cached compatibility score.
type Entry struct {
	Key            string             `json:"key"`
	Score          float64            `json:"score"`
	Subscores      map[string]float64 `json:"subscores,omitempty"`
	CreatedAt      time.Time          `json:"createdAt"`
	AccessCount    int64              `json:"accessCount"`
	LastAccessedAt time.Time          `json:"lastAccessedAt"`
}

// Stats is a point-in-time view of the cache counters.
type Stats struct {
	Hits     int64 `json:"hits"`
	Misses   int64 `json:"misses"`
	Size     int   `json:"size"`
	Capacity int   `json:"capacity"`
}

// HitRate returns hits / (hits + misses), or 0 before the first lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Options configures a Cache.
type Options struct {
	// Capacity bounds the number of entries. Values below 1 mean 1.
	Capacity int
	// TTL is measured from CreatedAt. Zero disables expiry.
	TTL time.Duration
	// SweepInterval is the period of the background sweep started by Start.
	SweepInterval time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Cache is an in-process LRU of compatibility scores keyed by content hash.
// It is safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	lru      *simplelru.LRU[string, *Entry]
	capacity int
	ttl      time.Duration
	sweep    time.Duration
	now      func() time.Time
	hits     int64
	misses   int64
}

// New creates a Cache. Call Start to run the periodic expiry sweep.
func New(opts Options) *Cache {
	if opts.Capacity < 1 {
		opts.Capacity = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	// only a non-positive size is rejected
	entries, _ := simplelru.NewLRU[string, *Entry](opts.Capacity, nil)
	return &Cache{
		lru:      entries,
		capacity: opts.Capacity,
		ttl:      opts.TTL,
		sweep:    opts.SweepInterval,
		now:      opts.Now,
	}
}

// Get returns the cached score for document and criteria.
func (c *Cache) Get(document, criteria any) (Entry, bool) {
	key, err := Key(document, criteria)
	if err != nil {
		c.mu.Lock()
		c.misses++
		c.mu.Unlock()
		return Entry{}, false
	}
	return c.Lookup(key)
}

// Set stores a score for document and criteria.
func (c *Cache) Set(document, criteria any, score float64, subscores map[string]float64) error {
	key, err := Key(document, criteria)
	if err != nil {
		return err
	}
	c.Store(key, score, subscores)
	return nil
}

// Lookup returns the entry stored under key. Expired entries count as misses
// and are removed.
func (c *Cache) Lookup(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(key)
	if !ok {
		c.misses++
		return Entry{}, false
	}
	now := c.now()
	if c.expired(e, now) {
		c.lru.Remove(key)
		c.misses++
		return Entry{}, false
	}
	c.hits++
	e.AccessCount++
	e.LastAccessedAt = now
	return cloneEntry(e), true
}

// Store inserts or replaces the entry under key, evicting the least recently
// accessed entry first when the cache is full.
func (c *Cache) Store(key string, score float64, subscores map[string]float64) Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	e := &Entry{
		Key:            key,
		Score:          score,
		Subscores:      maps.Clone(subscores),
		CreatedAt:      now,
		LastAccessedAt: now,
	}
	if evicted := c.lru.Add(key, e); evicted {
		log.Debug("Score cache evicted least recently used entry", "capacity", c.capacity)
	}
	return cloneEntry(e)
}

// Sweep removes every expired entry and returns how many were removed.
func (c *Cache) Sweep() int {
	if c.ttl <= 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for _, key := range c.lru.Keys() {
		if e, ok := c.lru.Peek(key); ok && c.expired(e, now) {
			c.lru.Remove(key)
			removed++
		}
	}
	return removed
}

// Start runs the expiry sweep until ctx is cancelled. It returns immediately
// when expiry or the sweep is disabled.
func (c *Cache) Start(ctx context.Context) {
	if c.ttl <= 0 || c.sweep <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(c.sweep)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := c.Sweep(); n > 0 {
					log.Debug("Score cache sweep", "removed", n)
				}
			}
		}
	}()
}

// Clear drops every entry and resets the hit and miss counters.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
	c.hits = 0
	c.misses = 0
}

// Stats returns the current counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Hits: c.hits, Misses: c.misses, Size: c.lru.Len(), Capacity: c.capacity}
}

func (c *Cache) expired(e *Entry, now time.Time) bool {
	return c.ttl > 0 && now.Sub(e.CreatedAt) >= c.ttl
}

func cloneEntry(e *Entry) Entry {
	out := *e
	out.Subscores = maps.Clone(e.Subscores)
	return out
}
