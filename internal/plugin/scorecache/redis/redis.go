package redis

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/chirino/resume-chat/internal/config"
	registryscorecache "github.com/chirino/resume-chat/internal/registry/scorecache"
	"github.com/chirino/resume-chat/internal/scorecache"
	json "github.com/goccy/go-json"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultTTL    = 30 * time.Minute
	defaultPrefix = "resume-score:"
)

func init() {
	registryscorecache.Register(registryscorecache.Plugin{
		Name:   "redis",
		Loader: load,
	})
}

func load(ctx context.Context) (registryscorecache.ScoreCache, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis score cache: RESUME_CHAT_REDIS_URL is required")
	}
	opts, err := goredis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis score cache: invalid URL: %w", err)
	}
	return LoadFromOptions(ctx, opts, cfg.ScoreCacheKeyPrefix, cfg.ScoreCacheTTL)
}

// LoadFromOptions creates a score cache from go-redis Options.
// Size is bounded by the server's maxmemory policy rather than a local capacity.
func LoadFromOptions(ctx context.Context, opts *goredis.Options, prefix string, ttl time.Duration) (registryscorecache.ScoreCache, error) {
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis score cache: ping failed: %w", err)
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &redisScoreCache{client: client, prefix: prefix, ttl: ttl}, nil
}

type redisScoreCache struct {
	client *goredis.Client
	prefix string
	ttl    time.Duration
	hits   atomic.Int64
	misses atomic.Int64
}

func (c *redisScoreCache) key(k string) string {
	return c.prefix + k
}

func (c *redisScoreCache) Available() bool {
	return true
}

func (c *redisScoreCache) Get(ctx context.Context, key string) (scorecache.Entry, bool, error) {
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		c.misses.Add(1)
		return scorecache.Entry{}, false, nil
	}
	if err != nil {
		return scorecache.Entry{}, false, err
	}
	var entry scorecache.Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.misses.Add(1)
		return scorecache.Entry{}, false, nil
	}
	c.hits.Add(1)
	entry.AccessCount++
	entry.LastAccessedAt = time.Now().UTC()
	if updated, err := json.Marshal(entry); err == nil {
		// access bookkeeping must not extend the entry's lifetime
		_ = c.client.SetArgs(ctx, c.key(key), updated, goredis.SetArgs{KeepTTL: true, Mode: "XX"}).Err()
	}
	return entry, true, nil
}

func (c *redisScoreCache) Set(ctx context.Context, key string, score float64, subscores map[string]float64) error {
	now := time.Now().UTC()
	data, err := json.Marshal(scorecache.Entry{
		Key:            key,
		Score:          score,
		Subscores:      subscores,
		CreatedAt:      now,
		LastAccessedAt: now,
	})
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(key), data, c.ttl).Err()
}

func (c *redisScoreCache) Stats(ctx context.Context) (scorecache.Stats, error) {
	size := 0
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 500).Iterator()
	for iter.Next(ctx) {
		size++
	}
	if err := iter.Err(); err != nil {
		return scorecache.Stats{}, err
	}
	return scorecache.Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Size: size}, nil
}

func (c *redisScoreCache) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 500).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 500 {
			if err := c.client.Del(ctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		if err := c.client.Del(ctx, batch...).Err(); err != nil {
			return err
		}
	}
	c.hits.Store(0)
	c.misses.Store(0)
	return nil
}

func (c *redisScoreCache) Close() error {
	return c.client.Close()
}

var _ registryscorecache.ScoreCache = (*redisScoreCache)(nil)
