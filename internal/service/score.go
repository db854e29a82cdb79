package service

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/resume-chat/internal/document"
	registryscorecache "github.com/chirino/resume-chat/internal/registry/scorecache"
	"github.com/chirino/resume-chat/internal/scorecache"
	"github.com/chirino/resume-chat/internal/security"
	"golang.org/x/sync/singleflight"
)

// ScoreResult is a computed or cached compatibility score.
type ScoreResult struct {
	Key       string             `json:"key"`
	Score     float64            `json:"score"`
	Subscores map[string]float64 `json:"subscores"`
	Cached    bool               `json:"cached"`
}

// ScoreService answers scores from the cache and computes misses once, even
// when identical requests arrive concurrently.
type ScoreService struct {
	cache  registryscorecache.ScoreCache
	scorer Scorer
	group  singleflight.Group
}

// NewScoreService creates a ScoreService. A nil cache disables caching.
func NewScoreService(cache registryscorecache.ScoreCache, scorer Scorer) *ScoreService {
	if scorer == nil {
		scorer = KeywordScorer{}
	}
	return &ScoreService{cache: cache, scorer: scorer}
}

func (s *ScoreService) cacheAvailable() bool {
	return s.cache != nil && s.cache.Available()
}

// Score returns the score of doc against criteria. Cache backend failures are
// logged and treated as misses.
func (s *ScoreService) Score(ctx context.Context, doc document.Document, criteria Criteria) (ScoreResult, error) {
	key, err := scorecache.Key(doc, criteria)
	if err != nil {
		return ScoreResult{}, fmt.Errorf("score cache key: %w", err)
	}

	if s.cacheAvailable() {
		entry, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			log.Warn("Score cache lookup failed", "err", err)
		} else if ok {
			security.Inc(security.ScoreCacheHitsTotal)
			return ScoreResult{Key: key, Score: entry.Score, Subscores: entry.Subscores, Cached: true}, nil
		}
		security.Inc(security.ScoreCacheMissesTotal)
	}

	// Callers of the same key share one computation, detached from the
	// cancellation of whichever caller started it.
	shared := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key, func() (any, error) {
		score, subscores, err := s.scorer.Score(shared, doc, criteria)
		if err != nil {
			return nil, err
		}
		security.Inc(security.ScoreComputationsTotal)
		if s.cacheAvailable() {
			if err := s.cache.Set(shared, key, score, subscores); err != nil {
				log.Warn("Score cache store failed", "err", err)
			}
		}
		return ScoreResult{Key: key, Score: score, Subscores: subscores}, nil
	})
	select {
	case <-ctx.Done():
		return ScoreResult{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return ScoreResult{}, res.Err
		}
		return res.Val.(ScoreResult), nil
	}
}

// Stats reports cache counters. A disabled cache reports zeros.
func (s *ScoreService) Stats(ctx context.Context) (scorecache.Stats, error) {
	if s.cache == nil {
		return scorecache.Stats{}, nil
	}
	return s.cache.Stats(ctx)
}

// Clear empties the cache and resets its counters.
func (s *ScoreService) Clear(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Clear(ctx)
}
