package noop

import (
	"context"

	registryscorecache "github.com/chirino/resume-chat/internal/registry/scorecache"
	"github.com/chirino/resume-chat/internal/scorecache"
)

func init() {
	registryscorecache.Register(registryscorecache.Plugin{
		Name: "none",
		Loader: func(ctx context.Context) (registryscorecache.ScoreCache, error) {
			return &noopScoreCache{}, nil
		},
	})
}

type noopScoreCache struct{}

func (n *noopScoreCache) Available() bool { return false }
func (n *noopScoreCache) Get(_ context.Context, _ string) (scorecache.Entry, bool, error) {
	return scorecache.Entry{}, false, nil
}
func (n *noopScoreCache) Set(_ context.Context, _ string, _ float64, _ map[string]float64) error {
	return nil
}
func (n *noopScoreCache) Stats(_ context.Context) (scorecache.Stats, error) {
	return scorecache.Stats{}, nil
}
func (n *noopScoreCache) Clear(_ context.Context) error { return nil }
func (n *noopScoreCache) Close() error                  { return nil }

var _ registryscorecache.ScoreCache = (*noopScoreCache)(nil)
