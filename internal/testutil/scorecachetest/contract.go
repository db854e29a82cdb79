// Package scorecachetest holds behaviour shared by every score cache backend.
package scorecachetest

import (
	"context"
	"testing"

	registryscorecache "github.com/chirino/resume-chat/internal/registry/scorecache"
	"github.com/chirino/resume-chat/internal/scorecache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises get/set/stats/clear against an empty cache.
func Run(t *testing.T, c registryscorecache.ScoreCache) {
	t.Helper()
	ctx := context.Background()
	require.True(t, c.Available())
	require.NoError(t, c.Clear(ctx))

	doc := map[string]any{"summary": "Engineer", "skills": []any{"Go"}}
	shuffled := map[string]any{"skills": []any{"Go"}, "summary": "Engineer"}
	criteria := map[string]any{"keywords": []any{"go"}}

	key, err := scorecache.Key(doc, criteria)
	require.NoError(t, err)
	sameKey, err := scorecache.Key(shuffled, criteria)
	require.NoError(t, err)
	require.Equal(t, key, sameKey)

	_, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, key, 0.8, map[string]float64{"skills": 1, "summary": 0.5}))

	entry, ok, err := c.Get(ctx, sameKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, key, entry.Key)
	assert.Equal(t, 0.8, entry.Score)
	assert.Equal(t, map[string]float64{"skills": 1, "summary": 0.5}, entry.Subscores)
	assert.Equal(t, int64(1), entry.AccessCount)
	assert.False(t, entry.CreatedAt.IsZero())

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)

	require.NoError(t, c.Clear(ctx))
	_, ok, err = c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	stats, err = c.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}
