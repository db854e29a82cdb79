package scorecache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var criteria = map[string]any{"keywords": []any{"go", "kubernetes"}, "role": "backend"}

func TestKey_IndependentOfInsertionOrder(t *testing.T) {
	a := map[string]any{"summary": "Engineer", "skills": []any{"Go"}, "contact": map[string]any{"email": "a@b.c", "city": "Oslo"}}
	b := map[string]any{"contact": map[string]any{"city": "Oslo", "email": "a@b.c"}, "skills": []any{"Go"}, "summary": "Engineer"}

	ka, err := Key(a, criteria)
	require.NoError(t, err)
	kb, err := Key(b, criteria)
	require.NoError(t, err)
	assert.Equal(t, ka, kb)
	assert.Len(t, ka, 64)

	kc, err := Key(map[string]any{"summary": "Engineer!"}, criteria)
	require.NoError(t, err)
	assert.NotEqual(t, ka, kc)

	kd, err := Key(a, map[string]any{"role": "frontend"})
	require.NoError(t, err)
	assert.NotEqual(t, ka, kd)
}

func TestKey_SequenceOrderMatters(t *testing.T) {
	k1, err := Key(map[string]any{"skills": []any{"Go", "Rust"}}, nil)
	require.NoError(t, err)
	k2, err := Key(map[string]any{"skills": []any{"Rust", "Go"}}, nil)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2)
}

func TestKey_UnencodableInput(t *testing.T) {
	_, err := Key(map[string]any{"bad": make(chan int)}, nil)
	require.Error(t, err)
}

func TestProperty_KeyStableUnderShuffle(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		keys := rapid.SliceOfNDistinct(rapid.StringMatching(`[a-z]{1,6}`), 1, 8, rapid.ID[string]).Draw(t, "keys")
		values := make(map[string]int, len(keys))
		for _, k := range keys {
			values[k] = rapid.IntRange(0, 100).Draw(t, "value")
		}
		perm := rapid.Permutation(keys).Draw(t, "perm")

		forward := make(map[string]any, len(keys))
		for _, k := range keys {
			forward[k] = values[k]
		}
		shuffled := make(map[string]any, len(keys))
		for _, k := range perm {
			shuffled[k] = values[k]
		}

		c := New(Options{Capacity: 4})
		require.NoError(t, c.Set(shuffled, criteria, 0.75, map[string]float64{"skills": 1}))
		got, ok := c.Get(forward, criteria)
		require.True(t, ok)
		require.Equal(t, 0.75, got.Score)
		require.Equal(t, map[string]float64{"skills": 1}, got.Subscores)
	})
}

func TestCache_HitMissCounters(t *testing.T) {
	c := New(Options{Capacity: 10})
	doc := map[string]any{"summary": "Engineer"}

	_, ok := c.Get(doc, criteria)
	assert.False(t, ok)

	require.NoError(t, c.Set(doc, criteria, 0.5, nil))
	e, ok := c.Get(doc, criteria)
	require.True(t, ok)
	assert.Equal(t, int64(1), e.AccessCount)
	e, ok = c.Get(doc, criteria)
	require.True(t, ok)
	assert.Equal(t, int64(2), e.AccessCount)

	stats := c.Stats()
	assert.Equal(t, Stats{Hits: 2, Misses: 1, Size: 1, Capacity: 10}, stats)
	assert.InDelta(t, 2.0/3.0, stats.HitRate(), 1e-9)

	c.Clear()
	assert.Equal(t, Stats{Capacity: 10}, c.Stats())
	assert.Zero(t, c.Stats().HitRate())
}

func TestCache_EvictsLeastRecentlyAccessed(t *testing.T) {
	clock := newFakeClock()
	c := New(Options{Capacity: 2, Now: clock.Now})

	c.Store("a", 1, nil)
	clock.Advance(time.Second)
	c.Store("b", 2, nil)
	clock.Advance(time.Second)

	// touching a makes b the eviction candidate
	_, ok := c.Lookup("a")
	require.True(t, ok)
	clock.Advance(time.Second)

	c.Store("c", 3, nil)
	_, ok = c.Lookup("b")
	assert.False(t, ok)
	_, ok = c.Lookup("a")
	assert.True(t, ok)
	_, ok = c.Lookup("c")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Stats().Size)
}

func TestCache_OverwriteDoesNotEvict(t *testing.T) {
	c := New(Options{Capacity: 2})
	c.Store("a", 1, nil)
	c.Store("b", 2, nil)
	c.Store("a", 10, nil)

	e, ok := c.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, 10.0, e.Score)
	_, ok = c.Lookup("b")
	assert.True(t, ok)
}

func TestCache_TTLExpiryIsLazyMiss(t *testing.T) {
	clock := newFakeClock()
	c := New(Options{Capacity: 10, TTL: time.Minute, Now: clock.Now})

	c.Store("k", 1, nil)
	clock.Advance(30 * time.Second)
	_, ok := c.Lookup("k")
	require.True(t, ok)

	// access does not extend the lifetime
	clock.Advance(30 * time.Second)
	_, ok = c.Lookup("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Stats().Size)
	assert.Equal(t, int64(1), c.Stats().Misses)
}

func TestCache_Sweep(t *testing.T) {
	clock := newFakeClock()
	c := New(Options{Capacity: 10, TTL: time.Minute, Now: clock.Now})

	c.Store("old1", 1, nil)
	c.Store("old2", 1, nil)
	clock.Advance(45 * time.Second)
	c.Store("fresh", 1, nil)
	clock.Advance(30 * time.Second)

	assert.Equal(t, 2, c.Sweep())
	assert.Equal(t, 1, c.Stats().Size)
	_, ok := c.Lookup("fresh")
	assert.True(t, ok)

	assert.Zero(t, New(Options{Capacity: 1}).Sweep())
}

func TestCache_StartSweepsInBackground(t *testing.T) {
	c := New(Options{Capacity: 10, TTL: 10 * time.Millisecond, SweepInterval: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.Store("k", 1, nil)
	c.Start(ctx)
	require.Eventually(t, func() bool { return c.Stats().Size == 0 }, time.Second, 5*time.Millisecond)
	// the sweep does not count as a miss
	assert.Zero(t, c.Stats().Misses)
}

func TestCache_ReturnedEntriesAreCopies(t *testing.T) {
	c := New(Options{Capacity: 1})
	sub := map[string]float64{"skills": 0.5}
	c.Store("k", 1, sub)
	sub["skills"] = 0

	e, ok := c.Lookup("k")
	require.True(t, ok)
	e.Subscores["skills"] = 99

	again, _ := c.Lookup("k")
	assert.Equal(t, 0.5, again.Subscores["skills"])
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := New(Options{Capacity: 50, TTL: time.Minute})
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", (w*31+i)%80)
				if _, ok := c.Lookup(key); !ok {
					c.Store(key, float64(i), map[string]float64{"n": float64(w)})
				}
			}
		}(w)
	}
	wg.Wait()

	stats := c.Stats()
	assert.LessOrEqual(t, stats.Size, 50)
	assert.Equal(t, int64(8*200), stats.Hits+stats.Misses)
}

func TestCache_SweepKeepsRecencyOrder(t *testing.T) {
	clock := newFakeClock()
	c := New(Options{Capacity: 2, TTL: time.Hour, Now: clock.Now})

	c.Store("a", 1, nil)
	c.Store("b", 2, nil)
	_, ok := c.Lookup("a")
	require.True(t, ok)

	// nothing has expired, and inspecting entries must not refresh them
	assert.Zero(t, c.Sweep())

	c.Store("c", 3, nil)
	_, ok = c.Lookup("b")
	assert.False(t, ok)
	_, ok = c.Lookup("a")
	assert.True(t, ok)
}
