// Package storetest holds behaviour every resume store backend must share.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/chirino/resume-chat/internal/model"
	registrystore "github.com/chirino/resume-chat/internal/registry/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

// Run executes the shared store behaviour against s. Each subtest uses fresh
// document IDs, so s may be shared between them.
func Run(t *testing.T, s registrystore.ResumeStore) {
	t.Run("ThreadLifecycle", func(t *testing.T) { testThreadLifecycle(t, s) })
	t.Run("OneActiveThreadPerPair", func(t *testing.T) { testOneActiveThread(t, s) })
	t.Run("ConcurrentActiveInserts", func(t *testing.T) { testConcurrentActiveInserts(t, s) })
	t.Run("IdleThreads", func(t *testing.T) { testIdleThreads(t, s) })
	t.Run("Versions", func(t *testing.T) { testVersions(t, s) })
	t.Run("VersionConflict", func(t *testing.T) { testVersionConflict(t, s) })
	t.Run("PurgeDocument", func(t *testing.T) { testPurge(t, s) })
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// NewThread builds an active thread record for the pair.
func NewThread(documentID uuid.UUID, ownerID, handle string) *model.ConversationThread {
	ts := now()
	return &model.ConversationThread{
		ID:             uuid.New(),
		DocumentID:     documentID,
		OwnerID:        ownerID,
		ExternalHandle: handle,
		Status:         model.ThreadStatusActive,
		CreatedAt:      ts,
		LastActivityAt: ts,
	}
}

func newVersion(documentID uuid.UUID, n int, snapshot map[string]any) *model.ResumeVersion {
	return &model.ResumeVersion{
		ID:            uuid.New(),
		DocumentID:    documentID,
		VersionNumber: n,
		Snapshot:      datatypes.JSONMap(snapshot),
		CreatedAt:     now(),
	}
}

func testThreadLifecycle(t *testing.T, s registrystore.ResumeStore) {
	ctx := context.Background()
	doc := uuid.New()

	found, err := s.FindActiveThread(ctx, doc, "alice")
	require.NoError(t, err)
	assert.Nil(t, found)

	thread := NewThread(doc, "alice", "h1")
	require.NoError(t, s.InsertThread(ctx, thread))

	found, err = s.FindActiveThread(ctx, doc, "alice")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, thread.ID, found.ID)
	assert.Equal(t, "h1", found.ExternalHandle)
	assert.True(t, found.IsActive())

	later := thread.LastActivityAt.Add(time.Minute)
	require.NoError(t, s.TouchThread(ctx, thread.ID, later))
	got, err := s.GetThread(ctx, thread.ID)
	require.NoError(t, err)
	assert.True(t, later.Equal(got.LastActivityAt), "want %v got %v", later, got.LastActivityAt)

	require.NoError(t, s.MarkThreadError(ctx, thread.ID, "handle rejected", later))
	// only active threads can be touched
	var gone *registrystore.NotFoundError
	assert.True(t, errors.As(s.TouchThread(ctx, thread.ID, later.Add(time.Minute)), &gone))
	got, err = s.GetThread(ctx, thread.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ThreadStatusError, got.Status)
	require.NotNil(t, got.FailureReason)
	assert.Equal(t, "handle rejected", *got.FailureReason)
	require.NotNil(t, got.FailedAt)

	// archiving is only valid from active
	require.NoError(t, s.ArchiveThread(ctx, thread.ID, later))
	got, err = s.GetThread(ctx, thread.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ThreadStatusError, got.Status)
	assert.Nil(t, got.ArchivedAt)

	second := NewThread(doc, "alice", "h2")
	second.CreatedAt = thread.CreatedAt.Add(time.Second)
	require.NoError(t, s.InsertThread(ctx, second))
	require.NoError(t, s.ArchiveThread(ctx, second.ID, later))
	got, err = s.GetThread(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ThreadStatusArchived, got.Status)
	require.NotNil(t, got.ArchivedAt)

	history, err := s.ListThreads(ctx, doc, "alice")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, second.ID, history[0].ID)
	assert.Equal(t, thread.ID, history[1].ID)

	_, err = s.GetThread(ctx, uuid.New())
	var notFound *registrystore.NotFoundError
	assert.True(t, errors.As(err, &notFound))

	err = s.TouchThread(ctx, uuid.New(), later)
	assert.True(t, errors.As(err, &notFound))
}

func testOneActiveThread(t *testing.T, s registrystore.ResumeStore) {
	ctx := context.Background()
	doc := uuid.New()

	first := NewThread(doc, "bob", "h1")
	require.NoError(t, s.InsertThread(ctx, first))

	err := s.InsertThread(ctx, NewThread(doc, "bob", "h2"))
	require.Error(t, err)
	assert.True(t, registrystore.IsConflict(err, registrystore.ConflictActiveThread), "got %v", err)

	// other owners and other documents are independent
	require.NoError(t, s.InsertThread(ctx, NewThread(doc, "carol", "h3")))
	require.NoError(t, s.InsertThread(ctx, NewThread(uuid.New(), "bob", "h4")))

	// once the active row leaves the active state a new one may be inserted
	require.NoError(t, s.MarkThreadError(ctx, first.ID, "gone", now()))
	require.NoError(t, s.InsertThread(ctx, NewThread(doc, "bob", "h5")))

	active, err := s.FindActiveThread(ctx, doc, "bob")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "h5", active.ExternalHandle)
}

func testConcurrentActiveInserts(t *testing.T, s registrystore.ResumeStore) {
	ctx := context.Background()
	doc := uuid.New()
	const n = 8

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.InsertThread(ctx, NewThread(doc, "dave", fmt.Sprintf("h%d", i)))
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.True(t, registrystore.IsConflict(err, registrystore.ConflictActiveThread), "got %v", err)
	}
	assert.Equal(t, 1, wins)

	history, err := s.ListThreads(ctx, doc, "dave")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func testIdleThreads(t *testing.T, s registrystore.ResumeStore) {
	ctx := context.Background()
	owner := "idle-" + uuid.NewString()
	base := now().Add(-48 * time.Hour)

	stale := NewThread(uuid.New(), owner, "stale")
	stale.LastActivityAt = base
	fresh := NewThread(uuid.New(), owner, "fresh")
	errored := NewThread(uuid.New(), owner, "errored")
	errored.LastActivityAt = base
	for _, th := range []*model.ConversationThread{stale, fresh, errored} {
		require.NoError(t, s.InsertThread(ctx, th))
	}
	require.NoError(t, s.MarkThreadError(ctx, errored.ID, "x", now()))

	idle, err := s.FindIdleThreads(ctx, now().Add(-time.Hour), 1000)
	require.NoError(t, err)
	var mine []uuid.UUID
	for _, th := range idle {
		if th.OwnerID == owner {
			mine = append(mine, th.ID)
		}
	}
	assert.Equal(t, []uuid.UUID{stale.ID}, mine)
}

func testVersions(t *testing.T, s registrystore.ResumeStore) {
	ctx := context.Background()
	doc := uuid.New()

	top, err := s.MaxVersionNumber(ctx, doc)
	require.NoError(t, err)
	assert.Zero(t, top)

	_, err = s.LatestVersion(ctx, doc)
	var notFound *registrystore.NotFoundError
	assert.True(t, errors.As(err, &notFound))

	session := uuid.New()
	for i := 1; i <= 3; i++ {
		v := newVersion(doc, i, map[string]any{"summary": fmt.Sprintf("v%d", i), "skills": []any{"Go"}})
		if i == 2 {
			v.SourceSessionID = &session
		}
		require.NoError(t, s.InsertVersion(ctx, v))
	}

	top, err = s.MaxVersionNumber(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, 3, top)

	latest, err := s.LatestVersion(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, 3, latest.VersionNumber)
	assert.Equal(t, "v3", latest.Snapshot["summary"])
	assert.Equal(t, []any{"Go"}, latest.Snapshot["skills"])

	history, err := s.ListVersions(ctx, doc)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, []int{3, 2, 1}, []int{history[0].VersionNumber, history[1].VersionNumber, history[2].VersionNumber})

	second, err := s.GetVersion(ctx, doc, 2)
	require.NoError(t, err)
	require.NotNil(t, second.SourceSessionID)
	assert.Equal(t, session, *second.SourceSessionID)

	_, err = s.GetVersion(ctx, doc, 9)
	assert.True(t, errors.As(err, &notFound))

	empty, err := s.ListVersions(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func testVersionConflict(t *testing.T, s registrystore.ResumeStore) {
	ctx := context.Background()
	doc := uuid.New()

	require.NoError(t, s.InsertVersion(ctx, newVersion(doc, 1, map[string]any{"a": "x"})))
	err := s.InsertVersion(ctx, newVersion(doc, 1, map[string]any{"a": "y"}))
	require.Error(t, err)
	assert.True(t, registrystore.IsConflict(err, registrystore.ConflictVersionNumber), "got %v", err)

	// the same number on another document is fine
	require.NoError(t, s.InsertVersion(ctx, newVersion(uuid.New(), 1, map[string]any{"a": "z"})))
}

func testPurge(t *testing.T, s registrystore.ResumeStore) {
	ctx := context.Background()
	doc, other := uuid.New(), uuid.New()

	require.NoError(t, s.InsertThread(ctx, NewThread(doc, "erin", "h1")))
	require.NoError(t, s.InsertVersion(ctx, newVersion(doc, 1, map[string]any{"a": 1})))
	require.NoError(t, s.InsertVersion(ctx, newVersion(other, 1, map[string]any{"a": 1})))

	require.NoError(t, s.PurgeDocument(ctx, doc))

	versions, err := s.ListVersions(ctx, doc)
	require.NoError(t, err)
	assert.Empty(t, versions)
	threads, err := s.ListThreads(ctx, doc, "erin")
	require.NoError(t, err)
	assert.Empty(t, threads)

	kept, err := s.ListVersions(ctx, other)
	require.NoError(t, err)
	assert.Len(t, kept, 1)
}
