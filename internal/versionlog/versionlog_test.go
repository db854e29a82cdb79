package versionlog_test

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/chirino/resume-chat/internal/document"
	"github.com/chirino/resume-chat/internal/model"
	registrystore "github.com/chirino/resume-chat/internal/registry/store"
	"github.com/chirino/resume-chat/internal/testutil/testsqlite"
	"github.com/chirino/resume-chat/internal/versionlog"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordVersion_Monotonic(t *testing.T) {
	log := versionlog.New(testsqlite.Open(t), versionlog.Options{})
	ctx := context.Background()
	doc := uuid.New()

	for i := 1; i <= 5; i++ {
		v, err := log.RecordVersion(ctx, doc, document.Document{"step": json.Number("1")}, nil)
		require.NoError(t, err)
		assert.Equal(t, i, v.VersionNumber)
	}

	latest, err := log.GetLatest(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, 5, latest.VersionNumber)

	history, err := log.GetHistory(ctx, doc)
	require.NoError(t, err)
	require.Len(t, history, 5)
	for i, v := range history {
		assert.Equal(t, 5-i, v.VersionNumber)
	}
}

func TestRecordVersion_SnapshotRoundTrip(t *testing.T) {
	log := versionlog.New(testsqlite.Open(t), versionlog.Options{})
	ctx := context.Background()
	doc := uuid.New()
	session := uuid.New()

	in, err := document.ParseDocument([]byte(`{"summary":"Go dev","years":12,"ratio":0.5,"remote":true,"skills":["Go","SQL"]}`))
	require.NoError(t, err)

	_, err = log.RecordVersion(ctx, doc, in, &session)
	require.NoError(t, err)

	got, err := log.GetByNumber(ctx, doc, 1)
	require.NoError(t, err)
	require.NotNil(t, got.SourceSessionID)
	assert.Equal(t, session, *got.SourceSessionID)

	out, err := versionlog.Snapshot(got)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestGetByNumber_Errors(t *testing.T) {
	log := versionlog.New(testsqlite.Open(t), versionlog.Options{})
	ctx := context.Background()

	var validation *registrystore.ValidationError
	_, err := log.GetByNumber(ctx, uuid.New(), 0)
	require.ErrorAs(t, err, &validation)

	var notFound *registrystore.NotFoundError
	_, err = log.GetByNumber(ctx, uuid.New(), 1)
	require.ErrorAs(t, err, &notFound)

	_, err = log.GetLatest(ctx, uuid.New())
	require.ErrorAs(t, err, &notFound)
}

func TestRecordVersion_ConcurrentWritersGetDistinctNumbers(t *testing.T) {
	log := versionlog.New(testsqlite.Open(t), versionlog.Options{MaxAttempts: 50, InitialInterval: time.Millisecond})
	ctx := context.Background()
	doc := uuid.New()
	const writers = 8

	var wg sync.WaitGroup
	numbers := make([]int, writers)
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := log.RecordVersion(ctx, doc, document.Document{"writer": json.Number("1")}, nil)
			errs[i] = err
			if v != nil {
				numbers[i] = v.VersionNumber
			}
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	sort.Ints(numbers)
	for i, n := range numbers {
		assert.Equal(t, i+1, n)
	}
}

func TestRecordVersion_SurfacesConflictAfterBoundedAttempts(t *testing.T) {
	store := &alwaysConflicting{ResumeStore: testsqlite.Open(t)}
	log := versionlog.New(store, versionlog.Options{MaxAttempts: 3, InitialInterval: time.Millisecond})

	_, err := log.RecordVersion(context.Background(), uuid.New(), document.Document{}, nil)
	var conflict *versionlog.VersionConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, uint(3), conflict.Attempts)
	assert.Equal(t, 3, store.inserts)
	assert.True(t, registrystore.IsConflict(err, registrystore.ConflictVersionNumber))
}

func TestRecordVersion_OtherStoreErrorsAreNotRetried(t *testing.T) {
	boom := errors.New("disk full")
	store := &failingInsert{ResumeStore: testsqlite.Open(t), err: boom}
	log := versionlog.New(store, versionlog.Options{MaxAttempts: 5, InitialInterval: time.Millisecond})

	_, err := log.RecordVersion(context.Background(), uuid.New(), document.Document{}, nil)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, store.inserts)
}

type alwaysConflicting struct {
	registrystore.ResumeStore
	inserts int
}

func (s *alwaysConflicting) InsertVersion(_ context.Context, v *model.ResumeVersion) error {
	s.inserts++
	return &registrystore.ConflictError{Message: "taken", Code: registrystore.ConflictVersionNumber}
}

type failingInsert struct {
	registrystore.ResumeStore
	err     error
	inserts int
}

func (s *failingInsert) InsertVersion(context.Context, *model.ResumeVersion) error {
	s.inserts++
	return s.err
}
