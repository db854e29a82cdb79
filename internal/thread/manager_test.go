package thread_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chirino/resume-chat/internal/model"
	"github.com/chirino/resume-chat/internal/plugin/assistant/local"
	registryassistant "github.com/chirino/resume-chat/internal/registry/assistant"
	registrystore "github.com/chirino/resume-chat/internal/registry/store"
	"github.com/chirino/resume-chat/internal/testutil/testsqlite"
	"github.com/chirino/resume-chat/internal/thread"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T) (*thread.Manager, *local.LocalAssistant, registrystore.ResumeStore) {
	t.Helper()
	store := testsqlite.Open(t)
	assistant := local.New()
	return thread.NewManager(store, assistant, thread.Options{CallTimeout: time.Second}), assistant, store
}

func TestEnsureThread_CreatesOnFirstCall(t *testing.T) {
	m, assistant, _ := newManager(t)
	ctx := context.Background()
	doc := uuid.New()

	th, err := m.EnsureThread(ctx, doc, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.ThreadStatusActive, th.Status)
	assert.Equal(t, doc, th.DocumentID)
	assert.True(t, assistant.Live(th.ExternalHandle))
	assert.Equal(t, 1, assistant.Created())
}

func TestEnsureThread_ReusesValidThread(t *testing.T) {
	m, assistant, store := newManager(t)
	ctx := context.Background()
	doc := uuid.New()

	first, err := m.EnsureThread(ctx, doc, "alice")
	require.NoError(t, err)
	second, err := m.EnsureThread(ctx, doc, "alice")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, assistant.Created())
	assert.Equal(t, 1, assistant.Validations())

	stored, err := store.GetThread(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, stored.LastActivityAt.Before(first.LastActivityAt))
}

func TestEnsureThread_RecreatesRejectedHandle(t *testing.T) {
	m, assistant, store := newManager(t)
	ctx := context.Background()
	doc := uuid.New()

	first, err := m.EnsureThread(ctx, doc, "alice")
	require.NoError(t, err)
	assistant.Forget(first.ExternalHandle)

	second, err := m.EnsureThread(ctx, doc, "alice")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.NotEqual(t, first.ExternalHandle, second.ExternalHandle)

	old, err := store.GetThread(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ThreadStatusError, old.Status)
	require.NotNil(t, old.FailureReason)
	assert.Contains(t, *old.FailureReason, "rejected")

	history, err := m.History(ctx, doc, "alice")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, second.ID, history[0].ID)
}

func TestEnsureThread_TransientValidationErrorIsSurfaced(t *testing.T) {
	m, assistant, store := newManager(t)
	ctx := context.Background()
	doc := uuid.New()

	first, err := m.EnsureThread(ctx, doc, "alice")
	require.NoError(t, err)

	assistant.FailNext("validate", &registryassistant.APIError{Kind: registryassistant.KindRateLimit, Op: "validate", StatusCode: 429, Err: errors.New("slow down")})
	_, err = m.EnsureThread(ctx, doc, "alice")
	require.Error(t, err)
	assert.Equal(t, registryassistant.KindRateLimit, registryassistant.KindOf(err))

	stored, err := store.GetThread(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ThreadStatusActive, stored.Status)
	assert.Equal(t, 1, assistant.Created())
}

func TestEnsureThread_TimeoutIsNetworkError(t *testing.T) {
	store := testsqlite.Open(t)
	m := thread.NewManager(store, blockingAssistant{}, thread.Options{CallTimeout: 20 * time.Millisecond})

	_, err := m.EnsureThread(context.Background(), uuid.New(), "alice")
	require.Error(t, err)
	assert.Equal(t, registryassistant.KindNetwork, registryassistant.KindOf(err))
}

func TestEnsureThread_CreationFailureIsSurfaced(t *testing.T) {
	m, assistant, _ := newManager(t)
	ctx := context.Background()
	doc := uuid.New()

	assistant.FailNext("create", &registryassistant.APIError{Kind: registryassistant.KindAuth, Op: "create", StatusCode: 401, Err: errors.New("bad key")})
	_, err := m.EnsureThread(ctx, doc, "alice")
	var apiErr *registryassistant.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, registryassistant.KindAuth, apiErr.Kind)
	assert.False(t, apiErr.Retryable())

	history, err := m.History(ctx, doc, "alice")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestEnsureThread_RecreationFailureIsValidationFailed(t *testing.T) {
	m, assistant, _ := newManager(t)
	ctx := context.Background()
	doc := uuid.New()

	first, err := m.EnsureThread(ctx, doc, "alice")
	require.NoError(t, err)
	assistant.Forget(first.ExternalHandle)
	assistant.FailNext("create", &registryassistant.APIError{Kind: registryassistant.KindNetwork, Op: "create", Err: errors.New("reset")})

	_, err = m.EnsureThread(ctx, doc, "alice")
	var failed *thread.ValidationFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, first.ID, failed.ThreadID)
	assert.Equal(t, registryassistant.KindNetwork, registryassistant.KindOf(err))

	// the next turn recovers
	next, err := m.EnsureThread(ctx, doc, "alice")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, next.ID)
}

func TestEnsureThread_ConcurrentCallersConverge(t *testing.T) {
	m, assistant, store := newManager(t)
	ctx := context.Background()
	doc := uuid.New()
	const callers = 10

	var wg sync.WaitGroup
	ids := make([]uuid.UUID, callers)
	errs := make([]error, callers)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			th, err := m.EnsureThread(ctx, doc, "alice")
			errs[i] = err
			if th != nil {
				ids[i] = th.ID
			}
		}(i)
	}
	close(start)
	wg.Wait()

	for i := range errs {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}

	history, err := store.ListThreads(ctx, doc, "alice")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, model.ThreadStatusActive, history[0].Status)

	// losers delete their orphaned conversations
	assert.True(t, assistant.Live(history[0].ExternalHandle))
	assert.Equal(t, 1, assistant.LiveCount())
}

func TestCloseThread(t *testing.T) {
	m, _, _ := newManager(t)
	ctx := context.Background()
	doc := uuid.New()

	_, err := m.CloseThread(ctx, doc, "alice")
	var notFound *registrystore.NotFoundError
	require.ErrorAs(t, err, &notFound)

	th, err := m.EnsureThread(ctx, doc, "alice")
	require.NoError(t, err)

	closed, err := m.CloseThread(ctx, doc, "alice")
	require.NoError(t, err)
	assert.Equal(t, th.ID, closed.ID)
	assert.Equal(t, model.ThreadStatusArchived, closed.Status)
	require.NotNil(t, closed.ArchivedAt)

	_, err = m.Active(ctx, doc, "alice")
	require.ErrorAs(t, err, &notFound)

	next, err := m.EnsureThread(ctx, doc, "alice")
	require.NoError(t, err)
	assert.NotEqual(t, th.ID, next.ID)
}

type blockingAssistant struct{}

func (blockingAssistant) CreateConversation(ctx context.Context) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func (blockingAssistant) ValidateConversation(ctx context.Context, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

func (blockingAssistant) DeleteConversation(context.Context, string) error { return nil }

// archivingStore archives the thread right before the first touch, the way
// the janitor or a concurrent close can.
type archivingStore struct {
	registrystore.ResumeStore
	once sync.Once
}

func (s *archivingStore) TouchThread(ctx context.Context, threadID uuid.UUID, at time.Time) error {
	s.once.Do(func() {
		_ = s.ResumeStore.ArchiveThread(ctx, threadID, at)
	})
	return s.ResumeStore.TouchThread(ctx, threadID, at)
}

func TestEnsureThread_ArchivedBeforeTouchIsReplaced(t *testing.T) {
	base := testsqlite.Open(t)
	assistant := local.New()
	ctx := context.Background()
	doc := uuid.New()

	first, err := thread.NewManager(base, assistant, thread.Options{}).EnsureThread(ctx, doc, "alice")
	require.NoError(t, err)

	store := &archivingStore{ResumeStore: base}
	m := thread.NewManager(store, assistant, thread.Options{})
	th, err := m.EnsureThread(ctx, doc, "alice")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, th.ID)
	assert.Equal(t, model.ThreadStatusActive, th.Status)

	stored, err := base.GetThread(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ThreadStatusArchived, stored.Status)

	active, err := base.FindActiveThread(ctx, doc, "alice")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, th.ID, active.ID)
}
