package metrics

import (
	"context"
	"time"

	"github.com/chirino/resume-chat/internal/model"
	"github.com/chirino/resume-chat/internal/registry/store"
	"github.com/chirino/resume-chat/internal/security"
	"github.com/google/uuid"
)

// Wrap returns a ResumeStore that records StoreLatency for every operation.
func Wrap(inner store.ResumeStore) store.ResumeStore {
	return &metricsStore{inner: inner}
}

type metricsStore struct {
	inner store.ResumeStore
}

func observe(op string, start time.Time) {
	security.ObserveStoreLatency(op, start)
}

func (m *metricsStore) FindActiveThread(ctx context.Context, documentID uuid.UUID, ownerID string) (*model.ConversationThread, error) {
	defer observe("find_active_thread", time.Now())
	return m.inner.FindActiveThread(ctx, documentID, ownerID)
}

func (m *metricsStore) GetThread(ctx context.Context, threadID uuid.UUID) (*model.ConversationThread, error) {
	defer observe("get_thread", time.Now())
	return m.inner.GetThread(ctx, threadID)
}

func (m *metricsStore) InsertThread(ctx context.Context, thread *model.ConversationThread) error {
	defer observe("insert_thread", time.Now())
	return m.inner.InsertThread(ctx, thread)
}

func (m *metricsStore) TouchThread(ctx context.Context, threadID uuid.UUID, at time.Time) error {
	defer observe("touch_thread", time.Now())
	return m.inner.TouchThread(ctx, threadID, at)
}

func (m *metricsStore) MarkThreadError(ctx context.Context, threadID uuid.UUID, reason string, at time.Time) error {
	defer observe("mark_thread_error", time.Now())
	return m.inner.MarkThreadError(ctx, threadID, reason, at)
}

func (m *metricsStore) ArchiveThread(ctx context.Context, threadID uuid.UUID, at time.Time) error {
	defer observe("archive_thread", time.Now())
	return m.inner.ArchiveThread(ctx, threadID, at)
}

func (m *metricsStore) ListThreads(ctx context.Context, documentID uuid.UUID, ownerID string) ([]model.ConversationThread, error) {
	defer observe("list_threads", time.Now())
	return m.inner.ListThreads(ctx, documentID, ownerID)
}

func (m *metricsStore) FindIdleThreads(ctx context.Context, cutoff time.Time, limit int) ([]model.ConversationThread, error) {
	defer observe("find_idle_threads", time.Now())
	return m.inner.FindIdleThreads(ctx, cutoff, limit)
}

func (m *metricsStore) MaxVersionNumber(ctx context.Context, documentID uuid.UUID) (int, error) {
	defer observe("max_version_number", time.Now())
	return m.inner.MaxVersionNumber(ctx, documentID)
}

func (m *metricsStore) InsertVersion(ctx context.Context, version *model.ResumeVersion) error {
	defer observe("insert_version", time.Now())
	return m.inner.InsertVersion(ctx, version)
}

func (m *metricsStore) LatestVersion(ctx context.Context, documentID uuid.UUID) (*model.ResumeVersion, error) {
	defer observe("latest_version", time.Now())
	return m.inner.LatestVersion(ctx, documentID)
}

func (m *metricsStore) ListVersions(ctx context.Context, documentID uuid.UUID) ([]model.ResumeVersion, error) {
	defer observe("list_versions", time.Now())
	return m.inner.ListVersions(ctx, documentID)
}

func (m *metricsStore) GetVersion(ctx context.Context, documentID uuid.UUID, versionNumber int) (*model.ResumeVersion, error) {
	defer observe("get_version", time.Now())
	return m.inner.GetVersion(ctx, documentID, versionNumber)
}

func (m *metricsStore) PurgeDocument(ctx context.Context, documentID uuid.UUID) error {
	defer observe("purge_document", time.Now())
	return m.inner.PurgeDocument(ctx, documentID)
}

func (m *metricsStore) Close() error {
	return m.inner.Close()
}
