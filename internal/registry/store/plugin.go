package store

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/resume-chat/internal/model"
	"github.com/google/uuid"
)

// Conflict codes carried by ConflictError.Code.
const (
	ConflictActiveThread  = "active_thread_exists"
	ConflictVersionNumber = "version_number_taken"
)

// ThreadStore persists conversation thread records. InsertThread must fail
// with a *ConflictError (Code ConflictActiveThread) when an active row already
// exists for the same (DocumentID, OwnerID).
type ThreadStore interface {
	FindActiveThread(ctx context.Context, documentID uuid.UUID, ownerID string) (*model.ConversationThread, error)
	GetThread(ctx context.Context, threadID uuid.UUID) (*model.ConversationThread, error)
	InsertThread(ctx context.Context, thread *model.ConversationThread) error
	// TouchThread records activity on an active thread. A thread that is
	// missing or no longer active yields *NotFoundError.
	TouchThread(ctx context.Context, threadID uuid.UUID, at time.Time) error
	// MarkThreadError moves an active thread to the error state. It is a no-op
	// for threads that already left the active state.
	MarkThreadError(ctx context.Context, threadID uuid.UUID, reason string, at time.Time) error
	// ArchiveThread moves an active thread to the archived state. It is a no-op
	// for threads that already left the active state.
	ArchiveThread(ctx context.Context, threadID uuid.UUID, at time.Time) error
	// ListThreads returns every record for the pair, newest first.
	ListThreads(ctx context.Context, documentID uuid.UUID, ownerID string) ([]model.ConversationThread, error)
	// FindIdleThreads returns active threads whose last activity is before cutoff.
	FindIdleThreads(ctx context.Context, cutoff time.Time, limit int) ([]model.ConversationThread, error)
}

// VersionStore persists document snapshots. InsertVersion must fail with a
// *ConflictError (Code ConflictVersionNumber) when the version number is taken.
type VersionStore interface {
	// MaxVersionNumber returns 0 when the document has no versions.
	MaxVersionNumber(ctx context.Context, documentID uuid.UUID) (int, error)
	InsertVersion(ctx context.Context, version *model.ResumeVersion) error
	LatestVersion(ctx context.Context, documentID uuid.UUID) (*model.ResumeVersion, error)
	// ListVersions returns versions ordered by version number, highest first.
	ListVersions(ctx context.Context, documentID uuid.UUID) ([]model.ResumeVersion, error)
	GetVersion(ctx context.Context, documentID uuid.UUID, versionNumber int) (*model.ResumeVersion, error)
}

// ResumeStore is the persistent store behind threads and versions.
type ResumeStore interface {
	ThreadStore
	VersionStore
	// PurgeDocument removes every version and thread record for a deleted document.
	PurgeDocument(ctx context.Context, documentID uuid.UUID) error
	Close() error
}

type storeKey struct{}

// WithContext returns a new context carrying the given ResumeStore.
func WithContext(ctx context.Context, s ResumeStore) context.Context {
	return context.WithValue(ctx, storeKey{}, s)
}

// FromContext retrieves the ResumeStore from the context.
// Returns nil if none was set.
func FromContext(ctx context.Context) ResumeStore {
	s, _ := ctx.Value(storeKey{}).(ResumeStore)
	return s
}

// Loader creates a ResumeStore from config.
type Loader func(ctx context.Context) (ResumeStore, error)

// Plugin represents a store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown store %q; valid: %v", name, Names())
}
