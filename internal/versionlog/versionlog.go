// Package versionlog appends immutable document snapshots with per-document
// version numbers starting at 1.
package versionlog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/charmbracelet/log"
	"github.com/chirino/resume-chat/internal/document"
	"github.com/chirino/resume-chat/internal/model"
	registrystore "github.com/chirino/resume-chat/internal/registry/store"
	"github.com/chirino/resume-chat/internal/security"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// VersionConflictError is returned when every attempt to claim the next
// version number lost to a concurrent writer.
type VersionConflictError struct {
	DocumentID uuid.UUID
	Attempts   uint
	Err        error
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("could not record a version for document %s after %d attempts: %v", e.DocumentID, e.Attempts, e.Err)
}

func (e *VersionConflictError) Unwrap() error { return e.Err }

// Options tunes a Log.
type Options struct {
	// MaxAttempts bounds insert attempts per RecordVersion call.
	MaxAttempts uint
	// InitialInterval is the first backoff delay between attempts.
	InitialInterval time.Duration
	Now             func() time.Time
}

// Log records and reads document versions.
type Log struct {
	store           registrystore.VersionStore
	maxAttempts     uint
	initialInterval time.Duration
	now             func() time.Time
}

// New creates a Log backed by store.
func New(store registrystore.VersionStore, opts Options) *Log {
	l := &Log{
		store:           store,
		maxAttempts:     opts.MaxAttempts,
		initialInterval: opts.InitialInterval,
		now:             opts.Now,
	}
	if l.maxAttempts == 0 {
		l.maxAttempts = 5
	}
	if l.initialInterval <= 0 {
		l.initialInterval = 10 * time.Millisecond
	}
	if l.now == nil {
		l.now = func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }
	}
	return l
}

// RecordVersion stores snapshot as the next version of the document. Losing
// the number to a concurrent writer is retried with a fresh maximum.
func (l *Log) RecordVersion(ctx context.Context, documentID uuid.UUID, snapshot document.Document, sourceSessionID *uuid.UUID) (*model.ResumeVersion, error) {
	if snapshot == nil {
		snapshot = document.Document{}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.initialInterval
	b.MaxInterval = 20 * l.initialInterval

	attempts := uint(0)
	version, err := backoff.Retry(ctx, func() (*model.ResumeVersion, error) {
		attempts++
		top, err := l.store.MaxVersionNumber(ctx, documentID)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		v := &model.ResumeVersion{
			ID:              uuid.New(),
			DocumentID:      documentID,
			VersionNumber:   top + 1,
			Snapshot:        datatypes.JSONMap(snapshot),
			SourceSessionID: sourceSessionID,
			CreatedAt:       l.now(),
		}
		err = l.store.InsertVersion(ctx, v)
		if registrystore.IsConflict(err, registrystore.ConflictVersionNumber) {
			security.Inc(security.VersionConflictsTotal)
			log.Debug("Version number taken, retrying", "documentId", documentID, "versionNumber", v.VersionNumber)
			return nil, err
		}
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		return v, nil
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(l.maxAttempts),
		backoff.WithMaxElapsedTime(0),
	)
	if err != nil {
		if registrystore.IsConflict(err, registrystore.ConflictVersionNumber) {
			return nil, &VersionConflictError{DocumentID: documentID, Attempts: attempts, Err: err}
		}
		return nil, err
	}
	return version, nil
}

// GetLatest returns the highest-numbered version, or *store.NotFoundError.
func (l *Log) GetLatest(ctx context.Context, documentID uuid.UUID) (*model.ResumeVersion, error) {
	return l.store.LatestVersion(ctx, documentID)
}

// GetHistory returns every version, highest number first.
func (l *Log) GetHistory(ctx context.Context, documentID uuid.UUID) ([]model.ResumeVersion, error) {
	return l.store.ListVersions(ctx, documentID)
}

// GetByNumber returns one version, or *store.NotFoundError.
func (l *Log) GetByNumber(ctx context.Context, documentID uuid.UUID, versionNumber int) (*model.ResumeVersion, error) {
	if versionNumber < 1 {
		return nil, &registrystore.ValidationError{Field: "versionNumber", Message: "must be a positive integer"}
	}
	return l.store.GetVersion(ctx, documentID, versionNumber)
}

// Snapshot decodes a stored version into a Document, normalising numbers to
// json.Number whatever the backend returned.
func Snapshot(v *model.ResumeVersion) (document.Document, error) {
	if v == nil {
		return nil, errors.New("nil version")
	}
	raw, err := json.Marshal(map[string]any(v.Snapshot))
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return document.ParseDocument(raw)
}
