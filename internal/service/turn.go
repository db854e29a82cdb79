package service

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/charmbracelet/log"
	"github.com/chirino/resume-chat/internal/document"
	"github.com/chirino/resume-chat/internal/model"
	registryassistant "github.com/chirino/resume-chat/internal/registry/assistant"
	registrystore "github.com/chirino/resume-chat/internal/registry/store"
	"github.com/chirino/resume-chat/internal/thread"
	"github.com/chirino/resume-chat/internal/versionlog"
	"github.com/google/uuid"
)

// EditRequest is one structured edit arriving from a chat turn.
type EditRequest struct {
	DocumentID uuid.UUID
	OwnerID    string
	Operation  document.Operation
	// Criteria, when set, scores the edited document.
	Criteria *Criteria
	// BaseDocument is the starting point when the document has no versions yet.
	BaseDocument document.Document
}

// TurnResult is the outcome of a successful edit.
type TurnResult struct {
	Thread   *model.ConversationThread
	Version  *model.ResumeVersion
	Document document.Document
	Score    *ScoreResult
}

// TurnOptions tunes retries of transient assistant failures.
type TurnOptions struct {
	RetryMaxAttempts     uint
	RetryInitialInterval time.Duration
}

// TurnService runs a chat turn: resolve the thread, apply the edit, score it
// and record the new version.
type TurnService struct {
	threads  *thread.Manager
	versions *versionlog.Log
	scores   *ScoreService
	opts     TurnOptions
}

// NewTurnService creates a TurnService. scores may be nil to skip scoring.
func NewTurnService(threads *thread.Manager, versions *versionlog.Log, scores *ScoreService, opts TurnOptions) *TurnService {
	if opts.RetryMaxAttempts == 0 {
		opts.RetryMaxAttempts = 1
	}
	if opts.RetryInitialInterval <= 0 {
		opts.RetryInitialInterval = 250 * time.Millisecond
	}
	return &TurnService{threads: threads, versions: versions, scores: scores, opts: opts}
}

// ApplyEdit applies req.Operation to the latest version and records the result.
// Mutation errors are returned unmodified as *document.Error.
func (s *TurnService) ApplyEdit(ctx context.Context, req EditRequest) (*TurnResult, error) {
	if req.OwnerID == "" {
		return nil, &registrystore.ValidationError{Field: "ownerId", Message: "is required"}
	}
	if req.DocumentID == uuid.Nil {
		return nil, &registrystore.ValidationError{Field: "documentId", Message: "is required"}
	}
	if err := req.Operation.Validate(); err != nil {
		return nil, err
	}

	th, err := s.ensureThread(ctx, req.DocumentID, req.OwnerID)
	if err != nil {
		return nil, err
	}

	current, err := s.current(ctx, req)
	if err != nil {
		return nil, err
	}
	next, err := document.Apply(current, req.Operation)
	if err != nil {
		return nil, err
	}

	result := &TurnResult{Thread: th, Document: next}
	if s.scores != nil && req.Criteria != nil && !req.Criteria.Empty() {
		score, err := s.scores.Score(ctx, next, *req.Criteria)
		if err != nil {
			return nil, err
		}
		result.Score = &score
	}

	version, err := s.versions.RecordVersion(ctx, req.DocumentID, next, &th.ID)
	if err != nil {
		return nil, err
	}
	result.Version = version
	log.Debug("Edit applied", "documentId", req.DocumentID, "kind", req.Operation.Kind, "versionNumber", version.VersionNumber)
	return result, nil
}

// ensureThread retries rate-limit and network failures with exponential
// backoff; every other failure is returned at once.
func (s *TurnService) ensureThread(ctx context.Context, documentID uuid.UUID, ownerID string) (*model.ConversationThread, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.RetryInitialInterval
	return backoff.Retry(ctx, func() (*model.ConversationThread, error) {
		th, err := s.threads.EnsureThread(ctx, documentID, ownerID)
		if err == nil {
			return th, nil
		}
		var apiErr *registryassistant.APIError
		if errors.As(err, &apiErr) && apiErr.Retryable() {
			log.Warn("Assistant call failed, backing off", "documentId", documentID, "kind", apiErr.Kind)
			return nil, err
		}
		return nil, backoff.Permanent(err)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(s.opts.RetryMaxAttempts),
		backoff.WithMaxElapsedTime(0),
	)
}

func (s *TurnService) current(ctx context.Context, req EditRequest) (document.Document, error) {
	latest, err := s.versions.GetLatest(ctx, req.DocumentID)
	var notFound *registrystore.NotFoundError
	if errors.As(err, &notFound) {
		if req.BaseDocument != nil {
			return req.BaseDocument, nil
		}
		return document.Document{}, nil
	}
	if err != nil {
		return nil, err
	}
	return versionlog.Snapshot(latest)
}
