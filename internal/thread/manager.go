// Package thread keeps exactly one live assistant conversation per
// (document, owner) pair.
//
// Convergence relies on the store's partial unique index over active rows:
// concurrent callers may each create an external handle, but only one insert
// wins and the losers adopt the winner's record.
package thread

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/resume-chat/internal/model"
	registryassistant "github.com/chirino/resume-chat/internal/registry/assistant"
	registrystore "github.com/chirino/resume-chat/internal/registry/store"
	"github.com/chirino/resume-chat/internal/security"
	"github.com/google/uuid"
)

// Rounds of find/create before giving up when the active row keeps changing
// underneath us.
const maxConvergeRounds = 3

// Options tunes a Manager.
type Options struct {
	// CallTimeout bounds each assistant API call. Zero means no extra bound.
	CallTimeout time.Duration
	// Now is the clock; defaults to UTC wall time.
	Now func() time.Time
}

// Manager resolves the active conversation thread for a document and owner.
type Manager struct {
	store       registrystore.ThreadStore
	assistant   registryassistant.Assistant
	callTimeout time.Duration
	now         func() time.Time
}

// NewManager creates a Manager.
func NewManager(store registrystore.ThreadStore, assistant registryassistant.Assistant, opts Options) *Manager {
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }
	}
	return &Manager{
		store:       store,
		assistant:   assistant,
		callTimeout: opts.CallTimeout,
		now:         now,
	}
}

// createResult is the outcome of tryCreate: either our insert won (created)
// or another caller's record is returned.
type createResult struct {
	thread  *model.ConversationThread
	created bool
}

// EnsureThread returns the active thread for the pair, validating its handle
// with the assistant service and recreating it when the handle was rejected.
//
// Transient validation failures are returned as *assistant.APIError and leave
// the record untouched. Creation failures are returned as *assistant.APIError,
// or as *ValidationFailedError when they happen while replacing a rejected
// thread.
func (m *Manager) EnsureThread(ctx context.Context, documentID uuid.UUID, ownerID string) (*model.ConversationThread, error) {
	var rejected *ValidationFailedError
	for round := 0; round < maxConvergeRounds; round++ {
		existing, err := m.store.FindActiveThread(ctx, documentID, ownerID)
		if err != nil {
			return nil, err
		}

		if existing != nil {
			ok, reason, err := m.validate(ctx, existing)
			if err != nil {
				return nil, err
			}
			if ok {
				err = m.store.TouchThread(ctx, existing.ID, m.now())
				var gone *registrystore.NotFoundError
				if errors.As(err, &gone) {
					// archived or closed since we read it
					continue
				}
				if err != nil {
					return nil, err
				}
				existing.LastActivityAt = m.now()
				return existing, nil
			}
			if err := m.store.MarkThreadError(ctx, existing.ID, reason, m.now()); err != nil {
				return nil, err
			}
			log.Warn("Thread handle rejected", "threadId", existing.ID, "documentId", documentID, "reason", reason)
			rejected = &ValidationFailedError{ThreadID: existing.ID, Reason: reason}
		}

		result, err := m.tryCreate(ctx, documentID, ownerID)
		if err != nil {
			if rejected != nil {
				rejected.Err = err
				return nil, rejected
			}
			return nil, err
		}
		if result.thread == nil {
			// the winner left the active state before we could read it
			continue
		}
		if result.created {
			security.Inc(security.ThreadsCreatedTotal)
			if rejected != nil {
				security.Inc(security.ThreadsRecreatedTotal)
				log.Info("Thread recreated", "threadId", result.thread.ID, "previousThreadId", rejected.ThreadID, "documentId", documentID)
			} else {
				log.Debug("Thread created", "threadId", result.thread.ID, "documentId", documentID)
			}
		}
		return result.thread, nil
	}
	return nil, fmt.Errorf("active thread for document %s did not settle after %d attempts", documentID, maxConvergeRounds)
}

// validate reports whether the thread's handle is still accepted. A rejected
// handle yields ok=false with a reason; any other failure is returned.
func (m *Manager) validate(ctx context.Context, thread *model.ConversationThread) (bool, string, error) {
	callCtx, cancel := m.callContext(ctx)
	defer cancel()

	err := m.assistant.ValidateConversation(callCtx, thread.ExternalHandle)
	if err == nil {
		return true, "", nil
	}
	if errors.Is(err, registryassistant.ErrInvalidHandle) {
		return false, err.Error(), nil
	}
	err = registryassistant.Classify("validate", err)
	security.IncAssistantError(string(registryassistant.KindOf(err)))
	return false, "", err
}

// tryCreate creates a new external conversation and inserts it as the active
// record. On losing the insert race it deletes its own handle and returns the
// winner; the winner may be nil if it already left the active state.
func (m *Manager) tryCreate(ctx context.Context, documentID uuid.UUID, ownerID string) (createResult, error) {
	callCtx, cancel := m.callContext(ctx)
	handle, err := m.assistant.CreateConversation(callCtx)
	cancel()
	if err != nil {
		err = registryassistant.Classify("create", err)
		security.IncAssistantError(string(registryassistant.KindOf(err)))
		return createResult{}, err
	}

	now := m.now()
	thread := &model.ConversationThread{
		ID:             uuid.New(),
		DocumentID:     documentID,
		OwnerID:        ownerID,
		ExternalHandle: handle,
		Status:         model.ThreadStatusActive,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	err = m.store.InsertThread(ctx, thread)
	if err == nil {
		return createResult{thread: thread, created: true}, nil
	}

	m.discardHandle(ctx, handle)
	if !registrystore.IsConflict(err, registrystore.ConflictActiveThread) {
		return createResult{}, err
	}
	security.Inc(security.ThreadInsertRacesTotal)
	winner, err := m.store.FindActiveThread(ctx, documentID, ownerID)
	if err != nil {
		return createResult{}, err
	}
	return createResult{thread: winner}, nil
}

// discardHandle deletes an orphaned external conversation. Failures are
// logged only.
func (m *Manager) discardHandle(ctx context.Context, handle string) {
	callCtx, cancel := m.callContext(context.WithoutCancel(ctx))
	defer cancel()
	if err := m.assistant.DeleteConversation(callCtx, handle); err != nil {
		log.Warn("Failed to delete orphaned conversation", "err", registryassistant.Classify("delete", err))
	}
}

// CloseThread archives the active thread for the pair. It returns
// *store.NotFoundError when there is none.
func (m *Manager) CloseThread(ctx context.Context, documentID uuid.UUID, ownerID string) (*model.ConversationThread, error) {
	existing, err := m.store.FindActiveThread(ctx, documentID, ownerID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, &registrystore.NotFoundError{Resource: "thread", ID: documentID.String()}
	}
	at := m.now()
	if err := m.store.ArchiveThread(ctx, existing.ID, at); err != nil {
		return nil, err
	}
	security.Inc(security.ThreadsArchivedTotal)
	log.Info("Thread archived", "threadId", existing.ID, "documentId", documentID)
	return m.store.GetThread(ctx, existing.ID)
}

// Active returns the active thread for the pair without contacting the
// assistant service, or *store.NotFoundError.
func (m *Manager) Active(ctx context.Context, documentID uuid.UUID, ownerID string) (*model.ConversationThread, error) {
	existing, err := m.store.FindActiveThread(ctx, documentID, ownerID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, &registrystore.NotFoundError{Resource: "thread", ID: documentID.String()}
	}
	return existing, nil
}

// History lists every thread record for the pair, newest first.
func (m *Manager) History(ctx context.Context, documentID uuid.UUID, ownerID string) ([]model.ConversationThread, error) {
	return m.store.ListThreads(ctx, documentID, ownerID)
}

func (m *Manager) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.callTimeout)
}
