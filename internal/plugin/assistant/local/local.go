package local

import (
	"context"
	"fmt"
	"sync"

	registryassistant "github.com/chirino/resume-chat/internal/registry/assistant"
	"github.com/google/uuid"
)

func init() {
	registryassistant.Register(registryassistant.Plugin{
		Name: "local",
		Loader: func(_ context.Context) (registryassistant.Assistant, error) {
			return New(), nil
		},
	})
}

// LocalAssistant keeps conversation handles in memory. It backs testing mode
// and deployments without an external assistant.
type LocalAssistant struct {
	mu        sync.Mutex
	handles   map[string]struct{}
	created   int
	failNext  map[string]error
	validated int
}

func New() *LocalAssistant {
	return &LocalAssistant{
		handles:  map[string]struct{}{},
		failNext: map[string]error{},
	}
}

func (a *LocalAssistant) CreateConversation(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", registryassistant.Classify("create", err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.takeFailure("create"); err != nil {
		return "", err
	}
	handle := "local_" + uuid.NewString()
	a.handles[handle] = struct{}{}
	a.created++
	return handle, nil
}

func (a *LocalAssistant) ValidateConversation(ctx context.Context, handle string) error {
	if err := ctx.Err(); err != nil {
		return registryassistant.Classify("validate", err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.validated++
	if err := a.takeFailure("validate"); err != nil {
		return err
	}
	if _, ok := a.handles[handle]; !ok {
		return fmt.Errorf("%w: unknown local handle", registryassistant.ErrInvalidHandle)
	}
	return nil
}

func (a *LocalAssistant) DeleteConversation(_ context.Context, handle string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.handles, handle)
	return nil
}

// Forget drops a handle as if the upstream service expired it.
func (a *LocalAssistant) Forget(handle string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.handles, handle)
}

// Reset drops every handle, pending failure and counter.
func (a *LocalAssistant) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handles = map[string]struct{}{}
	a.failNext = map[string]error{}
	a.created = 0
	a.validated = 0
}

// FailNext makes the next call of op ("create" or "validate") return err.
func (a *LocalAssistant) FailNext(op string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failNext[op] = err
}

// Live reports whether handle is currently accepted.
func (a *LocalAssistant) Live(handle string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.handles[handle]
	return ok
}

// LiveCount returns how many handles are currently accepted.
func (a *LocalAssistant) LiveCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.handles)
}

// Created returns how many handles were issued.
func (a *LocalAssistant) Created() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.created
}

// Validations returns how many validation calls were made.
func (a *LocalAssistant) Validations() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.validated
}

func (a *LocalAssistant) takeFailure(op string) error {
	err, ok := a.failNext[op]
	if !ok {
		return nil
	}
	delete(a.failNext, op)
	return err
}

var _ registryassistant.Assistant = (*LocalAssistant)(nil)
