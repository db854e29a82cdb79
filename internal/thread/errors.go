package thread

import (
	"fmt"

	"github.com/google/uuid"
)

// ValidationFailedError reports that an active thread's handle was rejected
// and the replacement could not be created. Err is the creation failure.
type ValidationFailedError struct {
	ThreadID uuid.UUID
	Reason   string
	Err      error
}

func (e *ValidationFailedError) Error() string {
	return fmt.Sprintf("thread %s failed validation (%s) and could not be recreated: %v", e.ThreadID, e.Reason, e.Err)
}

func (e *ValidationFailedError) Unwrap() error { return e.Err }
