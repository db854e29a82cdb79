package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ThreadStatus is the lifecycle state of a conversation thread.
type ThreadStatus string

const (
	ThreadStatusActive   ThreadStatus = "active"
	ThreadStatusArchived ThreadStatus = "archived"
	ThreadStatusError    ThreadStatus = "error"
)

// ConversationThread binds one (document, owner) editing context to a
// conversation handle issued by the assistant service. At most one row per
// (DocumentID, OwnerID) may be active; error and archived rows are kept for audit.
type ConversationThread struct {
	ID             uuid.UUID    `json:"id"                      gorm:"primaryKey;type:uuid"`
	DocumentID     uuid.UUID    `json:"documentId"              gorm:"not null;type:uuid"`
	OwnerID        string       `json:"ownerId"                 gorm:"not null"`
	ExternalHandle string       `json:"-"                       gorm:"not null"`
	Status         ThreadStatus `json:"status"                  gorm:"not null"`
	FailureReason  *string      `json:"failureReason,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"               gorm:"not null"`
	LastActivityAt time.Time    `json:"lastActivityAt"          gorm:"not null"`
	ArchivedAt     *time.Time   `json:"archivedAt,omitempty"`
	FailedAt       *time.Time   `json:"failedAt,omitempty"`
}

func (ConversationThread) TableName() string { return "conversation_threads" }

// IsActive reports whether the thread is the live one for its pair.
func (t *ConversationThread) IsActive() bool {
	return t != nil && t.Status == ThreadStatusActive
}

// ResumeVersion is an append-only snapshot of a document after a successful edit.
type ResumeVersion struct {
	ID              uuid.UUID         `json:"id"                        gorm:"primaryKey;type:uuid"`
	DocumentID      uuid.UUID         `json:"documentId"                gorm:"not null;type:uuid"`
	VersionNumber   int               `json:"versionNumber"             gorm:"not null"`
	Snapshot        datatypes.JSONMap `json:"snapshot"                  gorm:"type:jsonb;not null"`
	SourceSessionID *uuid.UUID        `json:"sourceSessionId,omitempty" gorm:"type:uuid"`
	CreatedAt       time.Time         `json:"createdAt"                 gorm:"not null"`
}

func (ResumeVersion) TableName() string { return "resume_versions" }
