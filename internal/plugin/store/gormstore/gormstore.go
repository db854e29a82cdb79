// Package gormstore implements the resume store on top of GORM. The postgres
// and sqlite plugins share it and differ only in dialect and schema.
package gormstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/chirino/resume-chat/internal/config"
	"github.com/chirino/resume-chat/internal/model"
	registrystore "github.com/chirino/resume-chat/internal/registry/store"
	"github.com/chirino/resume-chat/internal/security"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// UniqueViolation reports whether a driver error is a unique constraint
// violation that gorm did not translate into gorm.ErrDuplicatedKey.
type UniqueViolation func(error) bool

// Open connects with the given dialector, applies pool settings from cfg and
// starts the pool gauge updater, which stops when ctx is done.
func Open(ctx context.Context, dialector gorm.Dialector, cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
		NowFunc:        func() time.Time { return Now() },
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying db: %w", err)
	}
	if cfg != nil {
		if cfg.DBMaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
		}
		if cfg.DBMaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
		}
		if security.DBPoolMaxConnections != nil {
			security.DBPoolMaxConnections.Set(float64(cfg.DBMaxOpenConns))
		}
	}
	go trackPool(ctx, sqlDB)
	return db, nil
}

// Periodically update the open connections gauge.
func trackPool(ctx context.Context, sqlDB *sql.DB) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if security.DBPoolOpenConnections != nil {
				security.DBPoolOpenConnections.Set(float64(sqlDB.Stats().OpenConnections))
			}
		}
	}
}

// Now returns the current time in UTC truncated to the microsecond precision
// every supported database preserves.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// Store implements registrystore.ResumeStore using GORM.
type Store struct {
	db              *gorm.DB
	uniqueViolation UniqueViolation
}

// New wraps db. isUnique may be nil when the dialect's translator is enough.
func New(db *gorm.DB, isUnique UniqueViolation) *Store {
	if isUnique == nil {
		isUnique = func(error) bool { return false }
	}
	return &Store{db: db, uniqueViolation: isUnique}
}

// DB exposes the underlying handle for migrations and tests.
func (s *Store) DB() *gorm.DB { return s.db }

func (s *Store) isDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) || s.uniqueViolation(err)
}

func (s *Store) FindActiveThread(ctx context.Context, documentID uuid.UUID, ownerID string) (*model.ConversationThread, error) {
	var thread model.ConversationThread
	err := s.db.WithContext(ctx).
		Where("document_id = ? AND owner_id = ? AND status = ?", documentID, ownerID, model.ThreadStatusActive).
		Take(&thread).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find active thread: %w", err)
	}
	return &thread, nil
}

func (s *Store) GetThread(ctx context.Context, threadID uuid.UUID) (*model.ConversationThread, error) {
	var thread model.ConversationThread
	err := s.db.WithContext(ctx).Where("id = ?", threadID).Take(&thread).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &registrystore.NotFoundError{Resource: "thread", ID: threadID.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("get thread: %w", err)
	}
	return &thread, nil
}

func (s *Store) InsertThread(ctx context.Context, thread *model.ConversationThread) error {
	if thread.ID == uuid.Nil {
		thread.ID = uuid.New()
	}
	err := s.db.WithContext(ctx).Create(thread).Error
	if err != nil && s.isDuplicate(err) {
		return &registrystore.ConflictError{
			Message: "an active thread already exists for this document and owner",
			Code:    registrystore.ConflictActiveThread,
			Details: map[string]interface{}{"documentId": thread.DocumentID.String()},
		}
	}
	if err != nil {
		return fmt.Errorf("insert thread: %w", err)
	}
	return nil
}

func (s *Store) TouchThread(ctx context.Context, threadID uuid.UUID, at time.Time) error {
	result := s.db.WithContext(ctx).Model(&model.ConversationThread{}).
		Where("id = ? AND status = ?", threadID, model.ThreadStatusActive).
		Update("last_activity_at", at.UTC())
	if result.Error != nil {
		return fmt.Errorf("touch thread: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return &registrystore.NotFoundError{Resource: "thread", ID: threadID.String()}
	}
	return nil
}

func (s *Store) MarkThreadError(ctx context.Context, threadID uuid.UUID, reason string, at time.Time) error {
	err := s.db.WithContext(ctx).Model(&model.ConversationThread{}).
		Where("id = ? AND status = ?", threadID, model.ThreadStatusActive).
		Updates(map[string]interface{}{
			"status":         model.ThreadStatusError,
			"failure_reason": reason,
			"failed_at":      at.UTC(),
		}).Error
	if err != nil {
		return fmt.Errorf("mark thread error: %w", err)
	}
	return nil
}

func (s *Store) ArchiveThread(ctx context.Context, threadID uuid.UUID, at time.Time) error {
	err := s.db.WithContext(ctx).Model(&model.ConversationThread{}).
		Where("id = ? AND status = ?", threadID, model.ThreadStatusActive).
		Updates(map[string]interface{}{
			"status":      model.ThreadStatusArchived,
			"archived_at": at.UTC(),
		}).Error
	if err != nil {
		return fmt.Errorf("archive thread: %w", err)
	}
	return nil
}

func (s *Store) ListThreads(ctx context.Context, documentID uuid.UUID, ownerID string) ([]model.ConversationThread, error) {
	var threads []model.ConversationThread
	err := s.db.WithContext(ctx).
		Where("document_id = ? AND owner_id = ?", documentID, ownerID).
		Order("created_at DESC").Order("id DESC").
		Find(&threads).Error
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	return threads, nil
}

func (s *Store) FindIdleThreads(ctx context.Context, cutoff time.Time, limit int) ([]model.ConversationThread, error) {
	var threads []model.ConversationThread
	err := s.db.WithContext(ctx).
		Where("status = ? AND last_activity_at < ?", model.ThreadStatusActive, cutoff.UTC()).
		Order("last_activity_at ASC").
		Limit(limit).
		Find(&threads).Error
	if err != nil {
		return nil, fmt.Errorf("find idle threads: %w", err)
	}
	return threads, nil
}

func (s *Store) MaxVersionNumber(ctx context.Context, documentID uuid.UUID) (int, error) {
	var top int
	err := s.db.WithContext(ctx).Model(&model.ResumeVersion{}).
		Where("document_id = ?", documentID).
		Select("COALESCE(MAX(version_number), 0)").
		Scan(&top).Error
	if err != nil {
		return 0, fmt.Errorf("max version number: %w", err)
	}
	return top, nil
}

func (s *Store) InsertVersion(ctx context.Context, version *model.ResumeVersion) error {
	if version.ID == uuid.Nil {
		version.ID = uuid.New()
	}
	err := s.db.WithContext(ctx).Create(version).Error
	if err != nil && s.isDuplicate(err) {
		return &registrystore.ConflictError{
			Message: fmt.Sprintf("version %d already exists", version.VersionNumber),
			Code:    registrystore.ConflictVersionNumber,
			Details: map[string]interface{}{"documentId": version.DocumentID.String(), "versionNumber": version.VersionNumber},
		}
	}
	if err != nil {
		return fmt.Errorf("insert version: %w", err)
	}
	return nil
}

func (s *Store) LatestVersion(ctx context.Context, documentID uuid.UUID) (*model.ResumeVersion, error) {
	var version model.ResumeVersion
	err := s.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("version_number DESC").
		Take(&version).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &registrystore.NotFoundError{Resource: "version", ID: documentID.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("latest version: %w", err)
	}
	return &version, nil
}

func (s *Store) ListVersions(ctx context.Context, documentID uuid.UUID) ([]model.ResumeVersion, error) {
	var versions []model.ResumeVersion
	err := s.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("version_number DESC").
		Find(&versions).Error
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	return versions, nil
}

func (s *Store) GetVersion(ctx context.Context, documentID uuid.UUID, versionNumber int) (*model.ResumeVersion, error) {
	var version model.ResumeVersion
	err := s.db.WithContext(ctx).
		Where("document_id = ? AND version_number = ?", documentID, versionNumber).
		Take(&version).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &registrystore.NotFoundError{Resource: "version", ID: fmt.Sprintf("%s/%d", documentID, versionNumber)}
	}
	if err != nil {
		return nil, fmt.Errorf("get version: %w", err)
	}
	return &version, nil
}

func (s *Store) PurgeDocument(ctx context.Context, documentID uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", documentID).Delete(&model.ResumeVersion{}).Error; err != nil {
			return fmt.Errorf("purge versions: %w", err)
		}
		if err := tx.Where("document_id = ?", documentID).Delete(&model.ConversationThread{}).Error; err != nil {
			return fmt.Errorf("purge threads: %w", err)
		}
		return nil
	})
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ registrystore.ResumeStore = (*Store)(nil)
