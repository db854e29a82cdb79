// Package sqlite registers the "sqlite" resume store for single-node and
// local deployments.
package sqlite

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/chirino/resume-chat/internal/config"
	"github.com/chirino/resume-chat/internal/plugin/store/gormstore"
	registrymigrate "github.com/chirino/resume-chat/internal/registry/migrate"
	registrystore "github.com/chirino/resume-chat/internal/registry/store"
	"github.com/mattn/go-sqlite3"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

//go:embed db/schema.sql
var schemaSQL string

// ForceImport can be referenced to make sure the plugin's init() runs.
var ForceImport = 0

// DefaultPath is used when no database URL is configured.
const DefaultPath = "resume-chat.db"

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "sqlite",
		Loader: func(ctx context.Context) (registrystore.ResumeStore, error) {
			cfg := config.FromContext(ctx)
			if cfg == nil {
				return nil, fmt.Errorf("sqlite store: missing config")
			}
			dsn := DSN(cfg.DBURL)
			// sqlite allows a single writer; serialising through one
			// connection turns lock contention into pool waits.
			local := *cfg
			local.DBMaxOpenConns = 1
			local.DBMaxIdleConns = 1
			db, err := gormstore.Open(ctx, sqlite.Open(dsn), &local)
			if err != nil {
				return nil, fmt.Errorf("failed to open sqlite: %w", err)
			}
			if inMemory(dsn) && cfg.DatastoreMigrateAtStart {
				if err := db.WithContext(ctx).Exec(schemaSQL).Error; err != nil {
					return nil, fmt.Errorf("sqlite schema: %w", err)
				}
			}
			return gormstore.New(db, isUniqueViolation), nil
		},
	})

	registrymigrate.Register("sqlite", migrate)
}

// DSN normalises a configured URL into a go-sqlite3 DSN with a busy timeout.
func DSN(url string) string {
	dsn := strings.TrimPrefix(strings.TrimSpace(url), "sqlite://")
	if dsn == "" {
		dsn = DefaultPath
	}
	if strings.Contains(dsn, "_busy_timeout") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_busy_timeout=5000"
}

func inMemory(dsn string) bool {
	return strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func migrate(ctx context.Context, cfg *config.Config) error {
	dsn := DSN(cfg.DBURL)
	if inMemory(dsn) {
		// applied by the loader on the connection that owns the data
		return nil
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if _, err := sqlDB.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
