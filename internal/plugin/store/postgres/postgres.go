// Package postgres registers the "postgres" resume store.
package postgres

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/chirino/resume-chat/internal/config"
	"github.com/chirino/resume-chat/internal/plugin/store/gormstore"
	registrymigrate "github.com/chirino/resume-chat/internal/registry/migrate"
	registrystore "github.com/chirino/resume-chat/internal/registry/store"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "postgres",
		Loader: func(ctx context.Context) (registrystore.ResumeStore, error) {
			cfg := config.FromContext(ctx)
			if cfg == nil || cfg.DBURL == "" {
				return nil, fmt.Errorf("postgres store: db url is required")
			}
			db, err := gormstore.Open(ctx, postgres.Open(cfg.DBURL), cfg)
			if err != nil {
				return nil, fmt.Errorf("failed to connect to postgres: %w", err)
			}
			return gormstore.New(db, isUniqueViolation), nil
		},
	})

	registrymigrate.Register("postgres", migrate)
}

func migrate(ctx context.Context, cfg *config.Config) error {
	db, err := gorm.Open(postgres.Open(cfg.DBURL), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("connect: %w", err)
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

//go:embed db/schema.sql
var schemaSQL string

// ForceImport can be referenced to make sure the plugin's init() runs.
var ForceImport = 0
