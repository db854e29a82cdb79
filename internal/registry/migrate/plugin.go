// Package migrate keeps one schema migrator per store kind.
package migrate

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/resume-chat/internal/config"
)

// Migrator brings the schema of one store kind up to date. It must be
// idempotent.
type Migrator func(ctx context.Context, cfg *config.Config) error

var migrators = map[string]Migrator{}

// Register installs the migrator for a store kind. Called from init() in
// store plugins.
func Register(kind string, m Migrator) {
	migrators[kind] = m
}

// Kinds lists the store kinds that have a migrator.
func Kinds() []string {
	kinds := make([]string, 0, len(migrators))
	for k := range migrators {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// RunAll migrates the configured store. It does nothing unless
// migrate-at-start is enabled or when the store kind has no migrator.
func RunAll(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.DatastoreMigrateAtStart {
		return nil
	}
	m, ok := migrators[cfg.DatastoreType]
	if !ok {
		log.Debug("No schema migrator", "store", cfg.DatastoreType)
		return nil
	}
	start := time.Now()
	log.Info("Migrating schema", "store", cfg.DatastoreType)
	if err := m(ctx, cfg); err != nil {
		return fmt.Errorf("%s schema migration: %w", cfg.DatastoreType, err)
	}
	log.Info("Schema up to date", "store", cfg.DatastoreType, "took", time.Since(start))
	return nil
}
