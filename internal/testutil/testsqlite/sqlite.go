// Package testsqlite opens a migrated file-backed sqlite store for tests.
package testsqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/chirino/resume-chat/internal/config"
	"github.com/chirino/resume-chat/internal/plugin/store/sqlite"
	registrymigrate "github.com/chirino/resume-chat/internal/registry/migrate"
	registrystore "github.com/chirino/resume-chat/internal/registry/store"
)

// Open returns a fresh store in the test's temp dir. It is closed on cleanup.
func Open(tb testing.TB) registrystore.ResumeStore {
	tb.Helper()

	cfg := config.DefaultConfig()
	cfg.DatastoreType = "sqlite"
	cfg.DBURL = filepath.Join(tb.TempDir(), "resume-chat.db")
	ctx, cancel := context.WithCancel(config.WithContext(context.Background(), &cfg))
	tb.Cleanup(cancel)

	_ = sqlite.ForceImport
	if err := registrymigrate.RunAll(ctx); err != nil {
		tb.Fatalf("migrate sqlite: %v", err)
	}
	loader, err := registrystore.Select("sqlite")
	if err != nil {
		tb.Fatalf("select sqlite store: %v", err)
	}
	store, err := loader(ctx)
	if err != nil {
		tb.Fatalf("open sqlite store: %v", err)
	}
	tb.Cleanup(func() { _ = store.Close() })
	return store
}
