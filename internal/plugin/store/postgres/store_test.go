package postgres_test

import (
	"context"
	"testing"

	"github.com/chirino/resume-chat/internal/config"
	"github.com/chirino/resume-chat/internal/plugin/store/postgres"
	registrymigrate "github.com/chirino/resume-chat/internal/registry/migrate"
	registrystore "github.com/chirino/resume-chat/internal/registry/store"
	"github.com/chirino/resume-chat/internal/testutil/storetest"
	"github.com/chirino/resume-chat/internal/testutil/containers"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) (registrystore.ResumeStore, context.Context) {
	t.Helper()

	dbURL := containers.Postgres(t)

	cfg := config.DefaultConfig()
	cfg.DBURL = dbURL
	ctx, cancel := context.WithCancel(config.WithContext(context.Background(), &cfg))
	t.Cleanup(cancel)

	_ = postgres.ForceImport

	require.NoError(t, registrymigrate.RunAll(ctx))
	// the schema is idempotent
	require.NoError(t, registrymigrate.RunAll(ctx))

	loader, err := registrystore.Select("postgres")
	require.NoError(t, err)

	store, err := loader(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return store, ctx
}

func TestPostgresStore(t *testing.T) {
	store, _ := setupTestStore(t)
	storetest.Run(t, store)
}

func TestLoaderRequiresURL(t *testing.T) {
	cfg := config.DefaultConfig()
	ctx := config.WithContext(context.Background(), &cfg)

	loader, err := registrystore.Select("postgres")
	require.NoError(t, err)
	_, err = loader(ctx)
	require.Error(t, err)
}
