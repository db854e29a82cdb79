package metrics_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/chirino/resume-chat/internal/config"
	"github.com/chirino/resume-chat/internal/plugin/store/metrics"
	"github.com/chirino/resume-chat/internal/plugin/store/sqlite"
	registrymigrate "github.com/chirino/resume-chat/internal/registry/migrate"
	registrystore "github.com/chirino/resume-chat/internal/registry/store"
	"github.com/chirino/resume-chat/internal/security"
	"github.com/chirino/resume-chat/internal/testutil/storetest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestWrapRecordsLatency(t *testing.T) {
	security.InitMetrics(prometheus.Labels{"service": "resume-chat-test"})

	cfg := config.DefaultConfig()
	cfg.DatastoreType = "sqlite"
	cfg.DBURL = filepath.Join(t.TempDir(), "metrics.db")
	ctx, cancel := context.WithCancel(config.WithContext(context.Background(), &cfg))
	t.Cleanup(cancel)

	_ = sqlite.ForceImport
	require.NoError(t, registrymigrate.RunAll(ctx))
	loader, err := registrystore.Select("sqlite")
	require.NoError(t, err)
	inner, err := loader(ctx)
	require.NoError(t, err)

	store := metrics.Wrap(inner)
	t.Cleanup(func() { _ = store.Close() })

	storetest.Run(t, store)
	require.Positive(t, testutil.CollectAndCount(security.StoreLatency))
}
