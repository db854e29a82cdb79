package bdd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chirino/resume-chat/internal/cmd/serve"
	"github.com/chirino/resume-chat/internal/config"
	"github.com/chirino/resume-chat/internal/plugin/assistant/local"
	"github.com/chirino/resume-chat/internal/testutil/cucumber"
	"github.com/cucumber/godog"
	"github.com/stretchr/testify/require"
)

func TestFeatures(t *testing.T) {
	dbURL := filepath.Join(t.TempDir(), "features.db")

	cfg := testConfig()
	cfg.DatastoreType = "sqlite"
	cfg.DBURL = dbURL
	cfg.ScoreCacheType = "memory"

	runFeatures(t, &cfg, &SQLiteTestDB{DBURL: dbURL})
}

func testConfig() config.Config {
	cfg := config.DefaultConfig()
	cfg.Mode = config.ModeTesting
	cfg.AssistantType = "local"
	cfg.AssistantRetryMaxAttempts = 3
	cfg.AssistantRetryInitialInterval = 0
	cfg.ThreadIdleTimeout = 0
	cfg.VersionMaxAttempts = 50
	cfg.MetricsLabels = "service=resume-chat-bdd"
	cfg.Listener.Port = 0
	return cfg
}

// runFeatures starts the server with cfg and runs every feature file against it.
func runFeatures(t *testing.T, cfg *config.Config, db cucumber.TestDB) {
	t.Helper()
	ctx := config.WithContext(context.Background(), cfg)

	srv, err := serve.StartServer(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	apiURL := fmt.Sprintf("http://localhost:%d", srv.Running.Port)

	featureFiles, err := filepath.Glob(filepath.Join("testdata", "features", "*.feature"))
	require.NoError(t, err)
	require.NotEmpty(t, featureFiles, "No feature files found")

	opts := cucumber.DefaultOptions()
	opts.Concurrency = 1
	for _, arg := range os.Args[1:] {
		if arg == "-test.v=true" || arg == "-test.v" || arg == "-v" {
			opts.Format = "pretty"
		}
	}

	for _, featurePath := range featureFiles {
		name := strings.TrimSuffix(filepath.Base(featurePath), ".feature")
		t.Run(name, func(t *testing.T) {
			o := opts
			o.TestingT = t
			o.Paths = []string{featurePath}
			defer cucumber.ApplyReportOptions(&o, t.Name())()

			suite := cucumber.NewTestSuite()
			suite.APIURL = apiURL
			suite.TestingT = t
			suite.Context = cfg
			suite.DB = db
			suite.Extra["store"] = srv.Store
			suite.Extra["scoreCache"] = srv.ScoreCache
			if assistant, ok := srv.Assistant.(*local.LocalAssistant); ok {
				suite.Extra["assistant"] = assistant
			}

			status := godog.TestSuite{
				Name:                name,
				Options:             &o,
				ScenarioInitializer: suite.InitializeScenario,
			}.Run()
			if status != 0 {
				t.Fail()
			}
		})
	}
}
