package bdd

import (
	"testing"

	"github.com/chirino/resume-chat/internal/plugin/store/postgres"
	"github.com/chirino/resume-chat/internal/testutil/containers"
)

func TestFeaturesPostgres(t *testing.T) {
	_ = postgres.ForceImport

	dbURL := containers.Postgres(t)
	redisURL := containers.Redis(t)

	cfg := testConfig()
	cfg.DatastoreType = "postgres"
	cfg.DBURL = dbURL
	cfg.ScoreCacheType = "redis"
	cfg.RedisURL = redisURL

	runFeatures(t, &cfg, &PostgresTestDB{DBURL: dbURL})
}
