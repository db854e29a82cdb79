// Package containers starts disposable backing services for integration
// tests. Every helper skips the test in -short mode and terminates its
// container on cleanup.
package containers

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const startupTimeout = 60 * time.Second

func start(tb testing.TB, name string) context.Context {
	tb.Helper()
	if testing.Short() {
		tb.Skipf("%s container tests are skipped in -short mode", name)
	}
	return context.Background()
}

func terminateOnCleanup(tb testing.TB, name string, c testcontainers.Container) {
	tb.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := c.Terminate(ctx); err != nil {
			tb.Errorf("terminate %s container: %v", name, err)
		}
	})
}

// Postgres returns the DSN of a fresh Postgres database that accepts
// connections.
func Postgres(tb testing.TB) string {
	tb.Helper()
	ctx := start(tb, "postgres")

	c, err := postgres.Run(ctx, "postgres:17-alpine",
		postgres.WithDatabase("resume_chat"),
		postgres.WithUsername("resume"),
		postgres.WithPassword("resume"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(startupTimeout),
		),
	)
	if err != nil {
		tb.Fatalf("start postgres container: %v", err)
	}
	terminateOnCleanup(tb, "postgres", c)

	dsn, err := c.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		tb.Fatalf("postgres connection string: %v", err)
	}
	if err := pingPostgres(ctx, dsn, 20*time.Second); err != nil {
		tb.Fatalf("postgres not accepting connections: %v", err)
	}
	return dsn
}

// pingPostgres retries until a pgx connection succeeds. The container log
// line can precede the listener being reachable through the mapped port.
func pingPostgres(ctx context.Context, dsn string, within time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, within)
	defer cancel()
	for {
		conn, err := pgx.Connect(ctx, dsn)
		if err == nil {
			err = conn.Ping(ctx)
			_ = conn.Close(context.Background())
			if err == nil {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: last error: %v", ctx.Err(), err)
		case <-time.After(250 * time.Millisecond):
		}
	}
}

// Mongo returns the connection URI of a fresh MongoDB server.
func Mongo(tb testing.TB) string {
	tb.Helper()
	ctx := start(tb, "mongodb")

	c, err := mongodb.Run(ctx, "mongo:7")
	if err != nil {
		tb.Fatalf("start mongodb container: %v", err)
	}
	terminateOnCleanup(tb, "mongodb", c)

	uri, err := c.ConnectionString(ctx)
	if err != nil {
		tb.Fatalf("mongodb connection string: %v", err)
	}
	return uri
}

// Redis returns a redis:// URL for database 0 of a fresh Redis server.
func Redis(tb testing.TB) string {
	tb.Helper()
	ctx := start(tb, "redis")

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(startupTimeout),
		},
		Started: true,
	})
	if err != nil {
		tb.Fatalf("start redis container: %v", err)
	}
	terminateOnCleanup(tb, "redis", c)

	endpoint, err := c.PortEndpoint(ctx, "6379/tcp", "redis")
	if err != nil {
		tb.Fatalf("redis endpoint: %v", err)
	}
	return endpoint + "/0"
}
