package config

import (
	"context"
	"time"
)

// ListenerConfig holds the network settings for a single listener (main or management).
type ListenerConfig struct {
	Port              int
	ReadHeaderTimeout time.Duration
}

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

const (
	ModeProd    = "prod"
	ModeTesting = "testing"
)

// Config holds all configuration for the resume chat service.
type Config struct {
	// Mode is "prod" (default) or "testing". In testing mode the local
	// assistant may be selected and the owner header is not required.
	Mode string

	// Datastore backend type: "postgres", "sqlite" or "mongo".
	DatastoreType string

	// Database URL. A postgres DSN, a sqlite file path / DSN, or a mongodb:// URI.
	DBURL string

	// Mongo database name. Defaults to the database in the URI, then "resume_chat".
	MongoDatabase string

	// Run datastore migrations on startup.
	DatastoreMigrateAtStart bool

	// DB pool
	DBMaxOpenConns int
	DBMaxIdleConns int

	// Assistant backend type: "openai" or "local".
	AssistantType string

	// OpenAI
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIOrgID   string

	// Upper bound for a single assistant API call. A timeout is classified as a network error.
	AssistantCallTimeout time.Duration

	// Outbound request budget for the assistant API.
	AssistantRequestsPerSecond float64
	AssistantBurst             int

	// Retry policy applied by the chat turn to rate-limit and network errors.
	AssistantRetryMaxAttempts     uint
	AssistantRetryInitialInterval time.Duration

	// Score cache backend type: "memory", "ristretto", "redis" or "none".
	ScoreCacheType string
	// Maximum number of entries kept by the in-process caches.
	ScoreCacheCapacity int
	// Entries older than this are treated as misses.
	ScoreCacheTTL time.Duration
	// How often expired entries are swept from the memory cache.
	ScoreCacheSweepInterval time.Duration
	// Key prefix used by shared caches.
	ScoreCacheKeyPrefix string

	// Redis
	RedisURL string

	// Bounded retries for version number races.
	VersionMaxAttempts uint

	// Active threads idle longer than this are archived by the janitor. Zero disables it.
	ThreadIdleTimeout     time.Duration
	ThreadJanitorInterval time.Duration
	ThreadJanitorBatch    int

	// MetricsLabels is a comma-separated list of key=value pairs added as
	// constant labels to all Prometheus metrics. Values support ${VAR} expansion.
	// Defaults to "service=resume-chat".
	MetricsLabels string

	// Server
	Listener           ListenerConfig
	ManagementListener ListenerConfig
	// ManagementListenerEnabled is true when --management-port was explicitly provided.
	// When false, management endpoints are served on the main port.
	ManagementListenerEnabled bool
	// ManagementAccessLog enables HTTP access logging for management endpoints (/health, /ready, /metrics).
	ManagementAccessLog bool

	// CORSOrigins is a comma-separated allow list for browser clients. Empty disables CORS.
	CORSOrigins string

	// Body size limit (bytes)
	MaxBodySize int64

	// Graceful shutdown drain timeout (seconds)
	DrainTimeout int

	// Log level: debug, info, warn or error.
	LogLevel string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Mode:                          ModeProd,
		DatastoreType:                 "postgres",
		DatastoreMigrateAtStart:       true,
		DBMaxOpenConns:                25,
		DBMaxIdleConns:                5,
		AssistantType:                 "openai",
		OpenAIBaseURL:                 "https://api.openai.com/v1",
		AssistantCallTimeout:          15 * time.Second,
		AssistantRequestsPerSecond:    5,
		AssistantBurst:                10,
		AssistantRetryMaxAttempts:     4,
		AssistantRetryInitialInterval: 250 * time.Millisecond,
		ScoreCacheType:                "memory",
		ScoreCacheCapacity:            1000,
		ScoreCacheTTL:                 30 * time.Minute,
		ScoreCacheSweepInterval:       time.Minute,
		ScoreCacheKeyPrefix:           "resume-score:",
		VersionMaxAttempts:            5,
		ThreadIdleTimeout:             7 * 24 * time.Hour,
		ThreadJanitorInterval:         10 * time.Minute,
		ThreadJanitorBatch:            500,
		Listener: ListenerConfig{
			Port:              8080,
			ReadHeaderTimeout: 5 * time.Second,
		},
		MaxBodySize:  1024 * 1024,
		DrainTimeout: 30,
		LogLevel:     "info",
	}
}
