package serve

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/resume-chat/internal/config"
	registryassistant "github.com/chirino/resume-chat/internal/registry/assistant"
	registryscorecache "github.com/chirino/resume-chat/internal/registry/scorecache"
	registrystore "github.com/chirino/resume-chat/internal/registry/store"
	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v3"

	// Import all plugins to trigger init() registration
	_ "github.com/chirino/resume-chat/internal/plugin/assistant/local"
	_ "github.com/chirino/resume-chat/internal/plugin/assistant/openai"
	_ "github.com/chirino/resume-chat/internal/plugin/route/system"
	_ "github.com/chirino/resume-chat/internal/plugin/scorecache/memory"
	_ "github.com/chirino/resume-chat/internal/plugin/scorecache/noop"
	_ "github.com/chirino/resume-chat/internal/plugin/scorecache/redis"
	_ "github.com/chirino/resume-chat/internal/plugin/scorecache/ristretto"
	_ "github.com/chirino/resume-chat/internal/plugin/store/mongo"
	_ "github.com/chirino/resume-chat/internal/plugin/store/postgres"
	_ "github.com/chirino/resume-chat/internal/plugin/store/sqlite"
)

// Command returns the serve sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	var readHeaderTimeoutSecs int = 5
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the resume chat HTTP server",
		Flags: flags(&cfg, &readHeaderTimeoutSecs),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := cfg.ApplyEnvOverrides(); err != nil {
				return err
			}
			if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
				log.SetLevel(level)
			} else {
				log.Warn("Ignoring invalid log level", "level", cfg.LogLevel)
			}
			cfg.Listener.ReadHeaderTimeout = time.Duration(readHeaderTimeoutSecs) * time.Second
			cfg.ManagementListener.ReadHeaderTimeout = cfg.Listener.ReadHeaderTimeout
			cfg.ManagementListenerEnabled = cmd.IsSet("management-port")
			return run(config.WithContext(ctx, &cfg), cfg)
		},
	}
}

func flags(cfg *config.Config, readHeaderTimeoutSecs *int) []cli.Flag {
	return []cli.Flag{

		// ── Server ────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "mode",
			Category:    "Server:",
			Sources:     cli.EnvVars("RESUME_CHAT_MODE"),
			Destination: &cfg.Mode,
			Value:       cfg.Mode,
			Usage:       "Run mode (" + config.ModeProd + "|" + config.ModeTesting + ")",
		},
		&cli.IntFlag{
			Name:        "read-header-timeout-seconds",
			Category:    "Server:",
			Sources:     cli.EnvVars("RESUME_CHAT_READ_HEADER_TIMEOUT_SECONDS"),
			Destination: readHeaderTimeoutSecs,
			Value:       *readHeaderTimeoutSecs,
			Usage:       "HTTP read header timeout in seconds",
		},
		&cli.IntFlag{
			Name:        "drain-timeout-seconds",
			Category:    "Server:",
			Sources:     cli.EnvVars("RESUME_CHAT_DRAIN_TIMEOUT_SECONDS"),
			Destination: &cfg.DrainTimeout,
			Value:       cfg.DrainTimeout,
			Usage:       "Graceful shutdown drain timeout in seconds",
		},
		&cli.BoolFlag{
			Name:        "management-access-log",
			Category:    "Server:",
			Sources:     cli.EnvVars("RESUME_CHAT_MANAGEMENT_ACCESS_LOG"),
			Destination: &cfg.ManagementAccessLog,
			Usage:       "Enable HTTP access logging for management endpoints (/health, /ready, /metrics)",
		},
		&cli.StringFlag{
			Name:        "cors-origins",
			Category:    "Server:",
			Sources:     cli.EnvVars("RESUME_CHAT_CORS_ORIGINS"),
			Destination: &cfg.CORSOrigins,
			Usage:       "Comma-separated origins allowed for browser clients (* = any); empty disables CORS",
		},
		&cli.StringFlag{
			Name:        "log-level",
			Category:    "Server:",
			Sources:     cli.EnvVars("RESUME_CHAT_LOG_LEVEL"),
			Destination: &cfg.LogLevel,
			Value:       cfg.LogLevel,
			Usage:       "Log level (debug|info|warn|error)",
		},

		// ── Network Listener ──────────────────────────────────────
		&cli.IntFlag{
			Name:        "port",
			Category:    "Network Listener:",
			Sources:     cli.EnvVars("RESUME_CHAT_PORT"),
			Destination: &cfg.Listener.Port,
			Value:       cfg.Listener.Port,
			Usage:       "HTTP server port",
		},
		&cli.IntFlag{
			Name:        "management-port",
			Category:    "Network Listener:",
			Sources:     cli.EnvVars("RESUME_CHAT_MANAGEMENT_PORT"),
			Destination: &cfg.ManagementListener.Port,
			Value:       cfg.ManagementListener.Port,
			Usage:       "Dedicated port for health and metrics (0 = OS-assigned random port); when unset, served on the main port",
		},

		// ── Database ───────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "db-kind",
			Category:    "Database:",
			Sources:     cli.EnvVars("RESUME_CHAT_DB_KIND"),
			Destination: &cfg.DatastoreType,
			Value:       cfg.DatastoreType,
			Usage:       "Backend store (" + strings.Join(registrystore.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "db-url",
			Category:    "Database:",
			Sources:     cli.EnvVars("RESUME_CHAT_DB_URL"),
			Destination: &cfg.DBURL,
			Usage:       "Database connection URL",
		},
		&cli.BoolFlag{
			Name:        "db-migrate-at-start",
			Category:    "Database:",
			Sources:     cli.EnvVars("RESUME_CHAT_DB_MIGRATE_AT_START"),
			Destination: &cfg.DatastoreMigrateAtStart,
			Value:       cfg.DatastoreMigrateAtStart,
			Usage:       "Apply schema migrations on startup",
		},
		&cli.IntFlag{
			Name:        "db-max-open-conns",
			Category:    "Database:",
			Sources:     cli.EnvVars("RESUME_CHAT_DB_MAX_OPEN_CONNS"),
			Destination: &cfg.DBMaxOpenConns,
			Value:       cfg.DBMaxOpenConns,
			Usage:       "Maximum number of open database connections",
		},
		&cli.IntFlag{
			Name:        "db-max-idle-conns",
			Category:    "Database:",
			Sources:     cli.EnvVars("RESUME_CHAT_DB_MAX_IDLE_CONNS"),
			Destination: &cfg.DBMaxIdleConns,
			Value:       cfg.DBMaxIdleConns,
			Usage:       "Maximum number of idle database connections",
		},
		&cli.UintFlag{
			Name:        "version-max-attempts",
			Category:    "Database:",
			Sources:     cli.EnvVars("RESUME_CHAT_VERSION_MAX_ATTEMPTS"),
			Destination: &cfg.VersionMaxAttempts,
			Value:       cfg.VersionMaxAttempts,
			Usage:       "Attempts to allocate a version number before reporting a conflict",
		},

		// ── Assistant ─────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "assistant-kind",
			Category:    "Assistant:",
			Sources:     cli.EnvVars("RESUME_CHAT_ASSISTANT_KIND"),
			Destination: &cfg.AssistantType,
			Value:       cfg.AssistantType,
			Usage:       "Assistant provider (" + strings.Join(registryassistant.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "openai-api-key",
			Category:    "Assistant:",
			Sources:     cli.EnvVars("RESUME_CHAT_OPENAI_API_KEY", "OPENAI_API_KEY"),
			Destination: &cfg.OpenAIAPIKey,
			Usage:       "OpenAI API key",
		},
		&cli.StringFlag{
			Name:        "openai-base-url",
			Category:    "Assistant:",
			Sources:     cli.EnvVars("RESUME_CHAT_OPENAI_BASE_URL"),
			Destination: &cfg.OpenAIBaseURL,
			Value:       cfg.OpenAIBaseURL,
			Usage:       "OpenAI compatible API base URL",
		},
		&cli.DurationFlag{
			Name:        "assistant-call-timeout",
			Category:    "Assistant:",
			Sources:     cli.EnvVars("RESUME_CHAT_ASSISTANT_CALL_TIMEOUT"),
			Destination: &cfg.AssistantCallTimeout,
			Value:       cfg.AssistantCallTimeout,
			Usage:       "Upper bound for a single assistant API call",
		},
		&cli.FloatFlag{
			Name:        "assistant-requests-per-second",
			Category:    "Assistant:",
			Sources:     cli.EnvVars("RESUME_CHAT_ASSISTANT_REQUESTS_PER_SECOND"),
			Destination: &cfg.AssistantRequestsPerSecond,
			Value:       cfg.AssistantRequestsPerSecond,
			Usage:       "Outbound request rate to the assistant API (0 = unlimited)",
		},
		&cli.IntFlag{
			Name:        "assistant-burst",
			Category:    "Assistant:",
			Sources:     cli.EnvVars("RESUME_CHAT_ASSISTANT_BURST"),
			Destination: &cfg.AssistantBurst,
			Value:       cfg.AssistantBurst,
			Usage:       "Burst size for outbound assistant requests",
		},
		&cli.UintFlag{
			Name:        "assistant-retry-max-attempts",
			Category:    "Assistant:",
			Sources:     cli.EnvVars("RESUME_CHAT_ASSISTANT_RETRY_MAX_ATTEMPTS"),
			Destination: &cfg.AssistantRetryMaxAttempts,
			Value:       cfg.AssistantRetryMaxAttempts,
			Usage:       "Attempts per chat turn when the assistant is rate limited or unreachable",
		},

		// ── Score Cache ───────────────────────────────────────────
		&cli.StringFlag{
			Name:        "score-cache-kind",
			Category:    "Score Cache:",
			Sources:     cli.EnvVars("RESUME_CHAT_SCORE_CACHE_KIND"),
			Destination: &cfg.ScoreCacheType,
			Value:       cfg.ScoreCacheType,
			Usage:       "Score cache backend (" + strings.Join(registryscorecache.Names(), "|") + ")",
		},
		&cli.IntFlag{
			Name:        "score-cache-capacity",
			Category:    "Score Cache:",
			Sources:     cli.EnvVars("RESUME_CHAT_SCORE_CACHE_CAPACITY"),
			Destination: &cfg.ScoreCacheCapacity,
			Value:       cfg.ScoreCacheCapacity,
			Usage:       "Maximum number of cached scores held in process",
		},
		&cli.DurationFlag{
			Name:        "score-cache-ttl",
			Category:    "Score Cache:",
			Sources:     cli.EnvVars("RESUME_CHAT_SCORE_CACHE_TTL"),
			Destination: &cfg.ScoreCacheTTL,
			Value:       cfg.ScoreCacheTTL,
			Usage:       "Age after which a cached score is treated as a miss (0 = never)",
		},
		&cli.StringFlag{
			Name:        "redis-hosts",
			Category:    "Score Cache:",
			Sources:     cli.EnvVars("RESUME_CHAT_REDIS_HOSTS"),
			Destination: &cfg.RedisURL,
			Usage:       "Redis connection URL",
		},

		// ── Threads ───────────────────────────────────────────────
		&cli.DurationFlag{
			Name:        "thread-idle-timeout",
			Category:    "Threads:",
			Sources:     cli.EnvVars("RESUME_CHAT_THREAD_IDLE_TIMEOUT"),
			Destination: &cfg.ThreadIdleTimeout,
			Value:       cfg.ThreadIdleTimeout,
			Usage:       "Archive active threads idle longer than this (0 = never)",
		},

		// ── Monitoring ────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "metrics-labels",
			Category:    "Monitoring:",
			Sources:     cli.EnvVars("RESUME_CHAT_METRICS_LABELS"),
			Destination: &cfg.MetricsLabels,
			Value:       "service=resume-chat",
			Usage:       "Comma-separated key=value pairs added as constant labels to all Prometheus metrics. Supports ${VAR} expansion.",
		},
	}
}

func run(ctx context.Context, cfg config.Config) error {
	srv, err := StartServer(ctx, &cfg)
	if err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("Shutting down...")

	drainCtx, drainCancel := context.WithTimeout(context.Background(), time.Duration(cfg.DrainTimeout)*time.Second)
	defer drainCancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		log.Error("Shutdown error", "err", err)
	}
	log.Info("Server stopped")
	return nil
}

func maxBodySizeMiddleware(maxBodySize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBodySize > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize)
		}
		c.Next()
	}
}
