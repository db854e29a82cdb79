package serve

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/resume-chat/internal/config"
	"github.com/chirino/resume-chat/internal/plugin/route/edits"
	routesystem "github.com/chirino/resume-chat/internal/plugin/route/system"
	storemetrics "github.com/chirino/resume-chat/internal/plugin/store/metrics"
	registryassistant "github.com/chirino/resume-chat/internal/registry/assistant"
	registrymigrate "github.com/chirino/resume-chat/internal/registry/migrate"
	registryroute "github.com/chirino/resume-chat/internal/registry/route"
	registryscorecache "github.com/chirino/resume-chat/internal/registry/scorecache"
	registrystore "github.com/chirino/resume-chat/internal/registry/store"
	"github.com/chirino/resume-chat/internal/security"
	"github.com/chirino/resume-chat/internal/service"
	"github.com/chirino/resume-chat/internal/thread"
	"github.com/chirino/resume-chat/internal/versionlog"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

// Server holds the running server and its subsystems.
type Server struct {
	Config          *config.Config
	Store           registrystore.ResumeStore
	Assistant       registryassistant.Assistant
	ScoreCache      registryscorecache.ScoreCache
	Router          *gin.Engine
	Running         *RunningServer
	closeManagement func(context.Context) error
	stopBackground  context.CancelFunc
	background      *errgroup.Group
}

// Shutdown stops background work, drains the listeners and closes the store.
func (s *Server) Shutdown(ctx context.Context) error {
	routesystem.MarkNotReady()
	if s.stopBackground != nil {
		s.stopBackground()
		_ = s.background.Wait()
	}
	if s.closeManagement != nil {
		_ = s.closeManagement(ctx)
	}
	err := s.Running.Close(ctx)
	if s.ScoreCache != nil {
		err = errors.Join(err, s.ScoreCache.Close())
	}
	return errors.Join(err, s.Store.Close())
}

// StartServer initializes all subsystems and starts the HTTP listener.
// Use cfg.Listener.Port=0 for a random port. Actual port: Server.Running.Port.
func StartServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	log.Info("Starting resume chat service",
		"httpPort", cfg.Listener.Port,
		"mode", cfg.Mode,
		"db", cfg.DatastoreType,
		"assistant", cfg.AssistantType,
		"scoreCache", cfg.ScoreCacheType,
	)
	if cfg.AssistantType == "local" && cfg.Mode != config.ModeTesting {
		log.Warn("Local assistant selected outside testing mode; conversation handles will not survive a restart")
	}

	// Initialize Prometheus metrics with configured constant labels.
	metricsLabels, err := security.ParseMetricsLabels(cfg.MetricsLabels)
	if err != nil {
		return nil, fmt.Errorf("invalid --metrics-labels: %w", err)
	}
	security.InitMetrics(metricsLabels)

	if err := registrymigrate.RunAll(ctx); err != nil {
		return nil, fmt.Errorf("migrations failed: %w", err)
	}

	storeLoader, err := registrystore.Select(cfg.DatastoreType)
	if err != nil {
		return nil, err
	}
	store, err := storeLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	store = storemetrics.Wrap(store)

	assistantLoader, err := registryassistant.Select(cfg.AssistantType)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	assistant, err := assistantLoader(ctx)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize assistant: %w", err)
	}

	// The score cache is optional: scoring works uncached when it is unavailable.
	bg, bgCancel := context.WithCancel(context.WithoutCancel(ctx))
	var scoreCache registryscorecache.ScoreCache
	if cacheLoader, err := registryscorecache.Select(cfg.ScoreCacheType); err != nil {
		log.Warn("Score cache not available", "cache", cfg.ScoreCacheType, "err", err)
	} else if c, err := cacheLoader(bg); err != nil {
		log.Warn("Failed to initialize score cache", "cache", cfg.ScoreCacheType, "err", err)
	} else {
		scoreCache = c
	}

	threads := thread.NewManager(store, assistant, thread.Options{CallTimeout: cfg.AssistantCallTimeout})
	versions := versionlog.New(store, versionlog.Options{MaxAttempts: cfg.VersionMaxAttempts})
	scores := service.NewScoreService(scoreCache, service.KeywordScorer{})
	turns := service.NewTurnService(threads, versions, scores, service.TurnOptions{
		RetryMaxAttempts:     cfg.AssistantRetryMaxAttempts,
		RetryInitialInterval: cfg.AssistantRetryInitialInterval,
	})

	group, groupCtx := errgroup.WithContext(bg)
	// abort releases everything opened so far when startup fails.
	abort := func() {
		bgCancel()
		_ = group.Wait()
		if scoreCache != nil {
			_ = scoreCache.Close()
		}
		_ = store.Close()
	}
	if cfg.ThreadIdleTimeout > 0 && cfg.ThreadJanitorInterval > 0 {
		janitor := service.NewThreadJanitor(store, cfg.ThreadJanitorInterval, cfg.ThreadIdleTimeout, cfg.ThreadJanitorBatch)
		group.Go(func() error {
			janitor.Start(groupCtx)
			return nil
		})
	}

	router := newRouter(cfg)
	if err := registryroute.MountAll(router, registryroute.SurfaceAPI); err != nil {
		abort()
		return nil, err
	}
	owner := security.OwnerMiddleware()
	if cfg.Mode == config.ModeTesting {
		owner = security.OptionalOwnerMiddleware(security.TestingOwnerID)
	}
	edits.MountRoutes(router, edits.Deps{
		Turns:    turns,
		Threads:  threads,
		Versions: versions,
		Scores:   scores,
		Store:    store,
	}, owner)

	// Management routes get their own bare engine and listener when a
	// management port is configured, otherwise they share the API router.
	var closeManagement func(context.Context) error
	if cfg.ManagementListenerEnabled {
		mgmtRouter := gin.New()
		mgmtRouter.Use(gin.Recovery())
		if cfg.ManagementAccessLog {
			mgmtRouter.Use(security.AccessLogMiddleware())
		}
		if err := registryroute.MountAll(mgmtRouter, registryroute.SurfaceManagement); err != nil {
			abort()
			return nil, err
		}
		_, closeManagement, err = startManagementServer(cfg.ManagementListener, mgmtRouter)
		if err != nil {
			abort()
			return nil, fmt.Errorf("failed to start management server: %w", err)
		}
	} else if err := registryroute.MountAll(router, registryroute.SurfaceManagement); err != nil {
		abort()
		return nil, err
	}

	running, err := StartHTTP(cfg.Listener, router)
	if err != nil {
		if closeManagement != nil {
			_ = closeManagement(ctx)
		}
		abort()
		return nil, err
	}

	log.Info("Server listening", "port", running.Port)

	routesystem.MarkReady()
	return &Server{
		Config:          cfg,
		Store:           store,
		Assistant:       assistant,
		ScoreCache:      scoreCache,
		Router:          router,
		Running:         running,
		closeManagement: closeManagement,
		stopBackground:  bgCancel,
		background:      group,
	}, nil
}

func newRouter(cfg *config.Config) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.ManagementAccessLog {
		router.Use(security.AccessLogMiddleware())
	} else {
		router.Use(security.AccessLogMiddleware("/health", "/ready", "/metrics"))
	}
	router.Use(security.MetricsMiddleware())
	router.Use(maxBodySizeMiddleware(cfg.MaxBodySize))
	if cfg.CORSOrigins != "" {
		router.Use(corsMiddleware(cfg.CORSOrigins))
	}
	return router
}
