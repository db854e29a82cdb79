package security

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// StoreLatency can be used by store implementations to record operation latency.
	StoreLatency *prometheus.HistogramVec

	ScoreCacheHitsTotal   prometheus.Counter
	ScoreCacheMissesTotal prometheus.Counter
	// ScoreComputationsTotal counts scorer invocations (cache misses that were not deduplicated).
	ScoreComputationsTotal prometheus.Counter

	ThreadsCreatedTotal   prometheus.Counter
	ThreadsRecreatedTotal prometheus.Counter
	// ThreadInsertRacesTotal counts inserts that lost the active-thread race and converged on the winner.
	ThreadInsertRacesTotal prometheus.Counter
	ThreadsArchivedTotal   prometheus.Counter

	VersionConflictsTotal prometheus.Counter
	AssistantErrorsTotal  *prometheus.CounterVec

	// DBPoolOpenConnections tracks the number of currently open database connections.
	DBPoolOpenConnections prometheus.Gauge

	// DBPoolMaxConnections tracks the configured maximum database connections.
	DBPoolMaxConnections prometheus.Gauge
)

var validLabelKey = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ParseMetricsLabels parses a comma-separated list of key=value pairs into
// Prometheus labels. Values support ${VAR} / $VAR environment variable expansion.
// Label values may not contain commas. Returns nil for an empty string.
func ParseMetricsLabels(s string) (prometheus.Labels, error) {
	s = os.Expand(s, os.Getenv)
	if s == "" {
		return nil, nil
	}
	labels := prometheus.Labels{}
	for _, pair := range strings.Split(s, ",") {
		idx := strings.IndexByte(pair, '=')
		if idx < 0 {
			return nil, fmt.Errorf("invalid label %q: expected key=value", pair)
		}
		k, v := pair[:idx], pair[idx+1:]
		if !validLabelKey.MatchString(k) {
			return nil, fmt.Errorf("invalid label key %q: must match [a-zA-Z_][a-zA-Z0-9_]*", k)
		}
		labels[k] = v
	}
	return labels, nil
}

var initMetricsOnce sync.Once

// InitMetrics registers all Prometheus metrics with the given constant labels.
// Must be called before starting the HTTP server or any store/cache initialization
// that records metrics. Safe to call multiple times; only the first call registers.
func InitMetrics(constLabels prometheus.Labels) {
	initMetricsOnce.Do(func() {
		initMetricsInner(constLabels)
	})
}

func initMetricsInner(constLabels prometheus.Labels) {
	reg := prometheus.WrapRegistererWith(constLabels, prometheus.DefaultRegisterer)
	f := promauto.With(reg)

	httpRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resume_chat_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "status"},
	)

	httpRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "resume_chat_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	StoreLatency = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "resume_chat_store_latency_seconds",
			Help:    "Store operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	ScoreCacheHitsTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "resume_chat_score_cache_hits_total",
		Help: "Total score cache hits",
	})

	ScoreCacheMissesTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "resume_chat_score_cache_misses_total",
		Help: "Total score cache misses",
	})

	ScoreComputationsTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "resume_chat_score_computations_total",
		Help: "Total compatibility score computations",
	})

	ThreadsCreatedTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "resume_chat_threads_created_total",
		Help: "Total conversation threads created",
	})

	ThreadsRecreatedTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "resume_chat_threads_recreated_total",
		Help: "Total conversation threads recreated after the assistant rejected their handle",
	})

	ThreadInsertRacesTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "resume_chat_thread_insert_races_total",
		Help: "Total thread inserts that converged on a concurrently created thread",
	})

	ThreadsArchivedTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "resume_chat_threads_archived_total",
		Help: "Total conversation threads archived",
	})

	VersionConflictsTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "resume_chat_version_conflicts_total",
		Help: "Total version number conflicts retried",
	})

	AssistantErrorsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resume_chat_assistant_errors_total",
			Help: "Total assistant API errors by kind",
		},
		[]string{"kind"},
	)

	DBPoolOpenConnections = f.NewGauge(prometheus.GaugeOpts{
		Name: "resume_chat_db_pool_open_connections",
		Help: "Number of open database connections",
	})

	DBPoolMaxConnections = f.NewGauge(prometheus.GaugeOpts{
		Name: "resume_chat_db_pool_max_connections",
		Help: "Maximum number of database connections",
	})
}

// Inc increments c when metrics are initialized.
func Inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// IncAssistantError counts an assistant failure of the given kind.
func IncAssistantError(kind string) {
	if AssistantErrorsTotal != nil && kind != "" {
		AssistantErrorsTotal.WithLabelValues(kind).Inc()
	}
}

// ObserveStoreLatency records the time since start for a store operation.
func ObserveStoreLatency(op string, start time.Time) {
	if StoreLatency != nil {
		StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

// MetricsMiddleware records HTTP request metrics for Prometheus.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if httpRequestsTotal == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		httpRequestsTotal.WithLabelValues(c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method).Observe(duration.Seconds())
	}
}
