// Package telemetry provides application-level observability for the registry.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// served by the side-channel HTTP server started by main.go:
//
//	GET http://<host>:<THUNDERSTORE_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint is not served by the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Publish outcomes and package downloads
//   - Cache regeneration outcomes, durations and queue coalescing
//   - Errors captured by the operational sink
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as
// /package/download/:owner/:name/:version/) rather than the raw request URL so
// user-supplied path segments cannot blow up label cardinality.
package telemetry

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/thunderstore-io/thunderstore-registry/internal/apperrors"
)

// HTTP metrics, labelled by method, route template and status code.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Package metrics.
//
// PublishesTotal is labelled by result: "success" or the apperrors.Code of the
// failure ("validation", "authorization", "conflict", "storage", "internal").
//
// Example PromQL queries:
//   - Rejected publishes:  sum by (result) (rate(registry_publishes_total{result!="success"}[1h]))
var (
	PublishesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_publishes_total",
			Help: "Total number of package publish attempts, by result.",
		},
		[]string{"result"},
	)

	PackageDownloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_package_downloads_total",
			Help: "Total number of package version download redirects, by community.",
		},
		[]string{"community"},
	)
)

// Cache metrics, recorded by the cache regenerator and its job queue.
//
// Example PromQL queries:
//   - Failing surfaces:    sum by (surface) (increase(registry_cache_regenerations_total{result="error"}[1h]))
//   - p95 render time:     histogram_quantile(0.95, sum by (surface, le) (rate(registry_cache_regeneration_duration_seconds_bucket[1h])))
//   - Coalescing ratio:    rate(registry_cache_queue_coalesced_total[5m])
var (
	CacheRegenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_cache_regenerations_total",
			Help: "Total number of cache surface regenerations, by surface and result.",
		},
		[]string{"surface", "result"},
	)

	CacheRegenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "registry_cache_regeneration_duration_seconds",
			Help:    "Duration of a single cache surface regeneration.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"surface"},
	)

	CacheQueueCoalescedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "registry_cache_queue_coalesced_total",
			Help: "Total number of cache regeneration requests merged into an already pending run.",
		},
	)
)

// ErrorsCapturedTotal counts errors handed to CaptureError, by component.
var ErrorsCapturedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "registry_errors_captured_total",
		Help: "Total number of errors reported to the operational sink, by component.",
	},
	[]string{"component"},
)

// CaptureError is the operational sink for failures that have no caller to
// report to: storage errors behind opaque 500s and background cache failures.
func CaptureError(component string, err error) {
	if err == nil {
		return
	}
	ErrorsCapturedTotal.WithLabelValues(component).Inc()
	slog.Error("captured error",
		"component", component,
		"code", string(apperrors.CodeOf(err)),
		"error", err,
	)
}

// DBOpenConnections tracks the number of open connections held by the pool.
// It is sampled every 30 seconds by StartDBStatsCollector.
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector samples sql.DB pool statistics every 30 seconds until
// ctx is cancelled or the database becomes unreachable.
func StartDBStatsCollector(ctx context.Context, db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := db.PingContext(ctx); err != nil {
					slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
					return
				}
				DBOpenConnections.Set(float64(db.Stats().OpenConnections))
			}
		}
	}()
}
