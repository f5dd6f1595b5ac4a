// Package metrics provides Prometheus instrumentation for the import
// pipeline and query layer.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// GamesImported counts games persisted, partitioned by platform.
	GamesImported = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scoutbook_games_imported_total",
		Help: "Games persisted from remote history sources",
	}, []string{"platform"})

	// EventsIndexed counts move-event fact rows written.
	EventsIndexed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scoutbook_move_events_indexed_total",
		Help: "Per-ply move events indexed",
	})

	// FlushesTotal counts worker flush batches applied to the store.
	FlushesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scoutbook_flushes_total",
		Help: "Aggregation flush batches applied",
	})

	// RateLimited counts 429 responses from the remote source.
	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scoutbook_rate_limited_total",
		Help: "Rate-limit responses from the remote source",
	})

	// SupervisorBackoff tracks the current supervisor backoff window.
	SupervisorBackoff = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scoutbook_supervisor_backoff_seconds",
		Help: "Current supervisor backoff window in seconds",
	})

	// ContinueDuration tracks how long one job continuation takes.
	ContinueDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "scoutbook_continue_duration_seconds",
		Help:    "Duration of one import job continuation",
		Buckets: prometheus.DefBuckets,
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scoutbook_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scoutbook_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)

		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
