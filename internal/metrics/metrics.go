// Package metrics exposes pipeline and HTTP metrics to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbitstream_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orbitstream_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	fetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbitstream_fetch_total",
			Help: "Catalog fetches by window and result.",
		},
		[]string{"window", "result"},
	)

	fetchDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orbitstream_fetch_duration_seconds",
			Help:    "Catalog fetch duration in seconds.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	fetchRowsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orbitstream_fetch_rows_total",
			Help: "Rows returned by the catalog provider.",
		},
	)

	catalogSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orbitstream_catalog_size",
			Help: "Number of objects in the catalog.",
		},
	)

	mergedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbitstream_catalog_merged_total",
			Help: "Catalog entries written by merges, by outcome.",
		},
		[]string{"outcome"},
	)

	propagationDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orbitstream_propagation_duration_seconds",
			Help:    "Duration of one propagation pass over a set of objects.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
	)

	propagatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbitstream_propagated_total",
			Help: "Objects propagated, by result.",
		},
		[]string{"result"},
	)

	normalizationFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orbitstream_normalization_failures_total",
			Help: "Rows dropped because a required field failed to parse.",
		},
	)

	batchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbitstream_batches_total",
			Help: "Published batches by result.",
		},
		[]string{"result"},
	)

	publishRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orbitstream_publish_retries_total",
			Help: "Batch send retries.",
		},
	)

	flushDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orbitstream_flush_duration_seconds",
			Help:    "Duration of one flush, snapshot to last acknowledgement.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	flushRecords = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orbitstream_flush_records",
			Help: "Records published by the last flush.",
		},
	)

	flushSkippedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orbitstream_flush_skipped_total",
			Help: "Flush ticks skipped because a flush was still running.",
		},
	)

	transportState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orbitstream_transport_state",
			Help: "Broker connection state (0 disconnected, 1 connecting, 2 connected).",
		},
	)

	propagationWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orbitstream_propagation_workers",
			Help: "Configured propagation worker count.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpDurationSeconds,
		fetchTotal,
		fetchDurationSeconds,
		fetchRowsTotal,
		catalogSize,
		mergedTotal,
		propagationDurationSeconds,
		propagatedTotal,
		normalizationFailuresTotal,
		batchesTotal,
		publishRetriesTotal,
		flushDurationSeconds,
		flushRecords,
		flushSkippedTotal,
		transportState,
		propagationWorkers,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordFetch records one catalog query.
func RecordFetch(window string, d time.Duration, rows int, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	fetchTotal.WithLabelValues(window, result).Inc()
	fetchDurationSeconds.Observe(d.Seconds())
	fetchRowsTotal.Add(float64(rows))
}

// RecordMerge records one merge into the catalog.
func RecordMerge(inserted, updated, removed, size int) {
	mergedTotal.WithLabelValues("inserted").Add(float64(inserted))
	mergedTotal.WithLabelValues("updated").Add(float64(updated))
	mergedTotal.WithLabelValues("removed").Add(float64(removed))
	catalogSize.Set(float64(size))
}

// RecordPropagation records one propagation pass.
func RecordPropagation(d time.Duration, success, errors int) {
	propagationDurationSeconds.Observe(d.Seconds())
	propagatedTotal.WithLabelValues("ok").Add(float64(success))
	propagatedTotal.WithLabelValues("error").Add(float64(errors))
}

// SetPropagationWorkers sets the worker gauge.
func SetPropagationWorkers(n int) {
	propagationWorkers.Set(float64(n))
}

// RecordNormalizationFailures counts dropped rows.
func RecordNormalizationFailures(n int) {
	normalizationFailuresTotal.Add(float64(n))
}

// RecordBatch counts one batch outcome.
func RecordBatch(ok bool) {
	if ok {
		batchesTotal.WithLabelValues("published").Inc()
		return
	}
	batchesTotal.WithLabelValues("failed").Inc()
}

// RecordPublishRetry counts one send retry.
func RecordPublishRetry() {
	publishRetriesTotal.Inc()
}

// RecordFlush records a completed flush.
func RecordFlush(d time.Duration, records int) {
	flushDurationSeconds.Observe(d.Seconds())
	flushRecords.Set(float64(records))
}

// RecordFlushSkipped counts a tick dropped while a flush was in flight.
func RecordFlushSkipped() {
	flushSkippedTotal.Inc()
}

// SetTransportState sets the connection state gauge.
func SetTransportState(state int) {
	transportState.Set(float64(state))
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// knownRoutes are the paths served by the ops API.
var knownRoutes = map[string]bool{
	"/":                     true,
	"/healthz":              true,
	"/readyz":               true,
	"/metrics":              true,
	"/api/v1/status":        true,
	"/api/v1/catalog/stats": true,
}

const catalogPrefix = "/api/v1/catalog/"

// normalizeRoute maps a request path onto a bounded label set so scanners
// and per-object lookups cannot explode metric cardinality.
func normalizeRoute(path string) string {
	if knownRoutes[path] {
		return path
	}
	if id, ok := strings.CutPrefix(path, catalogPrefix); ok {
		if _, err := strconv.Atoi(id); err == nil {
			return catalogPrefix + "{norad_id}"
		}
	}
	return "other"
}

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)
		route := normalizeRoute(r.URL.Path)

		httpRequestsTotal.WithLabelValues(route, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(route, r.Method).Observe(duration)
	})
}
