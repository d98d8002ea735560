package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/star/orbitstream/internal/auth"
	"github.com/star/orbitstream/internal/catalog"
	"github.com/star/orbitstream/internal/health"
	"github.com/star/orbitstream/internal/httputil"
	"github.com/star/orbitstream/internal/metrics"
	"github.com/star/orbitstream/internal/record"
	"github.com/star/orbitstream/internal/scheduler"
)

// CatalogReader is the read side of the catalog.
type CatalogReader interface {
	Stats() catalog.Stats
	Get(noradID int) (record.Entry, bool)
}

// StatusReporter exposes scheduler state.
type StatusReporter interface {
	Status() scheduler.Status
}

// Deps are the components the ops API reads from.
type Deps struct {
	Catalog    CatalogReader
	Scheduler  StatusReporter
	Ready      *health.Checker
	TrustProxy bool
}

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a configured HTTP server.
func NewServer(addr string, logger *slog.Logger, authCfg auth.Config, deps Deps) *Server {
	if deps.Ready == nil {
		deps.Ready = health.NewChecker()
	}

	mux := http.NewServeMux()

	// Register routes.
	mux.HandleFunc("GET /healthz", health.Healthz)
	mux.HandleFunc("GET /readyz", deps.Ready.Readyz)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /api/v1/status", statusHandler(deps.Scheduler))
	mux.HandleFunc("GET /api/v1/catalog/stats", catalogStatsHandler(deps.Catalog))
	mux.HandleFunc("GET /api/v1/catalog/{norad_id}", catalogEntryHandler(deps.Catalog))

	// Build middleware chain: metrics -> logging -> auth -> mux.
	var handler http.Handler = mux
	handler = auth.Middleware(authCfg)(handler)
	handler = loggingMiddleware(logger, deps.TrustProxy)(handler)
	handler = metrics.Middleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		logger: logger,
	}
}

// HTTPServer returns the underlying *http.Server for external control (e.g. shutdown).
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

func statusHandler(sched StatusReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, sched.Status())
	}
}

func catalogStatsHandler(cat CatalogReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, cat.Stats())
	}
}

func catalogEntryHandler(cat CatalogReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.Atoi(r.PathValue("norad_id"))
		if err != nil || id <= 0 {
			writeError(w, http.StatusBadRequest, "norad_id must be a positive integer")
			return
		}
		entry, ok := cat.Get(id)
		if !ok {
			writeError(w, http.StatusNotFound, "object not in catalog")
			return
		}
		writeJSON(w, http.StatusOK, entry.Vector)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// probePath returns true for health/readiness probe paths that should not log at INFO.
func probePath(path string) bool {
	return path == "/healthz" || path == "/readyz" || path == "/metrics"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(logger *slog.Logger, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sr, r)

			duration := time.Since(start)
			level := slog.LevelInfo
			if probePath(r.URL.Path) {
				level = slog.LevelDebug
			}

			logger.Log(r.Context(), level, "request",
				"component", "api",
				"method", r.Method,
				"path", r.URL.Path,
				"status", strconv.Itoa(sr.statusCode),
				"duration_ms", duration.Milliseconds(),
				"remote_ip", httputil.ClientIP(r, trustProxy),
			)
		})
	}
}
