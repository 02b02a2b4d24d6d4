package handlers

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/fenceworks/sqlfence/pkg/config"
	"github.com/fenceworks/sqlfence/pkg/profiler"
)

// Pinger is the slice of the database pool the readiness check needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthResponse contains liveness/readiness status.
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database,omitempty"`
}

// PingResponse contains service status and version information.
type PingResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Service     string `json:"service"`
	GoVersion   string `json:"go_version"`
	Hostname    string `json:"hostname"`
	Environment string `json:"environment"`
}

// MetricsResponse summarizes the profiler's view of recent load.
type MetricsResponse struct {
	RecentQueries        int                        `json:"recent_queries"`
	SlowQueries          int                        `json:"slow_queries"`
	SlowQueryThresholdMs int64                      `json:"slow_query_threshold_ms"`
	IndexSuggestions     []profiler.IndexSuggestion `json:"index_suggestions"`
}

// HealthHandler handles health check, readiness, and metrics endpoints.
type HealthHandler struct {
	cfg    *config.Config
	db     Pinger
	prof   *profiler.Profiler
	logger *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. db and prof may be nil; the
// corresponding endpoints then report unavailable.
func NewHealthHandler(cfg *config.Config, db Pinger, prof *profiler.Profiler, logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{cfg: cfg, db: db, prof: prof, logger: logger}
}

// RegisterRoutes registers the health handler's routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.Health)
	mux.HandleFunc("/ready", h.Ready)
	mux.HandleFunc("/ping", h.Ping)
	mux.HandleFunc("/metrics", h.Metrics)
}

// Health handles GET /health requests. Liveness only: the process is up.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if err := WriteJSON(w, http.StatusOK, HealthResponse{Status: "ok"}); err != nil {
		h.logger.Error("Failed to encode health response", zap.Error(err))
	}
}

// Ready handles GET /ready requests. The service is ready when the database
// answers a ping within two seconds.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		_ = WriteJSON(w, http.StatusServiceUnavailable, HealthResponse{
			Status:   "degraded",
			Database: "not configured",
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		h.logger.Warn("Readiness check failed", zap.Error(err))
		_ = WriteJSON(w, http.StatusServiceUnavailable, HealthResponse{
			Status:   "degraded",
			Database: "unreachable",
		})
		return
	}

	if err := WriteJSON(w, http.StatusOK, HealthResponse{Status: "ok", Database: "ok"}); err != nil {
		h.logger.Error("Failed to encode readiness response", zap.Error(err))
	}
}

// Ping handles GET /ping requests.
// Returns detailed service information including version and environment.
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	hostname, err := os.Hostname()
	if err != nil {
		http.Error(w, "failed to get hostname", http.StatusInternalServerError)
		return
	}

	response := PingResponse{
		Status:      "ok",
		Version:     h.cfg.Version,
		Service:     "sqlfence",
		GoVersion:   runtime.Version(),
		Hostname:    hostname,
		Environment: h.cfg.Env,
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode ping response", zap.Error(err))
	}
}

// Metrics handles GET /metrics requests with a profiler summary.
func (h *HealthHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	if h.prof == nil {
		_ = ErrorResponse(w, http.StatusServiceUnavailable, "profiler_unavailable", "query profiler is not configured")
		return
	}

	threshold := h.cfg.Profiler.SlowQueryThreshold()
	response := MetricsResponse{
		RecentQueries:        len(h.prof.Recent(0)),
		SlowQueries:          len(h.prof.SlowQueries(threshold)),
		SlowQueryThresholdMs: threshold.Milliseconds(),
		IndexSuggestions:     h.prof.SuggestIndexes(),
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode metrics response", zap.Error(err))
	}
}
