// Package api provides the HTTP API for the Loopline scheduling service.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/looplinehq/loopline/pkg/observability"
)

// Server is the HTTP API server for interview scheduling.
type Server struct {
	mux     *http.ServeMux
	server  *http.Server
	logger  *slog.Logger
	handler *SchedulingHandler
	metrics observability.Metrics
	health  *observability.HealthRegistry
}

// ServerConfig carries the listener address and timeouts for the API
// process.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// Metrics receives request counters and timings. Nil disables recording.
	Metrics observability.Metrics

	// Health supplies component checks for the health endpoint. Nil means
	// the endpoint reports static liveness only.
	Health *observability.HealthRegistry
}

// DefaultServerConfig returns listener settings suitable for production.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:         "0.0.0.0:8080",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// NewServer creates a new scheduling API server.
func NewServer(cfg ServerConfig, handler *SchedulingHandler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}

	mux := http.NewServeMux()

	s := &Server{
		mux:     mux,
		logger:  logger,
		handler: handler,
		metrics: metrics,
		health:  cfg.Health,
	}

	s.registerRoutes()

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.withObservability(s.mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// withObservability attaches correlation IDs to the request context and
// records per-request metrics and an access log line.
func (s *Server) withObservability(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := observability.NewRequestContext(r.Context(), r.Header.Get("X-Correlation-ID"))
		w.Header().Set("X-Correlation-ID", observability.CorrelationIDFromContext(ctx))

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(ctx))
		duration := time.Since(start)

		tags := []observability.Tag{observability.T("method", r.Method)}
		s.metrics.Counter(observability.MetricOperationTotal, 1, tags...)
		s.metrics.Timing(observability.MetricOperationDuration, duration, tags...)
		if rec.status >= http.StatusInternalServerError {
			s.metrics.Counter(observability.MetricOperationErrors, 1, tags...)
		}

		s.logger.InfoContext(ctx, "request completed",
			"method", r.Method,
			"path", r.URL.Path,
			observability.StatusKey, rec.status,
			observability.DurationKey, duration.Milliseconds(),
		)
	})
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// registerRoutes wires each endpoint to its handler method.
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	// Availability requests
	s.mux.HandleFunc("POST /api/v1/requests", s.handler.CreateRequest)
	s.mux.HandleFunc("GET /api/v1/requests/{requestID}", s.handler.GetRequest)
	s.mux.HandleFunc("POST /api/v1/requests/{requestID}/availability", s.handler.SubmitAvailability)
	s.mux.HandleFunc("POST /api/v1/requests/{requestID}/cancel", s.handler.CancelRequest)

	// Slot generation
	s.mux.HandleFunc("POST /api/v1/slots", s.handler.GenerateSlots)

	// Loop solving
	s.mux.HandleFunc("POST /api/v1/loops/solve", s.handler.SolveLoop)
	s.mux.HandleFunc("POST /api/v1/loops/commit", s.handler.CommitLoop)
	s.mux.HandleFunc("GET /api/v1/solve-runs/{runID}", s.handler.GetSolveRun)

	// Bookings
	s.mux.HandleFunc("POST /api/v1/bookings", s.handler.BookSlot)
	s.mux.HandleFunc("GET /api/v1/loop-bookings/{loopID}", s.handler.GetLoopBooking)
	s.mux.HandleFunc("POST /api/v1/loop-bookings/{loopID}/cancel", s.handler.CancelLoop)
}

// handleHealth handles health check requests. With a registry configured it
// runs the component checks and maps an unhealthy aggregate to 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
		return
	}

	overall := s.health.GetOverallHealth(r.Context())
	status := http.StatusOK
	if overall.Status == observability.HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, overall)
}

// Start serves requests until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.logger.Info("starting scheduling API server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down scheduling API server")
	return s.server.Shutdown(ctx)
}

// writeJSON sends status plus a JSON body. A nil body sends the status
// alone.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// The status line is already out, so the error can only be logged.
		slog.Error("encoding response body failed", "error", err)
	}
}

// writeError sends the standard error envelope.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error":   http.StatusText(status),
		"message": message,
	})
}
