// Package api exposes the HTTP status interface for the harvester.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/ragharvest/internal/frontier"
	"github.com/JakeFAU/ragharvest/internal/metrics"
)

// StatsSource reports queue state, normally the live frontier.
type StatsSource interface {
	Stats(ctx context.Context) (frontier.Counts, error)
}

// ProgressSource reports crawl progress, normally the worker pool.
type ProgressSource interface {
	PagesProcessed() int
}

// Server wires HTTP handlers to the frontier and worker pool.
type Server struct {
	router   chi.Router
	stats    StatsSource
	progress ProgressSource
	runID    string
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes. progress
// may be nil when no run is active.
func NewServer(stats StatsSource, progress ProgressSource, runID string, logger *zap.Logger) *Server {
	s := &Server{
		stats:    stats,
		progress: progress,
		runID:    runID,
		logger:   logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Get("/status", s.status)
	r.Handle("/metrics", metrics.Handler())

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.stats.Stats(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "frontier store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// statusResponse is the /status payload.
type statusResponse struct {
	RunID          string `json:"run_id"`
	PagesProcessed int    `json:"pages_processed"`
	Frontier       struct {
		Pending    int `json:"pending"`
		InProgress int `json:"in_progress"`
		Deferred   int `json:"deferred"`
		Done       int `json:"done"`
		Failed     int `json:"failed"`
		Total      int `json:"total"`
	} `json:"frontier"`
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	counts, err := s.stats.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read frontier stats")
		return
	}
	resp := statusResponse{RunID: s.runID}
	if s.progress != nil {
		resp.PagesProcessed = s.progress.PagesProcessed()
	}
	resp.Frontier.Pending = counts.Pending
	resp.Frontier.InProgress = counts.InProgress
	resp.Frontier.Deferred = counts.Deferred
	resp.Frontier.Done = counts.Done
	resp.Frontier.Failed = counts.Failed
	resp.Frontier.Total = counts.Total()
	writeJSON(w, http.StatusOK, resp)
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Debug("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
