// Package api exposes the observability HTTP endpoint for a running harvest.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crawlkit/mediaharvest/internal/metrics"
	"github.com/crawlkit/mediaharvest/internal/pipeline"
)

// StatsFunc returns a point-in-time snapshot of run progress.
type StatsFunc func() pipeline.Stats

// Server serves health, metrics, and progress endpoints.
type Server struct {
	http   *http.Server
	logger *zap.Logger
}

// NewServer builds the server with middleware and routes.
func NewServer(port int, stats StatsFunc, logger *zap.Logger) *Server {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, logger)
	})
	r.Handle("/metrics", metrics.Handler())
	r.Get("/progress", func(w http.ResponseWriter, _ *http.Request) {
		s := stats()
		writeJSON(w, http.StatusOK, map[string]int64{
			"items_discovered":      s.ItemsDiscovered,
			"items_succeeded":       s.ItemsSucceeded,
			"items_failed":          s.ItemsFailed,
			"collections_exhausted": s.CollectionsExhausted,
			"collections_failed":    s.CollectionsFailed,
			"collections_skipped":   s.CollectionsSkipped,
		}, logger)
	})

	return &Server{
		http: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start serves in the background until Shutdown.
func (s *Server) Start() {
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("observability server failed", zap.Error(err))
		}
	}()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown observability server: %w", err)
	}
	return nil
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Request-ID", uuid.NewString())
		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}
