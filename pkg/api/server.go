// Package api exposes the ingestion handle layer over HTTP.
//
// Routes live under /api/v1 and are protected by the X-API-Key header when a
// key is configured. /metrics is left open for scraping.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Router builds the HTTP handler for s. A nil gatherer serves the default
// Prometheus registry.
func (s *Server) Router(gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if gatherer == nil {
		r.Handle("/metrics", promhttp.Handler())
	} else {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	m := s.metrics
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(apiKeyMiddleware(s.config.APIKey))

		r.Get("/health", m.InstrumentHandler("GET", "/api/v1/health", s.handleHealth))
		r.Get("/stats", m.InstrumentHandler("GET", "/api/v1/stats", s.handleStats))

		// Connections
		r.Post("/connections", m.InstrumentHandler("POST", "/api/v1/connections", s.handleOpen))
		r.Post("/connections/{handle}/chunks", m.InstrumentHandler("POST", "/api/v1/connections/{handle}/chunks", s.handleFeed))
		r.Delete("/connections/{handle}", m.InstrumentHandler("DELETE", "/api/v1/connections/{handle}", s.handleClose))

		// Archive
		r.Get("/batches", m.InstrumentHandler("GET", "/api/v1/batches", s.handleListBatches))
		r.Get("/batches/{id}", m.InstrumentHandler("GET", "/api/v1/batches/{id}", s.handleGetBatch))
	})

	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context, gatherer prometheus.Gatherer) error {
	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.Router(gatherer),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http_listening", zap.String("addr", s.config.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("http_shutdown", zap.String("addr", s.config.Addr))
	return srv.Shutdown(shutdownCtx)
}
