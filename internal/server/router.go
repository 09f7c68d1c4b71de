// Package server exposes a session over HTTP for review front ends.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/spherical/drawing-extractor/internal/observability"
	"github.com/spherical/drawing-extractor/internal/pipeline"
)

// Config holds router settings.
type Config struct {
	MaxUploadBytes int64
	Version        string
}

// NewRouter creates the API router for one session.
func NewRouter(logger *observability.Logger, session *pipeline.Session, cfg Config) http.Handler {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 100 << 20
	}
	h := &Handler{
		logger:   logger.WithOperation("http"),
		session:  session,
		maxBytes: cfg.MaxUploadBytes,
	}

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(h.logger))
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "healthy",
			"service": "drawing-extractor",
			"session": session.ID,
			"version": cfg.Version,
		})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/uploads", h.Upload)
		r.Get("/summary", h.Summary)
		r.Get("/export", h.ExportTable)

		r.Route("/units", func(r chi.Router) {
			r.Get("/", h.ListUnits)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetUnit)
				r.Post("/corrections", h.Correct)
				r.Post("/retry", h.Retry)
				r.Get("/export", h.ExportUnit)
			})
		})
	})

	return r
}

// requestLogger logs one line per request with the zerolog wrapper.
func requestLogger(logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("request_id", chimiddleware.GetReqID(r.Context())).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("elapsed", time.Since(start)).
				Msg("Request handled")
		})
	}
}
