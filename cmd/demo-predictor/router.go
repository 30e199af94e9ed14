package main

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/drfirst/go-retinarisk/internal/api/handlers"
	"github.com/drfirst/go-retinarisk/internal/api/middleware"
	"github.com/drfirst/go-retinarisk/internal/config"
)

type routes struct {
	predictions *handlers.PredictionHandler
	// archive is nil when no database is configured
	archive handlers.Archive
	checks  []func(context.Context) error
	metrics http.Handler
}

func newRouter(cfg *config.Server, logger *zap.Logger, rt routes) chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Tracing(serviceName))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":"Diabetic AI System","status":"running"}`))
	})
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"healthy","service":"` + serviceName + `"}`))
	})
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		for _, check := range rt.checks {
			if err := check(r.Context()); err != nil {
				logger.Warn("readiness check failed", zap.Error(err))
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		if !rt.predictions.Ready() {
			http.Error(w, "recorders backlogged", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ready"))
	})
	if rt.metrics != nil {
		r.Handle("/metrics", rt.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.RequestTimeout > 0 {
			r.Use(chimw.Timeout(cfg.RequestTimeout))
		}
		r.Mount("/prediction", rt.predictions.Routes())
		if rt.archive != nil {
			r.Mount("/archive", handlers.NewArchiveHandler(rt.archive, logger).Routes())
		}
	})
	return r
}
