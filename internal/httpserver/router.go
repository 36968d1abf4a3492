package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"modelcache-gateway/internal/handlers"
	"modelcache-gateway/internal/metrics"
	"modelcache-gateway/internal/middleware"
)

type Options struct {
	RequestTimeout time.Duration // default: 60s
	MaxBodyBytes   int64         // default: 2MB
}

func SetupRouter(r *chi.Mux, baseLogger *zap.Logger, inferenceHandler *handlers.InferenceHandler, opts Options) {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 2 * 1024 * 1024
	}

	r.Use(metrics.Middleware)

	// base middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)

	r.Use(middleware.LoggingContext(baseLogger))
	// Recoverer must stay outside Timeout, which re-raises handler panics here.
	r.Use(middleware.Recoverer())
	r.Use(middleware.Timeout(opts.RequestTimeout))
	r.Use(middleware.MaxBodySize(opts.MaxBodyBytes))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/inference", inferenceHandler.Inference)
	})

	// health check
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Handle("/metrics", metrics.Handler())
}
