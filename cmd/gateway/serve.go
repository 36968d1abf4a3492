package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"modelcache-gateway/internal/analytics"
	"modelcache-gateway/internal/cache"
	"modelcache-gateway/internal/config"
	"modelcache-gateway/internal/gateway"
	"modelcache-gateway/internal/handlers"
	"modelcache-gateway/internal/httpserver"
	"modelcache-gateway/internal/metrics"
	"modelcache-gateway/internal/provider/openai"
	"modelcache-gateway/pkg/logging/logging"
)

const storePingTimeout = 5 * time.Second

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the inference gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), *configPath)
		},
	}
}

func run(parent context.Context, configPath string) error {
	if parent == nil {
		parent = context.Background()
	}

	// ----- Logger -----
	logger := logging.DefaultLogger()
	defer logger.Sync()

	// ----- Metrics -----
	metrics.Register()

	// ----- Config -----
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger.Info("loaded config",
		zap.String("port", cfg.Port),
		zap.String("analytics_backend", cfg.Analytics.Backend),
		zap.String("read_failure_mode", string(cfg.Cache.ReadFailureMode)),
		zap.Int("providers", len(cfg.Providers)),
	)

	// ----- Analytics store -----
	cacheCfg := cache.Config{WriteTimeout: cfg.Cache.WriteTimeout}
	store, closeStore, err := openStore(parent, cfg, cacheCfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	reader := cache.NewReader(store, cacheCfg)
	writer := cache.NewWriter(store, cacheCfg)

	// ----- Providers -----
	providers := make(map[string]gateway.Provider, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		if pc.APIKey == "" {
			return fmt.Errorf("provider %s: %s is required", pc.Name, pc.APIKeyEnv)
		}
		p, err := openai.New(openai.Config{
			BaseURL:         pc.BaseURL,
			APIKey:          pc.APIKey,
			Model:           pc.Model,
			UpstreamTimeout: pc.Timeout,
			MaxRetries:      pc.MaxRetries,
		}, logger)
		if err != nil {
			return fmt.Errorf("provider %s: %w", pc.Name, err)
		}
		defer p.Close()
		providers[pc.Name] = p
	}

	gw, err := gateway.New(providers, reader, writer, gateway.Config{ReadFailureMode: cfg.Cache.ReadFailureMode})
	if err != nil {
		return err
	}

	// ----- Router + middleware -----
	r := chi.NewRouter()
	httpserver.SetupRouter(r, logger, handlers.NewInferenceHandler(gw), httpserver.Options{
		RequestTimeout: cfg.RequestTimeout,
		MaxBodyBytes:   cfg.MaxBodyBytes,
	})

	// ----- HTTP server -----
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting gateway", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// ----- Graceful shutdown -----
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
			return err
		}
		// drain cache writes scheduled by the last requests
		if err := writer.Wait(shutdownCtx); err != nil {
			logger.Warn("cache writes still pending at shutdown", zap.Error(err))
		}

		logger.Info("server shutdown complete")
		return nil
	})

	return g.Wait()
}

// openStore builds the configured analytics store wrapped with logging and
// metrics, and pings it so a misconfigured backend stops startup instead of
// failing every request. The returned func releases it.
func openStore(ctx context.Context, cfg *config.Config, cacheCfg cache.Config, logger *zap.Logger) (analytics.Store, func(), error) {
	var redisClient *redis.Client
	if cfg.Analytics.Backend == analytics.BackendRedis {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}

	store, err := analytics.NewStore(cfg.Analytics, redisClient)
	if err != nil {
		if redisClient != nil {
			_ = redisClient.Close()
		}
		return nil, nil, err
	}

	closeFn := func() {
		if c, ok := store.(io.Closer); ok {
			_ = c.Close()
		}
		if redisClient != nil {
			_ = redisClient.Close()
		}
	}

	backend := cfg.Analytics.Backend
	if backend == "" {
		backend = analytics.BackendDisabled
	}

	if p, ok := store.(analytics.Pinger); ok {
		pingCtx, cancel := context.WithTimeout(ctx, storePingTimeout)
		err := p.Ping(pingCtx)
		cancel()
		if err != nil {
			logger.Error("analytics store unreachable", zap.String("backend", backend), zap.Error(err))
			closeFn()
			return nil, nil, fmt.Errorf("analytics %s: %w", backend, err)
		}
		logger.Info("analytics store reachable", zap.String("backend", backend))
	}

	return cache.NewLoggingStore(store, backend, cacheCfg), closeFn, nil
}
