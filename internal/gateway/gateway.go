// Package gateway serves model inferences, answering from the response cache
// when the caller allows it and recording live responses for later reuse.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"modelcache-gateway/internal/cache"
	"modelcache-gateway/internal/inference"
	"modelcache-gateway/pkg/logging/logging"
)

var (
	ErrUnknownProvider = errors.New("gateway: unknown provider")
	// ErrModelMismatch means the request named a model the provider is not
	// configured to serve. The model name is part of the cache key, so it
	// has to be the model that actually answered.
	ErrModelMismatch = errors.New("gateway: model not served by provider")
	// ErrCacheUnavailable is returned in fail_closed mode when a cache read
	// fails.
	ErrCacheUnavailable = errors.New("gateway: cache unavailable")
)

// Provider performs a live inference against one model provider. Model is
// the upstream model every call is sent to.
type Provider interface {
	Model() string
	Infer(ctx context.Context, req *inference.ModelInferenceRequest) (*inference.ProviderResponse, error)
}

// ReadFailureMode decides what a failed cache read does to the request.
type ReadFailureMode string

const (
	// FailOpen treats a failed read as a miss.
	FailOpen ReadFailureMode = "fail_open"
	// FailClosed fails the request.
	FailClosed ReadFailureMode = "fail_closed"
)

// ParseReadFailureMode accepts "" as FailOpen.
func ParseReadFailureMode(s string) (ReadFailureMode, error) {
	switch ReadFailureMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", FailOpen:
		return FailOpen, nil
	case FailClosed:
		return FailClosed, nil
	default:
		return "", fmt.Errorf("invalid read failure mode %q", s)
	}
}

type Config struct {
	ReadFailureMode ReadFailureMode
}

// InferParams names the model and provider a request is routed to and the
// cache policy for this call.
type InferParams struct {
	ModelName    string
	ProviderName string
	Request      *inference.ModelInferenceRequest
	CacheOptions cache.Options
}

type Gateway struct {
	providers map[string]Provider
	reader    *cache.Reader
	writer    *cache.Writer
	failMode  ReadFailureMode
}

// New builds a gateway. providers is keyed by provider name. The read
// failure mode is normalized the same way the config loader does it.
func New(providers map[string]Provider, reader *cache.Reader, writer *cache.Writer, cfg Config) (*Gateway, error) {
	mode, err := ParseReadFailureMode(string(cfg.ReadFailureMode))
	if err != nil {
		return nil, fmt.Errorf("gateway: %w", err)
	}
	return &Gateway{
		providers: providers,
		reader:    reader,
		writer:    writer,
		failMode:  mode,
	}, nil
}

// Infer returns a cached response when reads are enabled and a fresh row
// exists, otherwise calls the provider and schedules a cache write when
// writes are enabled.
func (g *Gateway) Infer(ctx context.Context, p InferParams) (*inference.ModelInferenceResponse, error) {
	start := time.Now()
	logger := logging.L(ctx)

	provider, ok := g.providers[p.ProviderName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, p.ProviderName)
	}
	if m := provider.Model(); p.ModelName != m {
		return nil, fmt.Errorf("%w: provider %s serves %q, request names %q", ErrModelMismatch, p.ProviderName, m, p.ModelName)
	}
	if p.Request == nil {
		return nil, errors.New("gateway: request is nil")
	}

	req := cache.ModelProviderRequest{
		Request:      p.Request,
		ModelName:    p.ModelName,
		ProviderName: p.ProviderName,
	}

	writeAllowed := p.CacheOptions.Write
	if p.CacheOptions.Read {
		resp, err := g.reader.Lookup(ctx, req, p.CacheOptions.MaxAgeSeconds)
		var serr *cache.SerializationError
		switch {
		case err == nil && resp != nil:
			logger.Info("cache_decision",
				zap.String("model_name", p.ModelName),
				zap.String("provider_name", p.ProviderName),
				zap.Bool("cache_hit", true),
				zap.Float64("total_latency_ms", logging.Millis(time.Since(start))),
			)
			return resp, nil
		case errors.As(err, &serr):
			// Without a fingerprint the row could never be found again.
			writeAllowed = false
		case err != nil && g.failMode == FailClosed:
			return nil, fmt.Errorf("%w: %w", ErrCacheUnavailable, err)
		}
	}

	pr, err := provider.Infer(ctx, p.Request)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", p.ProviderName, err)
	}
	resp := inference.NewResponse(p.Request, p.ModelName, p.ProviderName, pr)

	if writeAllowed {
		if err := g.writer.Write(ctx, req, resp.Output, resp.RawRequest, resp.RawResponse); err != nil {
			logger.Warn("cache_write_skipped", zap.Error(err))
		}
	}

	logger.Info("cache_decision",
		zap.String("model_name", p.ModelName),
		zap.String("provider_name", p.ProviderName),
		zap.Bool("cache_hit", false),
		zap.Bool("cache_read", p.CacheOptions.Read),
		zap.Bool("cache_write", writeAllowed),
		zap.Float64("llm_latency_ms", logging.Millis(pr.Latency)),
		zap.Float64("total_latency_ms", logging.Millis(time.Since(start))),
	)

	return resp, nil
}
