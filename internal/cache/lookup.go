package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"modelcache-gateway/internal/analytics"
	"modelcache-gateway/internal/inference"
	"modelcache-gateway/internal/metrics"
	"modelcache-gateway/pkg/logging/logging"
)

// LookupResult is the part of a cache row needed to rebuild a response.
type LookupResult struct {
	Output      []inference.ContentBlock
	RawRequest  string
	RawResponse string
}

// cacheLookupRow mirrors the selected columns; output is a JSON array stored
// as a string.
type cacheLookupRow struct {
	Output      *string `json:"output"`
	RawRequest  string  `json:"raw_request"`
	RawResponse string  `json:"raw_response"`
}

// Reader serves cached responses from the analytics store.
type Reader struct {
	store  analytics.Store
	tracer trace.Tracer
}

func NewReader(store analytics.Store, cfg Config) *Reader {
	cfg = cfg.withDefaults()
	return &Reader{
		store:  store,
		tracer: cfg.TracerProvider.Tracer(tracerName),
	}
}

// Lookup returns the most recent cached response for req, or (nil, nil) on a
// miss. maxAgeSeconds, when set, excludes rows older than that many seconds.
func (r *Reader) Lookup(ctx context.Context, req ModelProviderRequest, maxAgeSeconds *uint32) (*inference.ModelInferenceResponse, error) {
	ctx, span := r.tracer.Start(ctx, "cache.lookup",
		trace.WithAttributes(
			attribute.String("model.name", req.ModelName),
			attribute.String("model.provider", req.ProviderName),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	start := time.Now()
	resp, shortKey, err := r.lookup(ctx, req, maxAgeSeconds)
	latency := time.Since(start)
	metrics.CacheLookupLatencySeconds.Observe(latency.Seconds())

	result := "miss"
	switch {
	case err != nil:
		result = "error"
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	case resp != nil:
		result = "hit"
	}
	metrics.CacheLookupsTotal.WithLabelValues(result).Inc()
	span.SetAttributes(attribute.String("cache.result", result))

	fields := []zap.Field{
		zap.String("model_name", req.ModelName),
		zap.String("provider_name", req.ProviderName),
		zap.Uint64("short_cache_key", shortKey),
		zap.String("cache_result", result), // hit | miss | error
		zap.Float64("latency_ms", logging.Millis(latency)),
	}
	if maxAgeSeconds != nil {
		fields = append(fields, zap.Uint32("max_age_s", *maxAgeSeconds))
	}

	logger := logging.L(ctx)
	if err != nil {
		logger.Warn("cache_lookup", append(fields, zap.Error(err))...)
	} else {
		logger.Debug("cache_lookup", fields...)
	}

	return resp, err
}

func (r *Reader) lookup(ctx context.Context, req ModelProviderRequest, maxAgeSeconds *uint32) (*inference.ModelInferenceResponse, uint64, error) {
	key, err := req.CacheKey()
	if err != nil {
		return nil, 0, err
	}
	// The short key only narrows the index scan; the long key is always
	// matched too before a row is trusted.
	short, err := key.ShortKey()
	if err != nil {
		return nil, 0, err
	}

	params := analytics.Params{
		analytics.ColumnShortCacheKey: analytics.UInt64(short),
		analytics.ColumnLongCacheKey:  analytics.String(key.LongKey()),
	}
	if maxAgeSeconds != nil {
		params[analytics.ParamLookback] = analytics.UInt32(*maxAgeSeconds)
	}

	raw, err := r.store.Query(ctx, lookupQuery(r.store.Dialect(), maxAgeSeconds != nil), params)
	if err != nil {
		return nil, short, fmt.Errorf("cache lookup: %w", err)
	}
	if strings.TrimSpace(raw) == "" {
		return nil, short, nil
	}

	result, err := decodeLookupResult(raw)
	if err != nil {
		return nil, short, err
	}

	return inference.NewCachedResponse(
		req.Request,
		req.ModelName,
		req.ProviderName,
		result.Output,
		result.RawRequest,
		result.RawResponse,
	), short, nil
}

// decodeLookupResult decodes the first JSON object of a JSONEachRow result.
func decodeLookupResult(raw string) (*LookupResult, error) {
	var row cacheLookupRow
	if err := json.NewDecoder(strings.NewReader(raw)).Decode(&row); err != nil {
		return nil, &Error{Message: "failed to deserialize cache row", Err: err}
	}
	if row.Output == nil {
		return nil, &Error{Message: "cache row has no output"}
	}

	var output []inference.ContentBlock
	if err := json.Unmarshal([]byte(*row.Output), &output); err != nil {
		return nil, &Error{Message: "failed to deserialize output", Err: err}
	}

	return &LookupResult{
		Output:      output,
		RawRequest:  row.RawRequest,
		RawResponse: row.RawResponse,
	}, nil
}
