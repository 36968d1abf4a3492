package cache

import (
	"context"
	"encoding/json"
	"sync"
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

type modelInferenceCacheRow struct {
	ShortCacheKey uint64 `json:"short_cache_key"`
	LongCacheKey  string `json:"long_cache_key"`
	Output        string `json:"output"`
	RawRequest    string `json:"raw_request"`
	RawResponse   string `json:"raw_response"`
}

// Writer persists provider exchanges to the cache without making the caller
// wait for the store.
type Writer struct {
	store   analytics.Store
	timeout time.Duration
	tracer  trace.Tracer
	wg      sync.WaitGroup
}

func NewWriter(store analytics.Store, cfg Config) *Writer {
	cfg = cfg.withDefaults()
	return &Writer{
		store:   store,
		timeout: cfg.WriteTimeout,
		tracer:  cfg.TracerProvider.Tracer(tracerName),
	}
}

// Write schedules a cache row for req and returns once the row is handed
// off. Only fingerprint errors are returned; insert failures are logged and
// counted by the background goroutine.
func (w *Writer) Write(
	ctx context.Context,
	req ModelProviderRequest,
	output []inference.ContentBlock,
	rawRequest, rawResponse string,
) error {
	key, err := req.CacheKey()
	if err != nil {
		return err
	}
	short, err := key.ShortKey()
	if err != nil {
		return err
	}

	job := writeJob{
		shortKey:     short,
		longKey:      key.LongKey(),
		output:       append([]inference.ContentBlock(nil), output...),
		rawRequest:   rawRequest,
		rawResponse:  rawResponse,
		modelName:    req.ModelName,
		providerName: req.ProviderName,
	}

	// The insert outlives the caller: keep ctx values (logger, trace) but
	// drop its cancellation.
	bg := context.WithoutCancel(ctx)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.insert(bg, job)
	}()

	metrics.CacheWritesTotal.WithLabelValues("scheduled").Inc()
	logging.L(ctx).Debug("cache_write_scheduled",
		zap.String("model_name", req.ModelName),
		zap.String("provider_name", req.ProviderName),
		zap.Uint64("short_cache_key", short),
	)
	return nil
}

type writeJob struct {
	shortKey     uint64
	longKey      string
	output       []inference.ContentBlock
	rawRequest   string
	rawResponse  string
	modelName    string
	providerName string
}

func (w *Writer) insert(ctx context.Context, job writeJob) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	ctx, span := w.tracer.Start(ctx, "cache.write",
		trace.WithAttributes(
			attribute.String("model.name", job.modelName),
			attribute.String("model.provider", job.providerName),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	start := time.Now()
	err := w.insertRow(ctx, job)
	latencyMs := logging.Millis(time.Since(start))

	fields := []zap.Field{
		zap.String("model_name", job.modelName),
		zap.String("provider_name", job.providerName),
		zap.Uint64("short_cache_key", job.shortKey),
		zap.Float64("latency_ms", latencyMs),
	}

	logger := logging.L(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		metrics.CacheWritesTotal.WithLabelValues("failed").Inc()
		metrics.CacheWriteFailuresTotal.Inc()
		logger.Error("cache_write_failed", append(fields, zap.Error(err))...)
		return
	}

	metrics.CacheWritesTotal.WithLabelValues("succeeded").Inc()
	logger.Debug("cache_write", fields...)
}

func (w *Writer) insertRow(ctx context.Context, job writeJob) error {
	output, err := json.Marshal(job.output)
	if err != nil {
		return &SerializationError{Message: "failed to serialize output", Err: err}
	}

	return w.store.Insert(ctx, analytics.ModelInferenceCacheTable, modelInferenceCacheRow{
		ShortCacheKey: job.shortKey,
		LongCacheKey:  job.longKey,
		Output:        string(output),
		RawRequest:    job.rawRequest,
		RawResponse:   job.rawResponse,
	})
}

// Wait blocks until every scheduled insert has finished or ctx is done.
func (w *Writer) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
