package cache

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"modelcache-gateway/internal/analytics"
	"modelcache-gateway/internal/metrics"
	"modelcache-gateway/pkg/logging/logging"
)

// LoggingStore wraps an analytics.Store with logging, metrics and spans.
type LoggingStore struct {
	inner   analytics.Store
	backend string
	tracer  trace.Tracer
}

// NewLoggingStore returns a store that logs and records metrics. backend is
// used as a metric label. Spans go to cfg.TracerProvider, like the reader
// and writer built from the same Config.
func NewLoggingStore(inner analytics.Store, backend string, cfg Config) analytics.Store {
	cfg = cfg.withDefaults()
	return &LoggingStore{
		inner:   inner,
		backend: backend,
		tracer:  cfg.TracerProvider.Tracer(tracerName),
	}
}

func (s *LoggingStore) Dialect() analytics.Dialect { return s.inner.Dialect() }

func (s *LoggingStore) Insert(ctx context.Context, table string, rows ...any) error {
	ctx, span := s.tracer.Start(ctx, "analytics.insert", trace.WithAttributes(
		attribute.String("db.system", s.backend),
		attribute.String("db.table", table),
		attribute.Int("db.rows", len(rows)),
	))
	defer span.End()

	start := time.Now()
	err := s.inner.Insert(ctx, table, rows...)
	latencyMs := logging.Millis(time.Since(start))

	result := "ok"
	if err != nil {
		result = "error"
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	}
	metrics.AnalyticsStoreOpsTotal.WithLabelValues(s.backend, "insert", result).Inc()

	fields := []zap.Field{
		zap.String("backend", s.backend),
		zap.String("table", table),
		zap.Int("rows", len(rows)),
		zap.Float64("latency_ms", latencyMs),
	}

	logger := logging.L(ctx)
	if err != nil {
		logger.Error("analytics_insert", append(fields, zap.Error(err))...)
	} else {
		logger.Debug("analytics_insert", fields...)
	}
	return err
}

func (s *LoggingStore) Query(ctx context.Context, query string, params analytics.Params) (string, error) {
	ctx, span := s.tracer.Start(ctx, "analytics.query", trace.WithAttributes(
		attribute.String("db.system", s.backend),
	))
	defer span.End()

	start := time.Now()
	out, err := s.inner.Query(ctx, query, params)
	latencyMs := logging.Millis(time.Since(start))

	result := "ok"
	switch {
	case err != nil:
		result = "error"
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	case strings.TrimSpace(out) == "":
		result = "empty"
	}
	metrics.AnalyticsStoreOpsTotal.WithLabelValues(s.backend, "query", result).Inc()

	fields := []zap.Field{
		zap.String("backend", s.backend),
		zap.String("query_result", result), // ok | empty | error
		zap.Float64("latency_ms", latencyMs),
	}

	logger := logging.L(ctx)
	if err != nil {
		logger.Error("analytics_query", append(fields, zap.Error(err))...)
	} else {
		logger.Debug("analytics_query", fields...)
	}
	return out, err
}
