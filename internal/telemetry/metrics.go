package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/smartautomapper/sam/internal/telemetry"

// ProviderMetrics holds metrics for external provider calls.
// A nil *ProviderMetrics is valid and records nothing.
type ProviderMetrics struct {
	requestDuration metric.Float64Histogram
	requestTotal    metric.Int64Counter
	cacheHitRate    metric.Float64Counter
	cacheMissRate   metric.Float64Counter
}

// NewProviderMetrics creates metrics for monitoring external provider calls.
func NewProviderMetrics() (*ProviderMetrics, error) {
	meter := otel.Meter(meterName)

	requestDuration, err := meter.Float64Histogram(
		"provider.request.duration",
		metric.WithDescription("Duration of provider requests in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	requestTotal, err := meter.Int64Counter(
		"provider.request.total",
		metric.WithDescription("Total number of provider requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	cacheHitRate, err := meter.Float64Counter(
		"provider.cache.hit",
		metric.WithDescription("Number of cache hits"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		return nil, err
	}

	cacheMissRate, err := meter.Float64Counter(
		"provider.cache.miss",
		metric.WithDescription("Number of cache misses"),
		metric.WithUnit("{miss}"),
	)
	if err != nil {
		return nil, err
	}

	return &ProviderMetrics{
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheHitRate:    cacheHitRate,
		cacheMissRate:   cacheMissRate,
	}, nil
}

// RecordRequest records metrics for a provider request.
func (m *ProviderMetrics) RecordRequest(provider, operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("provider.name", provider),
		attribute.String("provider.operation", operation),
	}

	if err != nil {
		attrs = append(attrs, attribute.Bool("error", true))
	}

	// Use background context for metrics to avoid context cancellation issues
	ctx := context.TODO()
	m.requestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.requestTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordCacheHit records a cache hit for a provider.
func (m *ProviderMetrics) RecordCacheHit(provider, operation string) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("provider.name", provider),
		attribute.String("provider.operation", operation),
	}
	m.cacheHitRate.Add(context.TODO(), 1, metric.WithAttributes(attrs...))
}

// RecordCacheMiss records a cache miss for a provider.
func (m *ProviderMetrics) RecordCacheMiss(provider, operation string) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("provider.name", provider),
		attribute.String("provider.operation", operation),
	}
	m.cacheMissRate.Add(context.TODO(), 1, metric.WithAttributes(attrs...))
}

// PipelineMetrics counts what the normalization and reconciliation stages
// accept, drop, and discard. A nil *PipelineMetrics is valid and records nothing.
type PipelineMetrics struct {
	normalizedRoutes  metric.Int64Counter
	dedupRemoved      metric.Int64Counter
	skippedStrategies metric.Int64Counter
	unrecognized      metric.Int64Counter
	incompleteTolls   metric.Int64Counter
	staleResults      metric.Int64Counter
}

// NewPipelineMetrics creates the pipeline counters on the global meter provider.
func NewPipelineMetrics() (*PipelineMetrics, error) {
	meter := otel.Meter(meterName)

	normalizedRoutes, err := meter.Int64Counter(
		"pipeline.routes.normalized",
		metric.WithDescription("Route strategies produced by the normalizer"),
		metric.WithUnit("{route}"),
	)
	if err != nil {
		return nil, err
	}

	dedupRemoved, err := meter.Int64Counter(
		"pipeline.routes.dedup_removed",
		metric.WithDescription("Route strategies removed as geometric duplicates"),
		metric.WithUnit("{route}"),
	)
	if err != nil {
		return nil, err
	}

	skippedStrategies, err := meter.Int64Counter(
		"pipeline.routes.skipped",
		metric.WithDescription("Strategy entries skipped inside a multi-strategy response"),
		metric.WithUnit("{route}"),
	)
	if err != nil {
		return nil, err
	}

	unrecognized, err := meter.Int64Counter(
		"pipeline.routes.unrecognized",
		metric.WithDescription("Upstream payloads with an unrecognized shape"),
		metric.WithUnit("{payload}"),
	)
	if err != nil {
		return nil, err
	}

	incompleteTolls, err := meter.Int64Counter(
		"pipeline.tolls.incomplete",
		metric.WithDescription("Toll records dropped for lack of a usable coordinate pair"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, err
	}

	staleResults, err := meter.Int64Counter(
		"pipeline.autocomplete.stale",
		metric.WithDescription("Autocomplete completions discarded as stale"),
		metric.WithUnit("{result}"),
	)
	if err != nil {
		return nil, err
	}

	return &PipelineMetrics{
		normalizedRoutes:  normalizedRoutes,
		dedupRemoved:      dedupRemoved,
		skippedStrategies: skippedStrategies,
		unrecognized:      unrecognized,
		incompleteTolls:   incompleteTolls,
		staleResults:      staleResults,
	}, nil
}

// RecordNormalized records the strategies produced from one payload of the given shape.
func (m *PipelineMetrics) RecordNormalized(ctx context.Context, shape string, routes int) {
	if m == nil {
		return
	}
	m.normalizedRoutes.Add(ctx, int64(routes), metric.WithAttributes(attribute.String("route.shape", shape)))
}

// RecordDedupRemoved records routes dropped by deduplication.
func (m *PipelineMetrics) RecordDedupRemoved(ctx context.Context, mode string, removed int) {
	if m == nil || removed == 0 {
		return
	}
	m.dedupRemoved.Add(ctx, int64(removed), metric.WithAttributes(attribute.String("dedup.mode", mode)))
}

// RecordSkipped records strategy entries that failed inside a multi-strategy payload.
func (m *PipelineMetrics) RecordSkipped(ctx context.Context, skipped int) {
	if m == nil || skipped == 0 {
		return
	}
	m.skippedStrategies.Add(ctx, int64(skipped))
}

// RecordUnrecognized records a payload that matched no known shape.
func (m *PipelineMetrics) RecordUnrecognized(ctx context.Context) {
	if m == nil {
		return
	}
	m.unrecognized.Add(ctx, 1)
}

// RecordIncompleteTolls records toll records dropped during reconciliation.
func (m *PipelineMetrics) RecordIncompleteTolls(ctx context.Context, incomplete int) {
	if m == nil || incomplete == 0 {
		return
	}
	m.incompleteTolls.Add(ctx, int64(incomplete))
}

// RecordStaleResult records an autocomplete completion that arrived after its query was superseded.
func (m *PipelineMetrics) RecordStaleResult(ctx context.Context, field string) {
	if m == nil {
		return
	}
	m.staleResults.Add(ctx, 1, metric.WithAttributes(attribute.String("autocomplete.field", field)))
}
