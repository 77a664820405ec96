package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope for service metrics.
const MeterName = "galaxy-api"

// EndpointMetrics holds custom metrics for endpoint requests and the queries
// behind them. A nil *EndpointMetrics records nothing.
type EndpointMetrics struct {
	requestDuration metric.Float64Histogram
	requestCounter  metric.Int64Counter
	errorCounter    metric.Int64Counter
	activeRequests  metric.Int64UpDownCounter
	queryDuration   metric.Float64Histogram
	queryRows       metric.Int64Histogram
	cacheHits       metric.Int64Counter
	cacheMisses     metric.Int64Counter
	cacheErrors     metric.Int64Counter
	selectFetches   metric.Int64Counter
	filtersSkipped  metric.Int64Counter
}

// InitEndpointMetrics initializes endpoint-specific metrics.
func InitEndpointMetrics() (*EndpointMetrics, error) {
	meter := otel.Meter(MeterName)

	requestDuration, err := meter.Float64Histogram(
		"galaxy.request.duration",
		metric.WithDescription("Duration of endpoint requests in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request duration histogram: %w", err)
	}

	requestCounter, err := meter.Int64Counter(
		"galaxy.requests.total",
		metric.WithDescription("Total number of endpoint requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request counter: %w", err)
	}

	errorCounter, err := meter.Int64Counter(
		"galaxy.errors.total",
		metric.WithDescription("Total number of failed endpoint requests by error type"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create error counter: %w", err)
	}

	activeRequests, err := meter.Int64UpDownCounter(
		"galaxy.requests.active",
		metric.WithDescription("Number of active endpoint requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create active requests counter: %w", err)
	}

	queryDuration, err := meter.Float64Histogram(
		"galaxy.query.duration",
		metric.WithDescription("Duration of database queries in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create query duration histogram: %w", err)
	}

	queryRows, err := meter.Int64Histogram(
		"galaxy.query.rows",
		metric.WithDescription("Number of rows returned by database queries"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create query rows histogram: %w", err)
	}

	cacheHits, err := meter.Int64Counter(
		"galaxy.cache.hits",
		metric.WithDescription("Number of query cache hits"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache hits counter: %w", err)
	}

	cacheMisses, err := meter.Int64Counter(
		"galaxy.cache.misses",
		metric.WithDescription("Number of query cache misses"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache misses counter: %w", err)
	}

	cacheErrors, err := meter.Int64Counter(
		"galaxy.cache.errors",
		metric.WithDescription("Number of failed query cache reads and writes"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache errors counter: %w", err)
	}

	selectFetches, err := meter.Int64Counter(
		"galaxy.select.fetches",
		metric.WithDescription("Number of nested endpoint fetches made for selects"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create select fetches counter: %w", err)
	}

	filtersSkipped, err := meter.Int64Counter(
		"galaxy.filters.skipped",
		metric.WithDescription("Number of requests whose filters could not be applied"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create filters skipped counter: %w", err)
	}

	return &EndpointMetrics{
		requestDuration: requestDuration,
		requestCounter:  requestCounter,
		errorCounter:    errorCounter,
		activeRequests:  activeRequests,
		queryDuration:   queryDuration,
		queryRows:       queryRows,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		cacheErrors:     cacheErrors,
		selectFetches:   selectFetches,
		filtersSkipped:  filtersSkipped,
	}, nil
}

// InitMetrics initializes all custom metrics and returns the EndpointMetrics instance
func InitMetrics(logger *slog.Logger) (*EndpointMetrics, error) {
	metrics, err := InitEndpointMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize endpoint metrics: %w", err)
	}

	logger.Info("custom endpoint metrics initialized")
	return metrics, nil
}

// RecordRequest records an endpoint request with its duration and outcome.
func (m *EndpointMetrics) RecordRequest(ctx context.Context, duration time.Duration, endpoint, format string, status int) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("endpoint", endpoint),
		attribute.String("format", format),
		attribute.Int("status", status),
	}
	m.requestDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
	m.requestCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordError records a failed request by error type.
func (m *EndpointMetrics) RecordError(ctx context.Context, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.errorCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("error_type", errorType),
	))
}

// IncrementActiveRequests increments the active requests counter
func (m *EndpointMetrics) IncrementActiveRequests(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeRequests.Add(ctx, 1)
}

// DecrementActiveRequests decrements the active requests counter
func (m *EndpointMetrics) DecrementActiveRequests(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeRequests.Add(ctx, -1)
}

// RecordQuery records one database round trip.
func (m *EndpointMetrics) RecordQuery(ctx context.Context, endpoint string, duration time.Duration, rows int, failed bool) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("endpoint", endpoint),
		attribute.Bool("failed", failed),
	}
	m.queryDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
	if !failed {
		m.queryRows.Record(ctx, int64(rows), metric.WithAttributes(attribute.String("endpoint", endpoint)))
	}
}

func (m *EndpointMetrics) RecordCacheHit(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	m.cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

func (m *EndpointMetrics) RecordCacheMiss(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	m.cacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

func (m *EndpointMetrics) RecordCacheError(ctx context.Context, endpoint, op string) {
	if m == nil {
		return
	}
	m.cacheErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("op", op),
	))
}

func (m *EndpointMetrics) RecordSelectFetch(ctx context.Context, endpoint, target string) {
	if m == nil {
		return
	}
	m.selectFetches.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("target", target),
	))
}

func (m *EndpointMetrics) RecordFiltersSkipped(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	m.filtersSkipped.Add(ctx, 1, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}
