package observability

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// RegistryMetrics describes description reloads. A nil *RegistryMetrics
// records nothing.
type RegistryMetrics struct {
	reloads     metric.Int64Counter
	duration    metric.Float64Histogram
	lastSuccess metric.Int64Gauge
	endpoints   metric.Int64Gauge
}

// InitRegistryMetrics registers the reload instruments.
func InitRegistryMetrics(logger *slog.Logger) (*RegistryMetrics, error) {
	meter := otel.Meter(MeterName + "/registry")

	reloads, err1 := meter.Int64Counter("galaxy.descriptions.reloads",
		metric.WithDescription("Description reload attempts by trigger and outcome"))
	duration, err2 := meter.Float64Histogram("galaxy.descriptions.reload.duration",
		metric.WithDescription("Time to load and validate the description tree"),
		metric.WithUnit("s"))
	lastSuccess, err3 := meter.Int64Gauge("galaxy.descriptions.last_success",
		metric.WithDescription("Unix time of the last accepted reload"),
		metric.WithUnit("s"))
	endpoints, err4 := meter.Int64Gauge("galaxy.descriptions.endpoints",
		metric.WithDescription("Endpoints in the active registry"))
	if err := errors.Join(err1, err2, err3, err4); err != nil {
		return nil, err
	}

	logger.Debug("registry metrics initialized")
	return &RegistryMetrics{
		reloads:     reloads,
		duration:    duration,
		lastSuccess: lastSuccess,
		endpoints:   endpoints,
	}, nil
}

// RecordReload records one reload. trigger is "startup", "poll" or
// "manual"; endpoints is the size of the accepted registry.
func (m *RegistryMetrics) RecordReload(ctx context.Context, took time.Duration, success bool, trigger string, endpoints int) {
	if m == nil {
		return
	}
	outcome := "accepted"
	if !success {
		outcome = "rejected"
	}
	attrs := metric.WithAttributes(
		attribute.String("trigger", trigger),
		attribute.String("outcome", outcome),
	)
	m.reloads.Add(ctx, 1, attrs)
	m.duration.Record(ctx, took.Seconds(), attrs)
	if success {
		m.lastSuccess.Record(ctx, time.Now().Unix())
		m.endpoints.Record(ctx, int64(endpoints))
	}
}
