package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// AuthOutcome labels the result of a credential check.
type AuthOutcome string

const (
	AuthGranted AuthOutcome = "granted"
	AuthMissing AuthOutcome = "missing"
	AuthInvalid AuthOutcome = "invalid"
)

// SecurityMetrics counts credential checks, throttled requests and admin
// operations. Methods on a nil receiver are no-ops.
type SecurityMetrics struct {
	authChecks metric.Int64Counter
	throttled  metric.Int64Counter
	adminOps   metric.Int64Counter
}

// InitSecurityMetrics registers the counters on the global meter provider.
func InitSecurityMetrics() (*SecurityMetrics, error) {
	meter := otel.Meter(MeterName + "/security")
	var (
		m   SecurityMetrics
		err error
	)
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.authChecks, "galaxy.auth.checks", "Credential checks by scheme and outcome"},
		{&m.throttled, "galaxy.ratelimit.rejections", "Requests rejected by the rate limiter"},
		{&m.adminOps, "galaxy.admin.operations", "Admin operations by outcome"},
	}
	for _, c := range counters {
		if *c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, fmt.Errorf("create %s counter: %w", c.name, err)
		}
	}
	return &m, nil
}

// RecordAuth counts one credential check for the given scheme.
func (m *SecurityMetrics) RecordAuth(ctx context.Context, scheme, path string, outcome AuthOutcome) {
	if m == nil {
		return
	}
	m.authChecks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scheme", scheme),
		attribute.String("path", path),
		attribute.String("outcome", string(outcome)),
	))
}

// RecordThrottled counts a request answered with 429.
func (m *SecurityMetrics) RecordThrottled(ctx context.Context, path string) {
	if m == nil {
		return
	}
	m.throttled.Add(ctx, 1, metric.WithAttributes(attribute.String("path", path)))
}

// RecordAdminOperation counts an admin action such as a description reload.
func (m *SecurityMetrics) RecordAdminOperation(ctx context.Context, operation string, ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	m.adminOps.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
}
