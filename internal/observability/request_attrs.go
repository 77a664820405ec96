package observability

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RequestInfo describes one endpoint request for spans and logs.
type RequestInfo struct {
	Endpoint   string
	Format     string
	ParamCount int
	Paginated  bool
	PageNumber int
	PageSize   int
}

// RequestSpanAttributes builds canonical span attributes for an endpoint request.
func RequestSpanAttributes(info RequestInfo) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 5)
	if info.Endpoint != "" {
		attrs = append(attrs, attribute.String("galaxy.endpoint", info.Endpoint))
	}
	if info.Format != "" {
		attrs = append(attrs, attribute.String("galaxy.format", info.Format))
	}
	attrs = append(attrs, attribute.Int("galaxy.param_count", info.ParamCount))
	if info.Paginated {
		attrs = append(attrs,
			attribute.Int("galaxy.page.number", info.PageNumber),
			attribute.Int("galaxy.page.size", info.PageSize),
		)
	}
	return attrs
}

// RequestLogFields builds canonical structured log fields for an endpoint request.
func RequestLogFields(ctx context.Context, info RequestInfo) []any {
	fields := make([]any, 0, 5)
	if info.Endpoint != "" {
		fields = append(fields, slog.String("endpoint", info.Endpoint))
	}
	if info.Format != "" {
		fields = append(fields, slog.String("format", info.Format))
	}
	if info.Paginated {
		fields = append(fields, slog.Int("page", info.PageNumber), slog.Int("page_size", info.PageSize))
	}

	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.IsValid() {
		fields = append(fields, slog.String("trace_id", spanCtx.TraceID().String()))
	}
	return fields
}
