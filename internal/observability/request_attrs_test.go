package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

func TestRequestSpanAttributes(t *testing.T) {
	attrs := RequestSpanAttributes(RequestInfo{
		Endpoint:   "students",
		Format:     "xml",
		ParamCount: 2,
		Paginated:  true,
		PageNumber: 3,
		PageSize:   20,
	})
	assert.Contains(t, attrs, attribute.String("galaxy.endpoint", "students"))
	assert.Contains(t, attrs, attribute.Int("galaxy.page.number", 3))
	assert.Contains(t, attrs, attribute.String("galaxy.format", "xml"))
	assert.Len(t, attrs, 5)

	attrs = RequestSpanAttributes(RequestInfo{Endpoint: "students"})
	assert.Len(t, attrs, 2)
}

func TestRequestLogFieldsIncludesTraceID(t *testing.T) {
	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: trace.TraceID{1, 2, 3},
		SpanID:  trace.SpanID{4, 5, 6},
		Remote:  true,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), spanCtx)
	fields := RequestLogFields(ctx, RequestInfo{Endpoint: "students", Format: "json"})
	assert.Len(t, fields, 3)
}
