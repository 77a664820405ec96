package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{" warning ", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec), line)
		out = append(out, rec)
	}
	return out
}

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Level: "warn", Format: "json", Output: &buf})

	logger.Info("dropped")
	logger.WithRequestID("req-1").WithFields("endpoint", "students").Warn("kept")

	recs := decodeLines(t, &buf)
	require.Len(t, recs, 1)
	assert.Equal(t, "kept", recs[0]["msg"])
	assert.Equal(t, "WARN", recs[0]["level"])
	assert.Equal(t, "req-1", recs[0]["request_id"])
	assert.Equal(t, "students", recs[0]["endpoint"])
	assert.NotContains(t, recs[0], "source")
}

func TestNewLoggerTextWithSourceAtDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Level: "debug", Output: &buf})

	logger.Debug("hello", "n", 3)

	line := buf.String()
	assert.Contains(t, line, "level=DEBUG")
	assert.Contains(t, line, "msg=hello")
	assert.Contains(t, line, "n=3")
	assert.Contains(t, line, "source=")
}

type recordingHandler struct {
	level   slog.Level
	records *[]slog.Record
	attrs   []slog.Attr
}

func (h recordingHandler) Enabled(_ context.Context, l slog.Level) bool { return l >= h.level }

func (h recordingHandler) Handle(_ context.Context, r slog.Record) error {
	r.AddAttrs(h.attrs...)
	*h.records = append(*h.records, r)
	return nil
}

func (h recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return h
}

func (h recordingHandler) WithGroup(string) slog.Handler { return h }

func TestFanout(t *testing.T) {
	var low, high []slog.Record
	h := fanout{
		recordingHandler{level: slog.LevelDebug, records: &low},
		recordingHandler{level: slog.LevelError, records: &high},
	}
	logger := slog.New(h).With("svc", "galaxy")

	assert.True(t, h.Enabled(context.Background(), slog.LevelDebug))
	logger.Info("info")
	logger.Error("boom")

	require.Len(t, low, 2)
	require.Len(t, high, 1)
	assert.Equal(t, "boom", high[0].Message)

	var svc string
	high[0].Attrs(func(a slog.Attr) bool {
		if a.Key == "svc" {
			svc = a.Value.String()
		}
		return true
	})
	assert.Equal(t, "galaxy", svc)
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	fallback := Discard()

	assert.Same(t, fallback, FromContextOr(ctx, fallback))
	assert.NotNil(t, FromContext(ctx))
	assert.Empty(t, GetRequestID(ctx))

	logger := Discard()
	ctx = WithLogger(ctx, logger)
	ctx = WithRequestIDContext(ctx, "abc")

	assert.Same(t, logger, FromContext(ctx))
	assert.Same(t, logger, FromContextOr(ctx, fallback))
	assert.Equal(t, "abc", GetRequestID(ctx))
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	assert.False(t, logger.Enabled(context.Background(), slog.LevelError))
	logger.Error("nothing happens")
}
