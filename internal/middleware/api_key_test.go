package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func apiKeyHandler(t *testing.T, cfg APIKeyConfig) http.Handler {
	t.Helper()
	mw, err := APIKeyMiddleware(cfg)
	require.NoError(t, err)
	return mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth, ok := AuthFromContext(r.Context())
		assert.True(t, ok)
		assert.Equal(t, "api_key", auth.Scheme)
		w.WriteHeader(http.StatusOK)
	}))
}

func TestAPIKeyMiddleware(t *testing.T) {
	handler := apiKeyHandler(t, APIKeyConfig{Key: "k-123"})

	tests := []struct {
		name     string
		target   string
		key      string
		wantCode int
		wantType string
		wantBody string
	}{
		{name: "valid", target: "/api/students", key: "k-123", wantCode: http.StatusOK},
		{
			name:     "missing",
			target:   "/api/students",
			wantCode: http.StatusForbidden,
			wantType: "application/json",
			wantBody: `{"detail":"You do not have permission to perform this action."}` + "\n",
		},
		{
			name:     "wrong",
			target:   "/api/students",
			key:      "k-124",
			wantCode: http.StatusForbidden,
			wantType: "application/json",
			wantBody: `{"detail":"You do not have permission to perform this action."}` + "\n",
		},
		{
			name:     "xml body",
			target:   "/api/students?format=xml",
			key:      "nope",
			wantCode: http.StatusForbidden,
			wantType: "application/xml; charset=utf-8",
			wantBody: "<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n<root>\n  <error>You do not have permission to perform this action.</error>\n</root>\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.key != "" {
				req.Header.Set(DefaultAPIKeyHeader, tt.key)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantType, rec.Header().Get("Content-Type"))
				assert.Equal(t, tt.wantBody, rec.Body.String())
			}
		})
	}
}

func TestAPIKeyMiddleware_CustomHeader(t *testing.T) {
	handler := apiKeyHandler(t, APIKeyConfig{Key: "k-123", HeaderName: "Authorization-Key"})

	req := httptest.NewRequest(http.MethodGet, "/api/students", nil)
	req.Header.Set("Authorization-Key", "k-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIKeyMiddleware_RequiresKey(t *testing.T) {
	_, err := APIKeyMiddleware(APIKeyConfig{})
	assert.Error(t, err)
}
