package middleware

import (
	"net/http"

	"github.com/Saloed/GalaxyAPI/internal/observability"
	"github.com/Saloed/GalaxyAPI/internal/render"
)

const (
	// DefaultAPIKeyHeader carries the client API key.
	DefaultAPIKeyHeader = "X-Api-Key"

	permissionDenied = "You do not have permission to perform this action."
)

// APIKeyConfig configures the API key check of the data endpoints.
type APIKeyConfig struct {
	Key        string
	HeaderName string
	Metrics    *observability.SecurityMetrics
}

// APIKeyMiddleware rejects requests whose API key header does not match the
// configured key with 403. The body follows the negotiated response format.
func APIKeyMiddleware(cfg APIKeyConfig) (func(http.Handler) http.Handler, error) {
	check, err := newSecretCheck("api_key", "api_key", cfg.Key, cfg.HeaderName, DefaultAPIKeyHeader, cfg.Metrics)
	if err != nil {
		return nil, err
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, ok := check.authorize(r)
			if !ok {
				writeForbidden(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}, nil
}

func writeForbidden(w http.ResponseWriter, r *http.Request) {
	format, _ := render.Negotiate(r)
	w.Header().Set("Content-Type", format.ContentType())
	w.WriteHeader(http.StatusForbidden)
	_ = render.WriteError(w, format, permissionDenied)
}
