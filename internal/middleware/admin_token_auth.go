package middleware

import (
	"net/http"

	"github.com/Saloed/GalaxyAPI/internal/observability"
)

// DefaultAdminTokenHeader carries the admin token on /admin routes.
const DefaultAdminTokenHeader = "X-Admin-Token"

// AdminTokenAuthConfig configures the shared token guarding admin routes.
type AdminTokenAuthConfig struct {
	Token      string
	HeaderName string
	Metrics    *observability.SecurityMetrics
}

// AdminTokenAuthMiddleware answers 401 unless the request carries the
// configured admin token.
func AdminTokenAuthMiddleware(cfg AdminTokenAuthConfig) (func(http.Handler) http.Handler, error) {
	check, err := newSecretCheck("admin_token", "admin", cfg.Token, cfg.HeaderName, DefaultAdminTokenHeader, cfg.Metrics)
	if err != nil {
		return nil, err
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, ok := check.authorize(r)
			if !ok {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"detail":"Invalid admin token."}`))
				return
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}, nil
}
