package middleware

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/Saloed/GalaxyAPI/internal/logging"
	"github.com/Saloed/GalaxyAPI/internal/observability"
)

// AuthContext records which credential let a request through.
type AuthContext struct {
	Subject string
	Scheme  string
}

type authCtxKey struct{}

// WithAuthContext stores auth in ctx.
func WithAuthContext(ctx context.Context, auth AuthContext) context.Context {
	return context.WithValue(ctx, authCtxKey{}, auth)
}

// AuthFromContext returns the AuthContext set by a credential middleware.
func AuthFromContext(ctx context.Context) (AuthContext, bool) {
	auth, ok := ctx.Value(authCtxKey{}).(AuthContext)
	return auth, ok
}

// secretCheck compares one request header against a shared secret and
// records the outcome. The API key and admin token middlewares share it.
type secretCheck struct {
	scheme  string
	subject string
	header  string
	digest  [sha256.Size]byte
	metrics *observability.SecurityMetrics
}

func newSecretCheck(scheme, subject, secret, header, defaultHeader string, metrics *observability.SecurityMetrics) (*secretCheck, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New(strings.ReplaceAll(scheme, "_", " ") + " is required")
	}
	header = strings.TrimSpace(header)
	if header == "" {
		header = defaultHeader
	}
	return &secretCheck{
		scheme:  scheme,
		subject: subject,
		header:  header,
		digest:  sha256.Sum256([]byte(secret)),
		metrics: metrics,
	}, nil
}

// authorize reports whether r carries the secret. On success the returned
// context holds an AuthContext for the scheme.
func (c *secretCheck) authorize(r *http.Request) (context.Context, bool) {
	ctx := r.Context()
	provided := strings.TrimSpace(r.Header.Get(c.header))
	got := sha256.Sum256([]byte(provided))

	switch {
	case provided == "":
		c.reject(r, observability.AuthMissing)
		return ctx, false
	case subtle.ConstantTimeCompare(got[:], c.digest[:]) != 1:
		c.reject(r, observability.AuthInvalid)
		return ctx, false
	}
	c.metrics.RecordAuth(ctx, c.scheme, r.URL.Path, observability.AuthGranted)
	return WithAuthContext(ctx, AuthContext{Subject: c.subject, Scheme: c.scheme}), true
}

func (c *secretCheck) reject(r *http.Request, outcome observability.AuthOutcome) {
	c.metrics.RecordAuth(r.Context(), c.scheme, r.URL.Path, outcome)
	logging.FromContext(r.Context()).Warn("credential rejected",
		"scheme", c.scheme,
		"path", r.URL.Path,
		"outcome", string(outcome))
}
