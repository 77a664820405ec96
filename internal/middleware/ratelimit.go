package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Saloed/GalaxyAPI/internal/observability"
	"github.com/Saloed/GalaxyAPI/internal/render"
)

const (
	throttled = "Request was throttled."

	defaultRateLimitIdleTTL = 10 * time.Minute
	rateLimitSweepSize      = 1024
)

// RateLimitConfig configures per-client token buckets. Clients are told
// apart by IP address. With TrustProxyHeaders the address is the last hop
// of X-Forwarded-For, the one appended by the fronting proxy.
type RateLimitConfig struct {
	Enabled           bool
	RPS               float64
	Burst             int
	TrustProxyHeaders bool
	IdleTTL           time.Duration
	Metrics           *observability.SecurityMetrics
}

// RateLimitMiddleware throttles each client with its own token bucket and
// answers 429 in the negotiated format once the bucket is empty.
func RateLimitMiddleware(cfg RateLimitConfig) func(http.Handler) http.Handler {
	if !cfg.Enabled || cfg.RPS <= 0 || cfg.Burst <= 0 {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	limiter := newClientLimiter(cfg, time.Now)
	retryAfter := strconv.Itoa(int(1/cfg.RPS) + 1)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(limiter.clientKey(r)) {
				cfg.Metrics.RecordThrottled(r.Context(), r.URL.Path)
				format, _ := render.Negotiate(r)
				w.Header().Set("Content-Type", format.ContentType())
				w.Header().Set("Retry-After", retryAfter)
				w.WriteHeader(http.StatusTooManyRequests)
				_ = render.WriteError(w, format, throttled)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type clientLimiter struct {
	mu         sync.Mutex
	rate       float64
	burst      float64
	trustProxy bool
	idleTTL    time.Duration
	now        func() time.Time
	buckets    map[string]*tokenBucket
}

type tokenBucket struct {
	tokens float64
	last   time.Time
}

func newClientLimiter(cfg RateLimitConfig, now func() time.Time) *clientLimiter {
	idle := cfg.IdleTTL
	if idle <= 0 {
		idle = defaultRateLimitIdleTTL
	}
	return &clientLimiter{
		rate:       cfg.RPS,
		burst:      float64(cfg.Burst),
		trustProxy: cfg.TrustProxyHeaders,
		idleTTL:    idle,
		now:        now,
		buckets:    make(map[string]*tokenBucket),
	}
}

// clientKey must not depend on credential headers; they are unverified
// here and a caller could pick a fresh bucket per request.
func (l *clientLimiter) clientKey(r *http.Request) string {
	if l.trustProxy {
		if fwd := r.Header.Values("X-Forwarded-For"); len(fwd) > 0 {
			hops := strings.Split(fwd[len(fwd)-1], ",")
			if last := strings.TrimSpace(hops[len(hops)-1]); last != "" {
				return "ip:" + last
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// Allow takes one token from the bucket of client.
func (l *clientLimiter) Allow(client string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[client]
	if !ok {
		if len(l.buckets) >= rateLimitSweepSize {
			l.sweep(now)
		}
		b = &tokenBucket{tokens: l.burst, last: now}
		l.buckets[client] = b
	}

	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens = min(l.burst, b.tokens+elapsed*l.rate)
		b.last = now
	}
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// sweep drops buckets idle for longer than idleTTL.
func (l *clientLimiter) sweep(now time.Time) {
	for client, b := range l.buckets {
		if now.Sub(b.last) > l.idleTTL {
			delete(l.buckets, client)
		}
	}
}
