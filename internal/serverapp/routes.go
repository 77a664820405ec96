package serverapp

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Saloed/GalaxyAPI/internal/api"
	"github.com/Saloed/GalaxyAPI/internal/config"
	"github.com/Saloed/GalaxyAPI/internal/engine"
	"github.com/Saloed/GalaxyAPI/internal/logging"
	"github.com/Saloed/GalaxyAPI/internal/middleware"
	"github.com/Saloed/GalaxyAPI/internal/observability"
	"github.com/Saloed/GalaxyAPI/internal/querycache"
	"github.com/Saloed/GalaxyAPI/internal/registry"
	"github.com/Saloed/GalaxyAPI/internal/tlscert"
)

const (
	healthPath  = "/health"
	metricsPath = "/metrics"
	reloadPath  = "/admin/reload-descriptions"

	reloadTimeout = 15 * time.Second
)

// pinger is implemented by caches with a remote backend.
type pinger interface {
	Ping(ctx context.Context) error
}

type descriptionReloader interface {
	RefreshNowContext(ctx context.Context) (*registry.Snapshot, error)
}

// routes holds the handlers mounted on the root router. Admin is nil when
// the reload endpoint is disabled.
type routes struct {
	API     http.Handler
	Admin   http.Handler
	Health  http.Handler
	Metrics bool
}

func buildAPIHandler(cfg *config.Config, logger *logging.Logger, eng *engine.Engine, source engine.Source, endpointMetrics *observability.EndpointMetrics, securityMetrics *observability.SecurityMetrics) (http.Handler, error) {
	var handler http.Handler = api.NewRouter(api.Config{
		Engine:            eng,
		Source:            source,
		PageParam:         cfg.API.PageParam,
		PageSizeParam:     cfg.API.PageSizeParam,
		DefaultPageSize:   cfg.API.DefaultPageSize,
		MaxPageSize:       cfg.API.MaxPageSize,
		TrustProxyHeaders: cfg.API.TrustProxyHeaders,
		Logger:            logger,
		Metrics:           endpointMetrics,
	})

	// request -> logging -> rate limit -> api key -> api router
	if cfg.API.KeyRequired {
		apiKey, err := middleware.APIKeyMiddleware(middleware.APIKeyConfig{
			Key:        cfg.API.Key,
			HeaderName: cfg.API.KeyHeader,
			Metrics:    securityMetrics,
		})
		if err != nil {
			return nil, err
		}
		handler = apiKey(handler)
		logger.Info("API key middleware enabled", slog.String("header", cfg.API.KeyHeader))
	} else {
		logger.Warn("endpoints are served without an API key - consider enabling api.key_required")
	}

	if cfg.Server.RateLimit.Enabled {
		handler = middleware.RateLimitMiddleware(middleware.RateLimitConfig{
			Enabled:           true,
			RPS:               cfg.Server.RateLimit.RPS,
			Burst:             cfg.Server.RateLimit.Burst,
			TrustProxyHeaders: cfg.API.TrustProxyHeaders,
			IdleTTL:           cfg.Server.RateLimit.IdleTTL,
			Metrics:           securityMetrics,
		})(handler)
		logger.Info("rate limiting enabled",
			slog.Float64("rps", cfg.Server.RateLimit.RPS),
			slog.Int("burst", cfg.Server.RateLimit.Burst),
		)
	}

	return middleware.LoggingMiddleware(logger)(handler), nil
}

func buildAdminHandler(cfg *config.Config, logger *logging.Logger, reloader descriptionReloader, securityMetrics *observability.SecurityMetrics) (http.Handler, error) {
	if !cfg.Server.Admin.ReloadEnabled {
		return nil, nil
	}
	auth, err := middleware.AdminTokenAuthMiddleware(middleware.AdminTokenAuthConfig{
		Token:      cfg.Server.Admin.AuthToken,
		HeaderName: cfg.Server.Admin.HeaderName,
		Metrics:    securityMetrics,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("admin reload endpoint enabled", slog.String("path", reloadPath))
	return middleware.LoggingMiddleware(logger)(auth(reloadHandler(reloader, securityMetrics))), nil
}

func buildRouter(cfg *config.Config, logger *logging.Logger, rt routes) chi.Router {
	basePath := apiBasePath(cfg)

	r := chi.NewRouter()
	if rt.Health != nil {
		r.Method(http.MethodGet, healthPath, rt.Health)
	}
	if rt.Admin != nil {
		r.Method(http.MethodPost, reloadPath, rt.Admin)
	}
	if rt.Metrics {
		r.Handle(metricsPath, promhttp.Handler())
		logger.Info("metrics endpoint enabled", slog.String("path", metricsPath))
	}
	if rt.API != nil {
		r.Mount(basePath, rt.API)
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, basePath+"/", http.StatusFound)
		})
	}
	return r
}

func apiBasePath(cfg *config.Config) string {
	basePath := "/" + strings.Trim(cfg.API.BasePath, "/")
	if basePath == "/" {
		return "/api"
	}
	return basePath
}

func wrapHTTPHandler(cfg *config.Config, logger *logging.Logger, handler http.Handler) http.Handler {
	if !cfg.Observability.MetricsEnabled && !cfg.Observability.TracingEnabled {
		return handler
	}

	basePath := apiBasePath(cfg)
	handler = otelhttp.NewHandler(handler, "http.server",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return httpRootSpanName(basePath, r)
		}),
		otelhttp.WithMessageEvents(otelhttp.ReadEvents, otelhttp.WriteEvents),
	)
	logger.Info("HTTP instrumentation enabled")
	return handler
}

func httpRootSpanName(basePath string, r *http.Request) string {
	if r == nil {
		return "HTTP /*"
	}

	method := strings.TrimSpace(r.Method)
	if method == "" {
		method = "HTTP"
	}

	return method + " " + normalizeHTTPSpanRoute(basePath, r.URL.Path)
}

// normalizeHTTPSpanRoute keeps span names low-cardinality: endpoint names
// collapse into a single route.
func normalizeHTTPSpanRoute(basePath, rawPath string) string {
	switch rawPath {
	case "/", healthPath, metricsPath, reloadPath:
		return rawPath
	case basePath, basePath + "/":
		return basePath + "/"
	}
	if rest, ok := strings.CutPrefix(rawPath, basePath+"/"); ok && !strings.Contains(strings.TrimSuffix(rest, "/"), "/") {
		return basePath + "/{endpoint}"
	}
	return "/*"
}

func buildServer(cfg *config.Config, logger *logging.Logger, handler http.Handler, serverAddr string) (*http.Server, error) {
	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	if tlsEnabled(cfg) {
		tlsConfig, err := tlscert.Load(tlscert.Files{
			CertFile: cfg.Server.TLSCertFile,
			KeyFile:  cfg.Server.TLSKeyFile,
		}, logger)
		if err != nil {
			return nil, err
		}
		srv.TLSConfig = tlsConfig
		logger.Info("TLS enabled",
			slog.String("mode", cfg.Server.TLSMode),
			slog.String("cert_file", cfg.Server.TLSCertFile))
	}

	return srv, nil
}

func tlsEnabled(cfg *config.Config) bool {
	return cfg.Server.TLSMode != "" && cfg.Server.TLSMode != "off"
}

// healthHandler returns an HTTP handler for health checks. A remote cache
// is checked as well; cache may be nil.
func healthHandler(db *sql.DB, cache querycache.Cache, timeout time.Duration) http.HandlerFunc {
	remote, _ := cache.(pinger)
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := logging.FromContext(r.Context())
		w.Header().Set("Content-Type", "application/json")

		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		status := map[string]string{"status": "healthy", "database": "ok"}
		healthy := true

		if err := db.PingContext(ctx); err != nil {
			reqLogger.Error("health check failed",
				slog.String("error", err.Error()),
				slog.String("check", "database"),
			)
			status["database"] = "failed"
			healthy = false
		}
		if remote != nil {
			status["cache"] = "ok"
			if err := remote.Ping(ctx); err != nil {
				reqLogger.Error("health check failed",
					slog.String("error", err.Error()),
					slog.String("check", "cache"),
				)
				status["cache"] = "failed"
				healthy = false
			}
		}

		code := http.StatusOK
		if !healthy {
			// Generic values only, no internal details.
			status["status"] = "unhealthy"
			code = http.StatusServiceUnavailable
		} else {
			reqLogger.Debug("health check passed")
		}
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	}
}

func reloadHandler(reloader descriptionReloader, securityMetrics *observability.SecurityMetrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := logging.FromContext(r.Context())
		w.Header().Set("Content-Type", "application/json")

		authCtx, authenticated := middleware.AuthFromContext(r.Context())
		logAttrs := []any{
			slog.String("operation", "description_reload"),
			slog.String("remote_addr", r.RemoteAddr),
			slog.Bool("authenticated", authenticated),
		}
		if authenticated {
			logAttrs = append(logAttrs,
				slog.String("authenticated_user", authCtx.Subject),
				slog.String("auth_scheme", authCtx.Scheme),
			)
		}
		reqLogger.Info("admin endpoint accessed", logAttrs...)

		refreshCtx, refreshCancel := context.WithTimeout(r.Context(), reloadTimeout)
		defer refreshCancel()

		snapshot, err := reloader.RefreshNowContext(refreshCtx)
		if err != nil {
			securityMetrics.RecordAdminOperation(r.Context(), "description_reload", false)
			reqLogger.Error("description reload failed", slog.String("error", err.Error()))
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = fmt.Fprint(w, `{"status":"error","message":"description reload failed"}`)
			return
		}

		securityMetrics.RecordAdminOperation(r.Context(), "description_reload", true)
		reqLogger.Info("descriptions reloaded successfully", logAttrs...)
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":      "ok",
			"endpoints":   snapshot.Registry.Len(),
			"warnings":    len(snapshot.Warnings),
			"fingerprint": snapshot.Fingerprint,
		})
	}
}
