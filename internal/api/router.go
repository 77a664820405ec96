// Package api serves endpoints over HTTP: GET {base}/ lists the catalog and
// GET {base}/{endpoint} runs one endpoint and renders it as JSON or XML.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/Saloed/GalaxyAPI/internal/endpoint"
	"github.com/Saloed/GalaxyAPI/internal/engine"
	"github.com/Saloed/GalaxyAPI/internal/logging"
	"github.com/Saloed/GalaxyAPI/internal/observability"
	"github.com/Saloed/GalaxyAPI/internal/render"
)

const (
	DefaultPageParam     = "page"
	DefaultPageSizeParam = "pagesize"
	DefaultPageSize      = 20
	DefaultMaxPageSize   = 1000
)

// Engine runs endpoint requests. *engine.Engine satisfies it.
type Engine interface {
	Lookup(name string) (*endpoint.Endpoint, error)
	Process(ctx context.Context, req engine.Request) (*engine.Result, error)
}

// Config wires the API router.
type Config struct {
	Engine Engine
	// Source feeds the catalog.
	Source          engine.Source
	PageParam       string
	PageSizeParam   string
	DefaultPageSize int
	MaxPageSize     int
	// TrustProxyHeaders makes page links honor X-Forwarded-Proto and
	// X-Forwarded-Host.
	TrustProxyHeaders bool
	Logger            *logging.Logger
	Metrics           *observability.EndpointMetrics
}

type handler struct {
	engine            Engine
	source            engine.Source
	pageParam         string
	pageSizeParam     string
	defaultPageSize   int
	maxPageSize       int
	trustProxyHeaders bool
	logger            *logging.Logger
	metrics           *observability.EndpointMetrics
}

// NewRouter returns the API routes relative to the mount point.
func NewRouter(cfg Config) chi.Router {
	h := newHandler(cfg)

	r := chi.NewRouter()
	r.Use(chimw.StripSlashes)
	r.NotFound(h.notFound)
	r.MethodNotAllowed(h.methodNotAllowed)
	r.Get("/", h.serveCatalog)
	r.Get("/{endpoint}", h.serveEndpoint)
	return r
}

func newHandler(cfg Config) *handler {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	h := &handler{
		engine:            cfg.Engine,
		source:            cfg.Source,
		pageParam:         cfg.PageParam,
		pageSizeParam:     cfg.PageSizeParam,
		defaultPageSize:   cfg.DefaultPageSize,
		maxPageSize:       cfg.MaxPageSize,
		trustProxyHeaders: cfg.TrustProxyHeaders,
		logger:            logger.WithFields(slog.String("component", "api")),
		metrics:           cfg.Metrics,
	}
	if h.pageParam == "" {
		h.pageParam = DefaultPageParam
	}
	if h.pageSizeParam == "" {
		h.pageSizeParam = DefaultPageSizeParam
	}
	if h.defaultPageSize <= 0 {
		h.defaultPageSize = DefaultPageSize
	}
	if h.maxPageSize <= 0 {
		h.maxPageSize = DefaultMaxPageSize
	}
	if h.defaultPageSize > h.maxPageSize {
		h.defaultPageSize = h.maxPageSize
	}
	return h
}

func (h *handler) notFound(w http.ResponseWriter, r *http.Request) {
	format, _ := render.Negotiate(r)
	writeError(w, format, http.StatusNotFound, "Not found.")
}

func (h *handler) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	format, _ := render.Negotiate(r)
	w.Header().Set("Allow", http.MethodGet)
	writeError(w, format, http.StatusMethodNotAllowed, `Method "`+r.Method+`" not allowed.`)
}
