// Package engine is the request entry point: it binds parameters, runs the
// endpoint query, resolves selects and assembles the result.
package engine

import (
	"context"
	"log/slog"

	"github.com/Saloed/GalaxyAPI/internal/apperr"
	"github.com/Saloed/GalaxyAPI/internal/assemble"
	"github.com/Saloed/GalaxyAPI/internal/binding"
	"github.com/Saloed/GalaxyAPI/internal/dbexec"
	"github.com/Saloed/GalaxyAPI/internal/endpoint"
	"github.com/Saloed/GalaxyAPI/internal/logging"
	"github.com/Saloed/GalaxyAPI/internal/observability"
	"github.com/Saloed/GalaxyAPI/internal/queryexec"
)

// QueryRunner executes one endpoint query. *queryexec.Executor satisfies it.
type QueryRunner interface {
	Execute(ctx context.Context, ep *endpoint.Endpoint, bound *binding.Bound, page *queryexec.Page) ([]dbexec.Row, error)
}

// Source supplies the active registry snapshot.
type Source interface {
	Current() *endpoint.Registry
}

// StaticSource serves one fixed registry.
type StaticSource struct {
	Registry *endpoint.Registry
}

func (s StaticSource) Current() *endpoint.Registry {
	return s.Registry
}

// Config wires an Engine.
type Config struct {
	Source  Source
	Queries QueryRunner
	// SelectConcurrency bounds parallel select fetches per request.
	SelectConcurrency int
	Logger            *logging.Logger
	Metrics           *observability.EndpointMetrics
}

// Engine processes endpoint requests.
type Engine struct {
	source            Source
	queries           QueryRunner
	selectConcurrency int
	logger            *logging.Logger
	metrics           *observability.EndpointMetrics
}

// New creates an Engine.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Engine{
		source:            cfg.Source,
		queries:           cfg.Queries,
		selectConcurrency: cfg.SelectConcurrency,
		logger:            logger.WithFields(slog.String("component", "engine")),
		metrics:           cfg.Metrics,
	}
}

// PageRequest asks for one page of a paginated endpoint.
type PageRequest struct {
	Number int
	Size   int
}

// Request names an endpoint and carries its raw parameters.
type Request struct {
	Endpoint string
	Params   map[string]string
	// Page is ignored for endpoints without pagination.
	Page *PageRequest
}

// PageInfo describes the returned page. Link building is left to callers.
type PageInfo struct {
	Number  int
	Size    int
	HasNext bool
	HasPrev bool
}

// Result is the assembled data of one request.
type Result struct {
	Endpoint *endpoint.Endpoint
	// Registry is the snapshot the request ran against.
	Registry *endpoint.Registry
	Data     []any
	// Page is set only when the endpoint is paginated and a page was asked for.
	Page *PageInfo
}

// Lookup returns the endpoint of the active snapshot.
func (e *Engine) Lookup(name string) (*endpoint.Endpoint, error) {
	reg := e.registry()
	if reg == nil {
		return nil, &apperr.NotFoundError{Endpoint: name}
	}
	ep, ok := reg.Get(name)
	if !ok {
		return nil, &apperr.NotFoundError{Endpoint: name}
	}
	return ep, nil
}

// Process runs req against one registry snapshot. Nested selects use the
// same snapshot even if a reload happens meanwhile.
func (e *Engine) Process(ctx context.Context, req Request) (*Result, error) {
	reg := e.registry()
	if reg == nil {
		return nil, &apperr.NotFoundError{Endpoint: req.Endpoint}
	}
	ep, ok := reg.Get(req.Endpoint)
	if !ok {
		return nil, &apperr.NotFoundError{Endpoint: req.Endpoint}
	}

	var page *PageRequest
	if ep.PaginationEnabled && req.Page != nil {
		page = req.Page
	}
	data, err := e.run(ctx, reg, ep, req.Params, page)
	if err != nil {
		return nil, err
	}

	result := &Result{Endpoint: ep, Registry: reg, Data: data}
	if page != nil {
		result.Page = &PageInfo{
			Number:  page.Number,
			Size:    page.Size,
			HasNext: len(data) == page.Size,
			HasPrev: page.Number > 0,
		}
	}
	return result, nil
}

func (e *Engine) registry() *endpoint.Registry {
	if e.source == nil {
		return nil
	}
	return e.source.Current()
}

func (e *Engine) run(ctx context.Context, reg *endpoint.Registry, ep *endpoint.Endpoint, params map[string]string, page *PageRequest) ([]any, error) {
	bound, err := binding.Bind(ep, params)
	if err != nil {
		return nil, err
	}

	// Aggregation must see every row, so aggregated pages are cut after
	// grouping instead of in SQL.
	var sqlPage *queryexec.Page
	if page != nil && !ep.AggregationEnabled {
		sqlPage = &queryexec.Page{Key: ep.Key, Size: page.Size, Number: page.Number}
	}

	rows, err := e.queries.Execute(ctx, ep, bound, sqlPage)
	if err != nil {
		return nil, err
	}

	resolver := assemble.NewSelectResolver(assemble.ResolverConfig{
		Source:      ep.Name,
		Targets:     reg,
		Concurrency: e.selectConcurrency,
		Metrics:     e.metrics,
		Fetcher: assemble.FetchFunc(func(ctx context.Context, target *endpoint.Endpoint, params map[string]string) ([]any, error) {
			return e.run(ctx, reg, target, params, nil)
		}),
	})
	if err := resolver.Load(ctx, ep.Selects(), rows); err != nil {
		return nil, err
	}

	var data []any
	if ep.AggregationEnabled {
		data, err = assemble.ConvertAggregated(ep, rows, resolver)
		if err != nil {
			return nil, err
		}
		if page != nil {
			data = slicePage(data, page.Number, page.Size)
		}
	} else {
		data, err = assemble.Convert(ep, rows, resolver)
		if err != nil {
			return nil, err
		}
	}

	logging.FromContextOr(ctx, e.logger).Debug("endpoint assembled",
		slog.String("endpoint", ep.Name),
		slog.Int("rows", len(rows)),
		slog.Int("records", len(data)),
		slog.Int("select_fetches", resolver.Fetches()),
	)
	return data, nil
}

func slicePage(data []any, number, size int) []any {
	start := number * size
	if start >= len(data) || size <= 0 {
		return []any{}
	}
	end := start + size
	if end > len(data) {
		end = len(data)
	}
	return data[start:end]
}
