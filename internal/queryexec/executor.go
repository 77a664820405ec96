// Package queryexec turns an endpoint query plus bound parameters into rows:
// it applies filters and paging to the SQL, renders driver placeholders and
// serves repeated requests from the response cache.
package queryexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Saloed/GalaxyAPI/internal/apperr"
	"github.com/Saloed/GalaxyAPI/internal/binding"
	"github.com/Saloed/GalaxyAPI/internal/dbexec"
	"github.com/Saloed/GalaxyAPI/internal/endpoint"
	"github.com/Saloed/GalaxyAPI/internal/fingerprint"
	"github.com/Saloed/GalaxyAPI/internal/logging"
	"github.com/Saloed/GalaxyAPI/internal/observability"
	"github.com/Saloed/GalaxyAPI/internal/querycache"
	"github.com/Saloed/GalaxyAPI/internal/sqltemplate"
)

// DefaultTTL applies when Config.TTL is zero.
const DefaultTTL = 5 * time.Minute

// Page selects one window of an ordered result.
type Page struct {
	Key    string
	Size   int
	Number int
}

// Config wires an Executor.
type Config struct {
	DB      dbexec.QueryExecutor
	Cache   querycache.Cache
	Dialect sqltemplate.Dialect
	TTL     time.Duration
	Logger  *logging.Logger
	Metrics *observability.EndpointMetrics
}

// Executor runs endpoint queries through the response cache.
type Executor struct {
	db      dbexec.QueryExecutor
	cache   querycache.Cache
	dialect sqltemplate.Dialect
	ttl     time.Duration
	logger  *logging.Logger
	metrics *observability.EndpointMetrics
	group   singleflight.Group
}

// New creates an Executor. A nil cache disables caching.
func New(cfg Config) *Executor {
	cache := cfg.Cache
	if cache == nil {
		cache = querycache.Noop{}
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Executor{
		db:      cfg.DB,
		cache:   cache,
		dialect: cfg.Dialect,
		ttl:     ttl,
		logger:  logger.WithFields(slog.String("component", "queryexec")),
		metrics: cfg.Metrics,
	}
}

// Built is the final SQL text and its ordered driver arguments.
type Built struct {
	SQL  string
	Args []any
	// FiltersSkipped is set when the statement could not take the filters.
	FiltersSkipped bool
}

// Build applies filters and paging to ep's SQL and renders it for the
// executor's dialect. It checks the static placeholder count first.
func (e *Executor) Build(ep *endpoint.Endpoint, bound *binding.Bound, page *Page) (*Built, error) {
	stmt := ep.Statement()
	if err := checkPlaceholders(ep, stmt, bound); err != nil {
		return nil, err
	}

	built := &Built{}
	logical := make([]any, 0, len(bound.Static))
	for _, s := range bound.Static {
		logical = append(logical, s.Value)
	}
	if err := stmt.AddFilters(bound.Conditions()); err != nil {
		if !errors.Is(err, sqltemplate.ErrFiltersUnsupported) {
			return nil, &apperr.ExecutionError{Endpoint: ep.Name, Message: "failed to apply filters", Err: err}
		}
		built.FiltersSkipped = true
	} else {
		for _, f := range bound.Filters {
			logical = append(logical, f.Values...)
		}
	}

	if page != nil {
		paged, err := stmt.Paginate(e.dialect, page.Key, page.Size, page.Number)
		if err != nil {
			return nil, &apperr.ExecutionError{Endpoint: ep.Name, Message: "failed to paginate", Err: err}
		}
		stmt = paged
	}

	text, order, err := stmt.Render(e.dialect)
	if err != nil {
		return nil, &apperr.ExecutionError{Endpoint: ep.Name, Message: "failed to render query", Err: err}
	}
	args, err := sqltemplate.BindArgs(order, logical)
	if err != nil {
		return nil, &apperr.ExecutionError{Endpoint: ep.Name, Message: "failed to bind arguments", Err: err}
	}
	built.SQL = text
	built.Args = args
	return built, nil
}

func checkPlaceholders(ep *endpoint.Endpoint, stmt *sqltemplate.Statement, bound *binding.Bound) error {
	if got, want := stmt.StaticPlaceholders(), len(bound.Static); got != want {
		return &apperr.ExecutionError{
			Endpoint: ep.Name,
			Message:  fmt.Sprintf("Not enough required params for query %s: expected %d actual %d", ep.Name, got, want),
		}
	}
	return nil
}

// CacheKey returns the response cache key for a request.
func CacheKey(ep *endpoint.Endpoint, bound *binding.Bound, page *Page) string {
	var pk *querycache.PageKey
	if page != nil {
		pk = &querycache.PageKey{Key: page.Key, Size: page.Size, Number: page.Number}
	}
	identity := fingerprint.Of(ep.Name, ep.SQL)
	return querycache.Key(identity, bound.StaticPairs(), bound.FilterPairs(), pk)
}

// Execute returns the rows for ep with bound parameters and an optional page.
// Cached rows are returned as-is; store failures are never cached. Cache
// read and write failures are logged and treated as misses.
func (e *Executor) Execute(ctx context.Context, ep *endpoint.Endpoint, bound *binding.Bound, page *Page) ([]dbexec.Row, error) {
	if err := checkPlaceholders(ep, ep.Statement(), bound); err != nil {
		return nil, err
	}

	key := CacheKey(ep, bound, page)
	logger := logging.FromContextOr(ctx, e.logger)

	rows, hit, err := e.cache.Get(ctx, key)
	if err != nil {
		e.metrics.RecordCacheError(ctx, ep.Name, "get")
		logger.Warn("query cache read failed", slog.String("endpoint", ep.Name), slog.String("error", err.Error()))
	}
	if hit {
		e.metrics.RecordCacheHit(ctx, ep.Name)
		return rows, nil
	}
	e.metrics.RecordCacheMiss(ctx, ep.Name)

	v, err, _ := e.group.Do(key, func() (any, error) {
		return e.load(ctx, logger, ep, bound, page, key)
	})
	if err != nil {
		return nil, err
	}
	return v.([]dbexec.Row), nil
}

func (e *Executor) load(ctx context.Context, logger *logging.Logger, ep *endpoint.Endpoint, bound *binding.Bound, page *Page, key string) ([]dbexec.Row, error) {
	built, err := e.Build(ep, bound, page)
	if err != nil {
		return nil, err
	}
	if built.FiltersSkipped {
		e.metrics.RecordFiltersSkipped(ctx, ep.Name)
		logger.Warn("filters not supported for query, running without them",
			slog.String("endpoint", ep.Name),
			slog.String("reason", ep.Statement().UnsupportedReason()),
		)
	}
	if e.db == nil {
		return nil, &apperr.ExecutionError{Endpoint: ep.Name, Message: "no database configured"}
	}

	start := time.Now()
	rows, err := e.db.QueryRows(ctx, built.SQL, built.Args...)
	e.metrics.RecordQuery(ctx, ep.Name, time.Since(start), len(rows), err != nil)
	if err != nil {
		logger.Error("query failed",
			slog.String("endpoint", ep.Name),
			slog.String("error", err.Error()),
		)
		return nil, &apperr.ExecutionError{Endpoint: ep.Name, Err: err}
	}
	logger.Debug("query executed",
		slog.String("endpoint", ep.Name),
		slog.Int("rows", len(rows)),
		slog.Int("args", len(built.Args)),
		slog.Duration("duration", time.Since(start)),
	)

	if len(rows) > 0 {
		if err := e.cache.Set(ctx, key, rows, e.ttl); err != nil {
			e.metrics.RecordCacheError(ctx, ep.Name, "set")
			logger.Warn("query cache write failed", slog.String("endpoint", ep.Name), slog.String("error", err.Error()))
		}
	}
	return rows, nil
}
