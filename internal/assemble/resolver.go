package assemble

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/Saloed/GalaxyAPI/internal/apperr"
	"github.com/Saloed/GalaxyAPI/internal/binding"
	"github.com/Saloed/GalaxyAPI/internal/dbexec"
	"github.com/Saloed/GalaxyAPI/internal/endpoint"
	"github.com/Saloed/GalaxyAPI/internal/fingerprint"
	"github.com/Saloed/GalaxyAPI/internal/observability"
)

// Fetcher runs another endpoint with pagination disabled and returns its
// assembled data.
type Fetcher interface {
	Fetch(ctx context.Context, target *endpoint.Endpoint, params map[string]string) ([]any, error)
}

// FetchFunc adapts a function to Fetcher.
type FetchFunc func(ctx context.Context, target *endpoint.Endpoint, params map[string]string) ([]any, error)

func (f FetchFunc) Fetch(ctx context.Context, target *endpoint.Endpoint, params map[string]string) ([]any, error) {
	return f(ctx, target, params)
}

// Targets finds select targets by name. *endpoint.Registry satisfies it.
type Targets interface {
	Get(name string) (*endpoint.Endpoint, bool)
}

// ResolverConfig wires a SelectResolver.
type ResolverConfig struct {
	// Source is the endpoint whose rows are being assembled.
	Source  string
	Targets Targets
	Fetcher Fetcher
	// Concurrency bounds parallel fetches; values below 1 mean sequential.
	Concurrency int
	Metrics     *observability.EndpointMetrics
}

// SelectResolver pre-loads select results for every distinct join key of a
// row set, then serves them to the assembler.
type SelectResolver struct {
	source      string
	targets     Targets
	fetcher     Fetcher
	concurrency int
	metrics     *observability.EndpointMetrics

	data    map[string][]any
	fetches atomic.Int64
}

// NewSelectResolver creates an empty resolver.
func NewSelectResolver(cfg ResolverConfig) *SelectResolver {
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &SelectResolver{
		source:      cfg.Source,
		targets:     cfg.Targets,
		fetcher:     cfg.Fetcher,
		concurrency: concurrency,
		metrics:     cfg.Metrics,
		data:        make(map[string][]any),
	}
}

type selectJob struct {
	slot   string
	target *endpoint.Endpoint
	params map[string]string
}

// Load fetches each select once per distinct join-key tuple found in rows.
// Selects sharing a signature share fetches. A NULL join value is never
// fetched; the select resolves to null for that row.
func (r *SelectResolver) Load(ctx context.Context, selects []*endpoint.Select, rows []dbexec.Row) error {
	var jobs []selectJob
	seen := make(map[string]bool)
	for _, sel := range selects {
		target, err := r.target(sel)
		if err != nil {
			return err
		}
		for _, row := range rows {
			slot, params, null, err := r.tuple(sel, target, row)
			if err != nil {
				return err
			}
			if null || seen[slot] {
				continue
			}
			seen[slot] = true
			if _, loaded := r.data[slot]; loaded {
				continue
			}
			jobs = append(jobs, selectJob{slot: slot, target: target, params: params})
		}
	}
	if len(jobs) == 0 {
		return nil
	}

	results := make([][]any, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, job := range jobs {
		g.Go(func() error {
			r.fetches.Add(1)
			r.metrics.RecordSelectFetch(gctx, r.source, job.target.Name)
			data, err := r.fetcher.Fetch(gctx, job.target, job.params)
			if err != nil {
				return r.wrapFetchError(job.target.Name, err)
			}
			results[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for i, job := range jobs {
		r.data[job.slot] = results[i]
	}
	return nil
}

// Lookup returns the loaded data for sel at row, or nil when a join value is
// NULL.
func (r *SelectResolver) Lookup(sel *endpoint.Select, row dbexec.Row) (any, error) {
	target, err := r.target(sel)
	if err != nil {
		return nil, err
	}
	slot, params, null, err := r.tuple(sel, target, row)
	if err != nil {
		return nil, err
	}
	if null {
		return nil, nil
	}
	data, ok := r.data[slot]
	if !ok {
		return nil, &apperr.AssemblyInvariantError{
			Endpoint: r.source,
			Message:  fmt.Sprintf("select from %q not loaded for %v", sel.Endpoint, params),
		}
	}
	return data, nil
}

// Fetches reports how many nested fetches Load has issued.
func (r *SelectResolver) Fetches() int {
	return int(r.fetches.Load())
}

func (r *SelectResolver) target(sel *endpoint.Select) (*endpoint.Endpoint, error) {
	if r.targets != nil {
		if target, ok := r.targets.Get(sel.Endpoint); ok {
			return target, nil
		}
	}
	return nil, &apperr.AssemblyInvariantError{
		Endpoint: r.source,
		Message:  fmt.Sprintf("select from unknown endpoint %q", sel.Endpoint),
	}
}

// tuple reads the join columns of row and formats them as request values for
// target. null is set when any join value is NULL.
func (r *SelectResolver) tuple(sel *endpoint.Select, target *endpoint.Endpoint, row dbexec.Row) (string, map[string]string, bool, error) {
	h := fingerprint.New()
	h.Add(sel.Signature())
	params := make(map[string]string, len(sel.Params))
	for _, p := range sel.Params {
		column := endpoint.ColumnName(p.Column)
		v, ok := row[column]
		if !ok {
			return "", nil, false, &apperr.AssemblyInvariantError{
				Endpoint: r.source,
				Message:  fmt.Sprintf("select from %q: column %q missing from result", sel.Endpoint, column),
			}
		}
		text, ok := binding.Format(paramType(target, p.Param), v)
		if !ok {
			return "", nil, true, nil
		}
		params[p.Param] = text
		h.Add(p.Param)
		h.Add(text)
	}
	return h.Sum(), params, false, nil
}

func (r *SelectResolver) wrapFetchError(target string, err error) error {
	var verr *apperr.ValidationError
	if errors.As(err, &verr) {
		return &apperr.AssemblyInvariantError{
			Endpoint: r.source,
			Message:  fmt.Sprintf("select from %q rejected row values", target),
			Err:      err,
		}
	}
	return err
}

func paramType(target *endpoint.Endpoint, name string) endpoint.ParamType {
	fp, sp := target.Param(name)
	switch {
	case fp != nil:
		return fp.Type
	case sp != nil:
		return sp.Type
	}
	return endpoint.TypeString
}
