package endpoint

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/Saloed/GalaxyAPI/internal/apperr"
	"github.com/Saloed/GalaxyAPI/internal/sqltemplate"
)

var (
	endpointNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.-]*$`)
	keyPattern          = regexp.MustCompile("^([A-Za-z_@#][A-Za-z0-9_@#$]*|\\[[^\\]]+\\]|\"[^\"]+\"|`[^`]+`)$")
)

// Registry is an immutable, validated set of endpoints.
type Registry struct {
	endpoints map[string]*Endpoint
	names     []string
}

// Report carries non-fatal findings from validation.
type Report struct {
	Warnings []string
}

func (r *Report) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// NewRegistry validates endpoints and indexes them by name. Exact filter
// conditions are completed with " = %s" and each SQL text is parsed once.
// Every violation is reported in the returned apperr.ConfigurationErrors.
func NewRegistry(endpoints []*Endpoint) (*Registry, *Report, error) {
	reg := &Registry{endpoints: make(map[string]*Endpoint, len(endpoints))}
	report := &Report{}
	var errs apperr.ConfigurationErrors

	for _, ep := range endpoints {
		if _, dup := reg.endpoints[ep.Name]; dup {
			errs = append(errs, apperr.Configf(ep.Name, "duplicate endpoint name (%s)", ep.Source))
			continue
		}
		prepare(ep)
		reg.endpoints[ep.Name] = ep
		reg.names = append(reg.names, ep.Name)
	}
	sort.Strings(reg.names)

	for _, name := range reg.names {
		errs = append(errs, reg.validateEndpoint(reg.endpoints[name], report)...)
	}
	errs = append(errs, reg.checkCycles()...)

	if len(errs) > 0 {
		return nil, report, errs
	}
	return reg, report, nil
}

func prepare(ep *Endpoint) {
	for i := range ep.Params {
		p := &ep.Params[i]
		if p.Operation == OperationExact && sqltemplate.CountPlaceholders(p.Condition) == 0 {
			p.Condition = strings.TrimSpace(p.Condition) + " = " + sqltemplate.PlaceholderText
		}
	}
	ep.statement = sqltemplate.Parse(ep.SQL)
}

// Get returns the endpoint with the given name.
func (r *Registry) Get(name string) (*Endpoint, bool) {
	ep, ok := r.endpoints[name]
	return ep, ok
}

// Names returns endpoint names in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Endpoints returns endpoints sorted by name.
func (r *Registry) Endpoints() []*Endpoint {
	out := make([]*Endpoint, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.endpoints[name])
	}
	return out
}

// Len returns the number of endpoints.
func (r *Registry) Len() int {
	return len(r.names)
}

func (r *Registry) validateEndpoint(ep *Endpoint, report *Report) apperr.ConfigurationErrors {
	var errs apperr.ConfigurationErrors
	fail := func(format string, args ...any) {
		errs = append(errs, apperr.Configf(ep.Name, format, args...))
	}

	if !endpointNamePattern.MatchString(ep.Name) {
		fail("invalid endpoint name")
	}
	if ep.Key != "" && !keyPattern.MatchString(ep.Key) {
		fail("key %q must be a single column name", ep.Key)
	}
	if ep.AggregationKey != "" && !keyPattern.MatchString(ep.AggregationKey) {
		fail("aggregation_key %q must be a single column name", ep.AggregationKey)
	}
	if ep.PaginationEnabled && ep.Key == "" {
		fail("pagination enabled without key")
	}
	if ep.AggregationEnabled && ep.GroupingKey() == "" {
		fail("aggregation enabled without key")
	}
	if ep.Schema == nil {
		fail("schema is empty")
	}

	seen := map[string]bool{}
	checkName := func(name string) {
		if name == "" {
			fail("parameter without name")
			return
		}
		if seen[name] {
			fail("duplicate parameter %q", name)
		}
		seen[name] = true
	}

	positions := make([]int, 0, len(ep.SQLParams))
	for _, p := range ep.SQLParams {
		checkName(p.Name)
		if !p.Type.Valid() {
			fail("sql param %q has unknown type %q", p.Name, p.Type)
		}
		positions = append(positions, p.Position)
	}
	sort.Ints(positions)
	for i, pos := range positions {
		if pos != i {
			fail("sql param positions must be 0..%d without gaps or duplicates, got %v", len(positions)-1, positions)
			break
		}
	}

	for _, p := range ep.Params {
		checkName(p.Name)
		if !p.Type.Valid() {
			fail("param %q has unknown type %q", p.Name, p.Type)
		}
		if p.Operation != OperationExact && p.Operation != OperationCustom {
			fail("param %q has unknown operation %q", p.Name, p.Operation)
		}
		if err := sqltemplate.ValidateFragment(p.Condition); err != nil {
			fail("param %q: %v", p.Name, err)
			continue
		}
		if p.Placeholders() == 0 {
			report.warnf("%s: param %q condition has no placeholder; its value is ignored", ep.Name, p.Name)
		}
	}

	stmt := ep.statement
	if got, want := stmt.StaticPlaceholders(), len(ep.SQLParams); got != want {
		report.warnf("%s: sql has %d placeholders but %d sql params are declared; requests will fail", ep.Name, got, want)
	}
	if len(ep.Params) > 0 && !stmt.FiltersSupported() {
		report.warnf("%s: filters cannot be applied (%s) and will be skipped", ep.Name, stmt.UnsupportedReason())
	}

	Walk(ep.Schema, func(path string, n Node) {
		where := path
		if where == "" {
			where = "schema"
		}
		switch node := n.(type) {
		case *Field:
			if node.Column == "" {
				fail("%s: field without db_name", where)
			}
			if !node.Type.Valid() {
				fail("%s: unknown type %q", where, node.Type)
			}
			if node.Many && node.XMLAttribute {
				fail("%s: a many field cannot be an xml attribute", where)
			}
		case *Object:
			if len(node.Fields) == 0 {
				fail("%s: object without fields", where)
			}
			if node.Aggregate && !node.Many {
				fail("%s: aggregate requires many", where)
			}
			if node.Aggregate && node.AggregationField == "" {
				fail("%s: aggregate requires aggregation_field", where)
			}
		case *Select:
			errs = append(errs, r.validateSelect(ep, where, node)...)
		}
	})
	return errs
}

func (r *Registry) validateSelect(ep *Endpoint, where string, sel *Select) apperr.ConfigurationErrors {
	var errs apperr.ConfigurationErrors
	target, ok := r.endpoints[sel.Endpoint]
	if !ok {
		return apperr.ConfigurationErrors{apperr.Configf(ep.Name, "%s: select from unknown endpoint %q", where, sel.Endpoint)}
	}
	given := map[string]bool{}
	for _, p := range sel.Params {
		if p.Column == "" {
			errs = append(errs, apperr.Configf(ep.Name, "%s: select param %q has no column", where, p.Param))
		}
		if fp, sp := target.Param(p.Param); fp == nil && sp == nil {
			errs = append(errs, apperr.Configf(ep.Name, "%s: endpoint %q has no param %q", where, sel.Endpoint, p.Param))
		}
		given[p.Param] = true
	}
	var missing []string
	for _, name := range target.RequiredParams() {
		if !given[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		errs = append(errs, apperr.Configf(ep.Name, "%s: select from %q misses required params: %s", where, sel.Endpoint, strings.Join(missing, ", ")))
	}
	return errs
}

// checkCycles rejects select chains that lead back to an endpoint already on
// the path.
func (r *Registry) checkCycles() apperr.ConfigurationErrors {
	const (
		unvisited = iota
		inProgress
		done
	)
	state := make(map[string]int, len(r.names))
	var errs apperr.ConfigurationErrors
	var stack []string

	var visit func(name string)
	visit = func(name string) {
		state[name] = inProgress
		stack = append(stack, name)
		ep := r.endpoints[name]
		for _, sel := range ep.Selects() {
			if _, ok := r.endpoints[sel.Endpoint]; !ok {
				continue
			}
			switch state[sel.Endpoint] {
			case inProgress:
				start := 0
				for i, n := range stack {
					if n == sel.Endpoint {
						start = i
						break
					}
				}
				cycle := append(append([]string{}, stack[start:]...), sel.Endpoint)
				errs = append(errs, apperr.Configf(name, "select cycle: %s", strings.Join(cycle, " -> ")))
			case unvisited:
				visit(sel.Endpoint)
			}
		}
		stack = stack[:len(stack)-1]
		state[name] = done
	}

	for _, name := range r.names {
		if state[name] == unvisited {
			visit(name)
		}
	}
	return errs
}
