// Package assemble reshapes flat query rows into schema-shaped records and
// resolves selects from other endpoints.
package assemble

import (
	"fmt"

	"github.com/Saloed/GalaxyAPI/internal/apperr"
	"github.com/Saloed/GalaxyAPI/internal/dbexec"
	"github.com/Saloed/GalaxyAPI/internal/endpoint"
)

// Lookup returns the pre-fetched value of a select for one row.
type Lookup interface {
	Lookup(sel *endpoint.Select, row dbexec.Row) (any, error)
}

type assembler struct {
	ep     *endpoint.Endpoint
	lookup Lookup
}

// Convert assembles one value per row. Each row is its own row set, so a
// many object under a non-aggregated endpoint yields a one-element list.
func Convert(ep *endpoint.Endpoint, rows []dbexec.Row, lookup Lookup) ([]any, error) {
	a := &assembler{ep: ep, lookup: lookup}
	out := make([]any, 0, len(rows))
	for _, row := range rows {
		v, err := a.node("", ep.Schema, row, []dbexec.Row{row})
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// ConvertAggregated groups rows by the endpoint grouping key in first-seen
// order and assembles one value per group. Scalars come from the first row
// of the group; nested many objects see the whole group.
func ConvertAggregated(ep *endpoint.Endpoint, rows []dbexec.Row, lookup Lookup) ([]any, error) {
	a := &assembler{ep: ep, lookup: lookup}
	groups, err := a.group(rows, ep.GroupingKey(), "schema")
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(groups))
	for _, g := range groups {
		v, err := a.node("", ep.Schema, g[0], g)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (a *assembler) node(path string, n endpoint.Node, row dbexec.Row, all []dbexec.Row) (any, error) {
	switch node := n.(type) {
	case *endpoint.Field:
		if node.Many {
			values := make([]any, 0, len(all))
			for _, r := range all {
				v, err := a.column(path, r, node.Column)
				if err != nil {
					return nil, err
				}
				values = append(values, v)
			}
			return values, nil
		}
		return a.column(path, row, node.Column)
	case *endpoint.Select:
		if a.lookup == nil {
			return nil, a.invariant(path, "select from %q without resolver", node.Endpoint)
		}
		return a.lookup.Lookup(node, row)
	case *endpoint.Object:
		return a.object(path, node, row, all)
	default:
		return nil, a.invariant(path, "unknown schema node %T", n)
	}
}

func (a *assembler) object(path string, obj *endpoint.Object, row dbexec.Row, all []dbexec.Row) (any, error) {
	switch {
	case obj.Aggregate && !obj.Many:
		return nil, apperr.Configf(a.ep.Name, "%s: aggregate requires many", displayPath(path))
	case obj.Aggregate:
		groups, err := a.group(all, obj.AggregationField, path)
		if err != nil {
			return nil, err
		}
		out := make([]any, 0, len(groups))
		for _, g := range groups {
			rec, err := a.fields(path, obj, g[0], g)
			if err != nil {
				return nil, err
			}
			out = append(out, rec)
		}
		return out, nil
	case obj.Many:
		out := make([]any, 0, len(all))
		for _, r := range all {
			rec, err := a.fields(path, obj, r, all)
			if err != nil {
				return nil, err
			}
			out = append(out, rec)
		}
		return out, nil
	default:
		return a.fields(path, obj, row, all)
	}
}

func (a *assembler) fields(path string, obj *endpoint.Object, row dbexec.Row, all []dbexec.Row) (*Record, error) {
	rec := NewRecord(len(obj.Fields))
	for _, child := range obj.Fields {
		v, err := a.node(joinPath(path, child.Name), child.Node, row, all)
		if err != nil {
			return nil, err
		}
		rec.Set(child.Name, v)
	}
	return rec, nil
}

func (a *assembler) column(path string, row dbexec.Row, column string) (any, error) {
	v, ok := row[column]
	if !ok {
		return nil, a.invariant(path, "column %q missing from result", column)
	}
	return v, nil
}

// group partitions rows by column value, keeping first-seen order of both
// groups and rows.
func (a *assembler) group(rows []dbexec.Row, column, path string) ([][]dbexec.Row, error) {
	column = endpoint.ColumnName(column)
	index := make(map[string]int)
	var groups [][]dbexec.Row
	for _, row := range rows {
		v, err := a.column(path, row, column)
		if err != nil {
			return nil, err
		}
		k := groupKey(v)
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], row)
	}
	return groups, nil
}

func groupKey(v any) string {
	if v == nil {
		return "nil"
	}
	return fmt.Sprintf("%T:%v", v, v)
}

func (a *assembler) invariant(path, format string, args ...any) error {
	return &apperr.AssemblyInvariantError{
		Endpoint: a.ep.Name,
		Message:  displayPath(path) + ": " + fmt.Sprintf(format, args...),
	}
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}

func displayPath(path string) string {
	if path == "" {
		return "schema"
	}
	return path
}
