// Package binding checks request parameters against an endpoint's
// declarations and converts them to typed SQL arguments.
package binding

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/Saloed/GalaxyAPI/internal/apperr"
	"github.com/Saloed/GalaxyAPI/internal/endpoint"
)

const (
	// DateLayout is DD.MM.YYYY.
	DateLayout = "02.01.2006"
	// DateTimeLayout is DD.MM.YYYY HH:MM:SS.
	DateTimeLayout = "02.01.2006 15:04:05"
)

// StaticValue is a bound base-SQL parameter.
type StaticValue struct {
	Name     string
	Position int
	Value    any
}

// FilterValue is a bound filter: its condition and the value repeated once
// per placeholder in that condition.
type FilterValue struct {
	Name      string
	Condition string
	Values    []any
}

// Bound is the result of binding one request.
type Bound struct {
	Static  []StaticValue
	Filters []FilterValue
}

// Conditions returns the filter conditions in declaration order.
func (b *Bound) Conditions() []string {
	out := make([]string, 0, len(b.Filters))
	for _, f := range b.Filters {
		out = append(out, f.Condition)
	}
	return out
}

// Args returns the logical argument list: static values in position order,
// then every filter's repeated values in filter order.
func (b *Bound) Args() []any {
	var args []any
	for _, s := range b.Static {
		args = append(args, s.Value)
	}
	for _, f := range b.Filters {
		args = append(args, f.Values...)
	}
	return args
}

// Pair is a canonical name/value pair used for cache keys.
type Pair struct {
	Name  string
	Value string
}

// StaticPairs returns canonical static values.
func (b *Bound) StaticPairs() []Pair {
	out := make([]Pair, 0, len(b.Static))
	for _, s := range b.Static {
		out = append(out, Pair{Name: s.Name, Value: Canonical(s.Value)})
	}
	return out
}

// FilterPairs returns canonical filter values.
func (b *Bound) FilterPairs() []Pair {
	out := make([]Pair, 0, len(b.Filters))
	for _, f := range b.Filters {
		var v any
		if len(f.Values) > 0 {
			v = f.Values[0]
		}
		out = append(out, Pair{Name: f.Name, Value: Canonical(v)})
	}
	return out
}

// Canonical renders a bound value as a stable string.
func Canonical(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case string:
		return val
	default:
		return fmt.Sprint(val)
	}
}

// Bind validates raw request values for ep. All missing required parameters
// are reported together before any conversion.
func Bind(ep *endpoint.Endpoint, raw map[string]string) (*Bound, error) {
	var missing []string
	for _, name := range ep.RequiredParams() {
		if _, ok := raw[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, &apperr.ValidationError{Endpoint: ep.Name, Missing: missing}
	}

	bound := &Bound{}
	for _, p := range ep.OrderedSQLParams() {
		value, err := Convert(p.Name, p.Type, raw[p.Name])
		if err != nil {
			return nil, withEndpoint(err, ep.Name)
		}
		bound.Static = append(bound.Static, StaticValue{Name: p.Name, Position: p.Position, Value: value})
	}

	for _, p := range ep.Params {
		text, ok := raw[p.Name]
		if !ok {
			continue
		}
		value, err := Convert(p.Name, p.Type, text)
		if err != nil {
			return nil, withEndpoint(err, ep.Name)
		}
		n := p.Placeholders()
		values := make([]any, n)
		for i := range values {
			values[i] = value
		}
		bound.Filters = append(bound.Filters, FilterValue{Name: p.Name, Condition: p.Condition, Values: values})
	}
	return bound, nil
}

func withEndpoint(err error, name string) error {
	if v, ok := err.(*apperr.ValidationError); ok {
		v.Endpoint = name
	}
	return err
}

// Convert parses one value according to its declared type.
func Convert(name string, typ endpoint.ParamType, text string) (any, error) {
	switch typ {
	case endpoint.TypeString, "":
		return text, nil
	case endpoint.TypeInteger:
		v, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
		if err != nil {
			return nil, typeError(name, typ, text)
		}
		return v, nil
	case endpoint.TypeBoolean:
		v, err := strconv.ParseBool(strings.TrimSpace(text))
		if err != nil {
			return nil, typeError(name, typ, text)
		}
		return v, nil
	case endpoint.TypeDate:
		v, err := time.Parse(DateLayout, strings.TrimSpace(text))
		if err != nil {
			return nil, formatError(name, "DD.MM.YYYY", text)
		}
		return v, nil
	case endpoint.TypeDateTime:
		v, err := time.Parse(DateTimeLayout, strings.TrimSpace(text))
		if err != nil {
			return nil, formatError(name, "DD.MM.YYYY HH:MM:SS", text)
		}
		return v, nil
	default:
		return nil, &apperr.ValidationError{Param: name, Message: fmt.Sprintf("Unsupported type %s for parameter %s", typ, name)}
	}
}

// Format renders a typed value back into its request form, the inverse of
// Convert. It is used when a row value feeds another endpoint's parameter.
func Format(typ endpoint.ParamType, v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case time.Time:
		switch typ {
		case endpoint.TypeDate:
			return val.Format(DateLayout), true
		case endpoint.TypeDateTime:
			return val.Format(DateTimeLayout), true
		default:
			return val.Format(time.RFC3339), true
		}
	case string:
		return val, true
	default:
		s, err := cast.ToStringE(val)
		if err != nil {
			return fmt.Sprint(val), true
		}
		return s, true
	}
}

func typeError(name string, typ endpoint.ParamType, actual string) error {
	return &apperr.ValidationError{
		Param:   name,
		Message: fmt.Sprintf("Incorrect parameter %s: expected %s, actual %s", name, typ, actual),
	}
}

func formatError(name, format, actual string) error {
	return &apperr.ValidationError{
		Param:   name,
		Message: fmt.Sprintf("Incorrect format for parameter %s: expected %s, actual %s", name, format, actual),
	}
}

// SortedPairs returns a copy of pairs ordered by name.
func SortedPairs(pairs []Pair) []Pair {
	out := make([]Pair, len(pairs))
	copy(out, pairs)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
