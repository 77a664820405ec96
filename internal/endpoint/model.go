// Package endpoint holds the declarative endpoint model: SQL, parameters and
// the schema tree that shapes rows into records. Descriptions are loaded from
// YAML and validated into an immutable Registry.
package endpoint

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Saloed/GalaxyAPI/internal/sqltemplate"
)

// ParamType is the declared type of a parameter or schema field.
type ParamType string

const (
	TypeString   ParamType = "string"
	TypeInteger  ParamType = "integer"
	TypeBoolean  ParamType = "boolean"
	TypeDate     ParamType = "date"
	TypeDateTime ParamType = "date-time"
)

// Valid reports whether t is a known type.
func (t ParamType) Valid() bool {
	switch t {
	case TypeString, TypeInteger, TypeBoolean, TypeDate, TypeDateTime:
		return true
	}
	return false
}

// Operation tells how a filter condition is written.
type Operation string

const (
	// OperationExact conditions name a column; " = %s" is appended on load.
	OperationExact Operation = "exact"
	// OperationCustom conditions are complete predicates.
	OperationCustom Operation = "custom"
)

// FilterParam is an optional (or required) request parameter that injects a
// predicate into the endpoint SQL when present.
type FilterParam struct {
	Name        string    `yaml:"name"`
	Type        ParamType `yaml:"type"`
	Operation   Operation `yaml:"operation"`
	Condition   string    `yaml:"condition"`
	Required    bool      `yaml:"required"`
	Description string    `yaml:"description"`
	Default     string    `yaml:"default"`
	Example     string    `yaml:"example"`
}

// Placeholders returns how many times the bound value repeats.
func (p FilterParam) Placeholders() int {
	return sqltemplate.CountPlaceholders(p.Condition)
}

// SQLParam is a required parameter bound to a fixed placeholder of the base SQL.
type SQLParam struct {
	Name        string    `yaml:"name"`
	Type        ParamType `yaml:"type"`
	Position    int       `yaml:"position"`
	Description string    `yaml:"description"`
	Default     string    `yaml:"default"`
	Example     string    `yaml:"example"`
}

// Endpoint is one named, parameterized query with its output schema.
type Endpoint struct {
	Name               string
	Description        string
	SQLFile            string
	SQL                string
	Key                string
	AggregationKey     string
	PaginationEnabled  bool
	AggregationEnabled bool
	Params             []FilterParam
	SQLParams          []SQLParam
	Schema             Node
	// Source is the description file the endpoint was loaded from.
	Source string

	statement *sqltemplate.Statement
}

// GroupingKey is the column records are grouped by when aggregation is enabled.
func (e *Endpoint) GroupingKey() string {
	if e.AggregationKey != "" {
		return ColumnName(e.AggregationKey)
	}
	return ColumnName(e.Key)
}

// Statement returns a private copy of the parsed endpoint SQL.
func (e *Endpoint) Statement() *sqltemplate.Statement {
	if e.statement == nil {
		return sqltemplate.Parse(e.SQL)
	}
	return e.statement.Clone()
}

// Param looks up a parameter by name. Exactly one of the results is non-nil
// when found.
func (e *Endpoint) Param(name string) (*FilterParam, *SQLParam) {
	for i := range e.Params {
		if e.Params[i].Name == name {
			return &e.Params[i], nil
		}
	}
	for i := range e.SQLParams {
		if e.SQLParams[i].Name == name {
			return nil, &e.SQLParams[i]
		}
	}
	return nil, nil
}

// RequiredParams lists static parameters in position order followed by
// required filter parameters in declaration order.
func (e *Endpoint) RequiredParams() []string {
	names := make([]string, 0, len(e.SQLParams)+len(e.Params))
	for _, p := range e.OrderedSQLParams() {
		names = append(names, p.Name)
	}
	for _, p := range e.Params {
		if p.Required {
			names = append(names, p.Name)
		}
	}
	return names
}

// OrderedSQLParams returns the static parameters sorted by position.
func (e *Endpoint) OrderedSQLParams() []SQLParam {
	params := make([]SQLParam, len(e.SQLParams))
	copy(params, e.SQLParams)
	sort.SliceStable(params, func(i, j int) bool { return params[i].Position < params[j].Position })
	return params
}

// Selects returns every select node in the schema, depth first.
func (e *Endpoint) Selects() []*Select {
	var out []*Select
	Walk(e.Schema, func(path string, n Node) {
		if sel, ok := n.(*Select); ok {
			out = append(out, sel)
		}
	})
	return out
}

// ColumnName strips identifier quoting: [Id], "Id" and `Id` all become Id.
func ColumnName(key string) string {
	key = strings.TrimSpace(key)
	if len(key) >= 2 {
		switch {
		case key[0] == '[' && key[len(key)-1] == ']',
			key[0] == '"' && key[len(key)-1] == '"',
			key[0] == '`' && key[len(key)-1] == '`':
			return key[1 : len(key)-1]
		}
	}
	return key
}

// Node is one element of the schema tree: *Field, *Object or *Select.
type Node interface {
	schemaNode()
}

// Field copies one column of the current row, typed. A Many field instead
// lists the column for every row of the current row set.
type Field struct {
	Type         ParamType
	Column       string
	XMLAttribute bool
	Many         bool
	Description  string
	Example      string
}

// NamedNode is an object member. Order follows the description.
type NamedNode struct {
	Name string
	Node Node
}

// Object builds a record from its fields. With Many it yields one record per
// row; with Aggregate it groups rows by AggregationField first.
type Object struct {
	Name             string
	Description      string
	Fields           []NamedNode
	Many             bool
	Aggregate        bool
	AggregationField string
}

// SelectParam maps a target endpoint parameter to a column of the current row.
type SelectParam struct {
	Param  string
	Column string
}

// Select embeds the result of another endpoint, keyed by column values of the
// current row.
type Select struct {
	Endpoint    string
	Params      []SelectParam
	Description string
}

// Signature identifies selects that share fetches.
func (s *Select) Signature() string {
	parts := make([]string, 0, len(s.Params))
	for _, p := range s.Params {
		parts = append(parts, p.Param+"="+p.Column)
	}
	return fmt.Sprintf("%s(%s)", s.Endpoint, strings.Join(parts, ","))
}

func (*Field) schemaNode()  {}
func (*Object) schemaNode() {}
func (*Select) schemaNode() {}

// Walk visits every node depth first with a dotted path.
func Walk(n Node, fn func(path string, n Node)) {
	walk("", n, fn)
}

func walk(path string, n Node, fn func(string, Node)) {
	if n == nil {
		return
	}
	fn(path, n)
	obj, ok := n.(*Object)
	if !ok {
		return
	}
	for _, child := range obj.Fields {
		childPath := child.Name
		if path != "" {
			childPath = path + "." + child.Name
		}
		walk(childPath, child.Node, fn)
	}
}
