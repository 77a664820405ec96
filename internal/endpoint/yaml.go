package endpoint

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

type descriptionFile struct {
	Name               string        `yaml:"name"`
	Description        string        `yaml:"description"`
	SQL                string        `yaml:"sql"`
	Query              string        `yaml:"query"`
	Key                string        `yaml:"key"`
	AggregationKey     string        `yaml:"aggregation_key"`
	PaginationEnabled  bool          `yaml:"pagination_enabled"`
	AggregationEnabled bool          `yaml:"aggregation_enabled"`
	Params             []FilterParam `yaml:"params"`
	SQLParams          []SQLParam    `yaml:"sql_params"`
	Schema             schemaNode    `yaml:"schema"`
}

type schemaNode struct {
	Node Node
}

func (s *schemaNode) UnmarshalYAML(value *yaml.Node) error {
	n, err := decodeNode(value, "schema")
	if err != nil {
		return err
	}
	s.Node = n
	return nil
}

// ParseDescription decodes one YAML description. Unknown keys are errors.
// The SQL text is not resolved here; see LoadFS.
func ParseDescription(data []byte) (*Endpoint, string, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var file descriptionFile
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, "", fmt.Errorf("empty description")
		}
		return nil, "", err
	}
	if file.SQL != "" && file.Query != "" {
		return nil, "", fmt.Errorf("only one of sql and query may be set")
	}

	ep := &Endpoint{
		Name:               file.Name,
		Description:        file.Description,
		SQLFile:            file.SQL,
		SQL:                file.Query,
		Key:                file.Key,
		AggregationKey:     file.AggregationKey,
		PaginationEnabled:  file.PaginationEnabled,
		AggregationEnabled: file.AggregationEnabled,
		Params:             file.Params,
		SQLParams:          file.SQLParams,
		Schema:             file.Schema.Node,
	}
	return ep, file.SQL, nil
}

type objectSpec struct {
	Type             string `yaml:"type"`
	Name             string `yaml:"name"`
	Description      string `yaml:"description"`
	Many             bool   `yaml:"many"`
	Aggregate        bool   `yaml:"aggregate"`
	AggregationField string `yaml:"aggregation_field"`
}

type selectSpec struct {
	Type        string            `yaml:"type"`
	Endpoint    string            `yaml:"endpoint"`
	Params      map[string]string `yaml:"params"`
	Description string            `yaml:"description"`
}

type fieldSpec struct {
	Type         string `yaml:"type"`
	DBName       string `yaml:"db_name"`
	XMLAttribute bool   `yaml:"xml_attribute"`
	Many         bool   `yaml:"many"`
	Description  string `yaml:"description"`
	Example      string `yaml:"example"`
}

var (
	objectKeys = []string{"type", "name", "description", "many", "aggregate", "aggregation_field", "fields"}
	selectKeys = []string{"type", "endpoint", "params", "description"}
	fieldKeys  = []string{"type", "db_name", "xml_attribute", "many", "description", "example"}
)

func decodeNode(value *yaml.Node, path string) (Node, error) {
	if value.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%s: line %d: expected a mapping", path, value.Line)
	}
	keys := mappingKeys(value)

	kind := ""
	if t, ok := keys["type"]; ok {
		kind = t.Value
	}
	switch {
	case kind == "object" || (kind == "" && keys["fields"] != nil):
		return decodeObject(value, keys, path)
	case kind == "select" || (kind == "" && keys["endpoint"] != nil):
		return decodeSelect(value, keys, path)
	default:
		return decodeField(value, keys, path)
	}
}

func decodeObject(value *yaml.Node, keys map[string]*yaml.Node, path string) (Node, error) {
	if err := checkKeys(value, objectKeys, path); err != nil {
		return nil, err
	}
	var spec objectSpec
	if err := value.Decode(&spec); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	obj := &Object{
		Name:             spec.Name,
		Description:      spec.Description,
		Many:             spec.Many,
		Aggregate:        spec.Aggregate,
		AggregationField: spec.AggregationField,
	}
	fields := keys["fields"]
	if fields == nil {
		return obj, nil
	}
	if fields.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%s.fields: line %d: expected a mapping", path, fields.Line)
	}
	for i := 0; i+1 < len(fields.Content); i += 2 {
		name := fields.Content[i].Value
		child, err := decodeNode(fields.Content[i+1], path+"."+name)
		if err != nil {
			return nil, err
		}
		obj.Fields = append(obj.Fields, NamedNode{Name: name, Node: child})
	}
	return obj, nil
}

func decodeSelect(value *yaml.Node, _ map[string]*yaml.Node, path string) (Node, error) {
	if err := checkKeys(value, selectKeys, path); err != nil {
		return nil, err
	}
	var spec selectSpec
	if err := value.Decode(&spec); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	sel := &Select{Endpoint: spec.Endpoint, Description: spec.Description}
	for param, column := range spec.Params {
		sel.Params = append(sel.Params, SelectParam{Param: param, Column: column})
	}
	sort.Slice(sel.Params, func(i, j int) bool { return sel.Params[i].Param < sel.Params[j].Param })
	return sel, nil
}

func decodeField(value *yaml.Node, _ map[string]*yaml.Node, path string) (Node, error) {
	if err := checkKeys(value, fieldKeys, path); err != nil {
		return nil, err
	}
	var spec fieldSpec
	if err := value.Decode(&spec); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &Field{
		Type:         ParamType(spec.Type),
		Column:       spec.DBName,
		XMLAttribute: spec.XMLAttribute,
		Many:         spec.Many,
		Description:  spec.Description,
		Example:      spec.Example,
	}, nil
}

func mappingKeys(value *yaml.Node) map[string]*yaml.Node {
	keys := make(map[string]*yaml.Node, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		keys[value.Content[i].Value] = value.Content[i+1]
	}
	return keys
}

func checkKeys(value *yaml.Node, allowed []string, path string) error {
	var unknown []string
	for i := 0; i+1 < len(value.Content); i += 2 {
		key := value.Content[i].Value
		found := false
		for _, a := range allowed {
			if a == key {
				found = true
				break
			}
		}
		if !found {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("%s: line %d: unknown keys: %s", path, value.Line, strings.Join(unknown, ", "))
	}
	return nil
}
