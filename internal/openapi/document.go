// Package openapi decodes OpenAPI descriptions and normalizes their operations
// into tool definitions.
//
// Decoding goes through yaml.v3 nodes so that path and operation order is kept
// exactly as written in the source; JSON documents decode the same way.
package openapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrNotOpenAPI is returned when a document has neither an openapi version nor paths.
var ErrNotOpenAPI = errors.New("not an OpenAPI document")

// httpMethods lists the path item keys that denote operations.
var httpMethods = map[string]bool{
	"get":     true,
	"put":     true,
	"post":    true,
	"delete":  true,
	"options": true,
	"head":    true,
	"patch":   true,
	"trace":   true,
}

// Document is the subset of an OpenAPI description the normalizer reads.
type Document struct {
	OpenAPI    string     `yaml:"openapi"`
	Paths      Paths      `yaml:"paths"`
	Components Components `yaml:"components"`
}

// Components holds the reusable objects that $ref pointers may target.
type Components struct {
	Schemas       map[string]*Schema      `yaml:"schemas"`
	Parameters    map[string]*Parameter   `yaml:"parameters"`
	RequestBodies map[string]*RequestBody `yaml:"requestBodies"`
}

// Paths is the ordered list of path items.
type Paths []PathItem

// PathItem is one entry of the paths object.
type PathItem struct {
	Path       string
	Parameters []*Parameter
	Operations []Operation
	// Malformed lists operation methods whose body could not be decoded.
	Malformed []string
}

// Operation is a single HTTP method on a path.
type Operation struct {
	Method      string       `yaml:"-"`
	OperationID string       `yaml:"operationId"`
	Summary     string       `yaml:"summary"`
	Description string       `yaml:"description"`
	Parameters  []*Parameter `yaml:"parameters"`
	RequestBody *RequestBody `yaml:"requestBody"`
	// Exclude drops the operation from the tool list (x-dispatch-exclude: true).
	Exclude bool `yaml:"x-dispatch-exclude"`
}

// Parameter is a path, query, header or cookie parameter.
type Parameter struct {
	Ref         string  `yaml:"$ref"`
	Name        string  `yaml:"name"`
	In          string  `yaml:"in"`
	Description string  `yaml:"description"`
	Required    bool    `yaml:"required"`
	Schema      *Schema `yaml:"schema"`

	malformed bool
}

// RequestBody is an operation's request body.
type RequestBody struct {
	Ref      string               `yaml:"$ref"`
	Required bool                 `yaml:"required"`
	Content  map[string]MediaType `yaml:"content"`
}

// MediaType is one content-type entry of a request body.
type MediaType struct {
	Schema *Schema `yaml:"schema"`
}

// Schema is the subset of JSON Schema the normalizer understands.
type Schema struct {
	Ref         string     `yaml:"$ref"`
	Type        SchemaType `yaml:"type"`
	Description string     `yaml:"description"`
	Enum        Enum       `yaml:"enum"`
	Items       *Schema    `yaml:"items"`
	Properties  Properties `yaml:"properties"`
	Required    []string   `yaml:"required"`
	OneOf       []*Schema  `yaml:"oneOf"`
	AnyOf       []*Schema  `yaml:"anyOf"`

	malformed bool
}

// Properties is the ordered properties object of a schema.
type Properties []NamedSchema

// NamedSchema is a single property entry.
type NamedSchema struct {
	Name   string
	Schema *Schema
}

// SchemaType is a declared schema type. OpenAPI 3.1 allows a list of types;
// the first non-null entry is kept.
type SchemaType string

// Enum is a list of allowed values rendered as strings.
type Enum []string

// Parse decodes a YAML or JSON OpenAPI description.
func Parse(data []byte) (*Document, error) {
	// Tab-indented JSON is not valid YAML; compacting strips the insignificant whitespace.
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
		var buf bytes.Buffer
		if err := json.Compact(&buf, trimmed); err != nil {
			return nil, fmt.Errorf("Parse: %w", err)
		}
		data = buf.Bytes()
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("Parse: %w", err)
	}
	if doc.OpenAPI == "" && len(doc.Paths) == 0 {
		return nil, ErrNotOpenAPI
	}
	return &doc, nil
}

// Load reads and parses the OpenAPI description at path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("Load: %w", err)
	}
	return Parse(data)
}

// UnmarshalYAML keeps the paths in source order.
func (p *Paths) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("paths: expected mapping, got %s", kindName(node.Kind))
	}
	items := make(Paths, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		path := node.Content[i].Value
		value := node.Content[i+1]
		if value.Kind != yaml.MappingNode {
			continue
		}
		items = append(items, decodePathItem(path, value))
	}
	*p = items
	return nil
}

func decodePathItem(path string, node *yaml.Node) PathItem {
	item := PathItem{Path: path}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := strings.ToLower(node.Content[i].Value)
		value := node.Content[i+1]

		if key == "parameters" {
			var params []*Parameter
			if err := value.Decode(&params); err == nil {
				item.Parameters = params
			}
			continue
		}
		// $ref, summary, servers and extensions are not operations.
		if !httpMethods[key] {
			continue
		}

		var op Operation
		if value.Kind != yaml.MappingNode || value.Decode(&op) != nil {
			item.Malformed = append(item.Malformed, key)
			continue
		}
		op.Method = key
		item.Operations = append(item.Operations, op)
	}
	return item
}

// UnmarshalYAML records a malformed parameter instead of failing the document.
func (p *Parameter) UnmarshalYAML(node *yaml.Node) error {
	type plain Parameter
	var v plain
	if node.Kind != yaml.MappingNode || node.Decode(&v) != nil {
		p.malformed = true
		return nil
	}
	*p = Parameter(v)
	return nil
}

// UnmarshalYAML records a malformed schema instead of failing the document.
func (s *Schema) UnmarshalYAML(node *yaml.Node) error {
	type plain Schema
	var v plain
	if node.Kind != yaml.MappingNode || node.Decode(&v) != nil {
		s.malformed = true
		return nil
	}
	*s = Schema(v)
	return nil
}

// UnmarshalYAML keeps the properties in source order.
func (p *Properties) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("properties: expected mapping, got %s", kindName(node.Kind))
	}
	props := make(Properties, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var s Schema
		if err := node.Content[i+1].Decode(&s); err != nil {
			s.malformed = true
		}
		props = append(props, NamedSchema{Name: node.Content[i].Value, Schema: &s})
	}
	*p = props
	return nil
}

// UnmarshalYAML accepts both `type: string` and `type: [string, "null"]`.
func (t *SchemaType) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*t = SchemaType(node.Value)
	case yaml.SequenceNode:
		for _, n := range node.Content {
			if n.Kind == yaml.ScalarNode && n.Value != "null" {
				*t = SchemaType(n.Value)
				return nil
			}
		}
	}
	return nil
}

// UnmarshalYAML keeps scalar enum values and drops anything else.
func (e *Enum) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.SequenceNode {
		return nil
	}
	values := make(Enum, 0, len(node.Content))
	for _, n := range node.Content {
		if n.Kind == yaml.ScalarNode && n.Tag != "!!null" {
			values = append(values, n.Value)
		}
	}
	*e = values
	return nil
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.DocumentNode:
		return "document"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	}
	return "unknown"
}
