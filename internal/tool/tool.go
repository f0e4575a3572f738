// Package tool holds the tool definition types shared by the normalizer,
// the registry, the model providers and the parameter validator.
package tool

import "fmt"

// Primitive parameter types a tool schema may declare.
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeInteger = "integer"
	TypeBoolean = "boolean"
	TypeArray   = "array"
	TypeObject  = "object"
)

// Definition is one callable tool derived from a single API operation.
type Definition struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  Schema `json:"parameters"`
}

// Schema is the parameter schema of a tool. Type is always "object".
type Schema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required"`
}

// Property describes a single tool parameter.
// Type is empty when the source schema declared none (for example a oneOf body property).
type Property struct {
	Type        string     `json:"type,omitempty"`
	Description string     `json:"description,omitempty"`
	Enum        []string   `json:"enum,omitempty"`
	Items       *Property  `json:"items,omitempty"`
	OneOf       []Property `json:"oneOf,omitempty"`
}

// KnownType reports whether t is one of the six primitive parameter types.
func KnownType(t string) bool {
	switch t {
	case TypeString, TypeNumber, TypeInteger, TypeBoolean, TypeArray, TypeObject:
		return true
	}
	return false
}

// Check verifies the structural invariants of a definition:
// a non-empty name and every required name present in Properties.
func (d Definition) Check() error {
	if d.Name == "" {
		return fmt.Errorf("tool definition has empty name")
	}
	for _, r := range d.Parameters.Required {
		if _, ok := d.Parameters.Properties[r]; !ok {
			return fmt.Errorf("tool %q: required parameter %q has no property", d.Name, r)
		}
	}
	return nil
}

// JSONSchema renders the parameter schema as a plain map, the shape
// provider SDKs accept for function declarations.
func (s Schema) JSONSchema() map[string]any {
	props := make(map[string]any, len(s.Properties))
	for name, p := range s.Properties {
		props[name] = p.jsonSchema()
	}
	required := make([]any, len(s.Required))
	for i, r := range s.Required {
		required[i] = r
	}
	return map[string]any{
		"type":       TypeObject,
		"properties": props,
		"required":   required,
	}
}

func (p Property) jsonSchema() map[string]any {
	out := make(map[string]any, 4)
	if p.Type != "" {
		out["type"] = p.Type
	}
	if p.Description != "" {
		out["description"] = p.Description
	}
	if len(p.Enum) > 0 {
		enum := make([]any, len(p.Enum))
		for i, e := range p.Enum {
			enum[i] = e
		}
		out["enum"] = enum
	}
	if p.Items != nil {
		out["items"] = p.Items.jsonSchema()
	}
	if len(p.OneOf) > 0 {
		alts := make([]any, len(p.OneOf))
		for i, alt := range p.OneOf {
			alts[i] = alt.jsonSchema()
		}
		out["oneOf"] = alts
	}
	return out
}

// Clone returns a deep copy of d that shares no maps or slices with it.
func (d Definition) Clone() Definition {
	out := d
	out.Parameters.Properties = make(map[string]Property, len(d.Parameters.Properties))
	for name, p := range d.Parameters.Properties {
		out.Parameters.Properties[name] = p.clone()
	}
	out.Parameters.Required = append([]string{}, d.Parameters.Required...)
	return out
}

func (p Property) clone() Property {
	out := p
	if p.Enum != nil {
		out.Enum = append([]string{}, p.Enum...)
	}
	if p.Items != nil {
		items := p.Items.clone()
		out.Items = &items
	}
	if p.OneOf != nil {
		out.OneOf = make([]Property, len(p.OneOf))
		for i, alt := range p.OneOf {
			out.OneOf[i] = alt.clone()
		}
	}
	return out
}
