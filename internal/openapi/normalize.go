package openapi

import (
	"fmt"
	"strings"

	"github.com/triage-ai/palisade/services/tool_dispatch/internal/tool"
)

const (
	jsonContentType = "application/json"
	maxRefDepth     = 16
)

// Issue is a non-fatal problem found while normalizing. The affected
// parameter or operation is skipped or recorded best-effort; the pass continues.
type Issue struct {
	Tool   string
	Detail string
}

func (i Issue) String() string {
	if i.Tool == "" {
		return i.Detail
	}
	return i.Tool + ": " + i.Detail
}

// Normalize converts every operation of doc into a tool definition, in source order.
//
// Names come from operationId, or are synthesized as method+path with every
// '/', '{' and '}' removed. A name already taken gets a numeric suffix
// ("_2", "_3", ...) in order of appearance, so the same document always
// yields the same names.
func Normalize(doc *Document) ([]tool.Definition, []Issue) {
	n := &normalizer{doc: doc, taken: make(map[string]bool)}
	var defs []tool.Definition
	for _, item := range doc.Paths {
		for _, method := range item.Malformed {
			n.issue("", fmt.Sprintf("%s %s: operation could not be decoded, skipped", strings.ToUpper(method), item.Path))
		}
		for _, op := range item.Operations {
			if op.Exclude {
				continue
			}
			defs = append(defs, n.operation(item, op))
		}
	}
	return defs, n.issues
}

type normalizer struct {
	doc    *Document
	taken  map[string]bool
	issues []Issue
}

func (n *normalizer) issue(toolName, detail string) {
	n.issues = append(n.issues, Issue{Tool: toolName, Detail: detail})
}

func (n *normalizer) operation(item PathItem, op Operation) tool.Definition {
	name := n.uniqueName(toolName(item.Path, op))
	def := tool.Definition{
		Name:        name,
		Description: toolDescription(item.Path, op),
		Parameters: tool.Schema{
			Type:       tool.TypeObject,
			Properties: make(map[string]tool.Property),
			Required:   []string{},
		},
	}

	// Path and query parameters first, then body properties; body wins on name clashes.
	for _, p := range n.mergedParameters(name, item.Parameters, op.Parameters) {
		prop := n.property(name, p.Name, p.Schema)
		prop.Description = p.Description
		if prop.Description == "" {
			prop.Description = fmt.Sprintf("%s parameter %s", p.In, p.Name)
		}
		def.Parameters.Properties[p.Name] = prop
		if p.Required {
			def.Parameters.Required = append(def.Parameters.Required, p.Name)
		}
	}

	body := n.bodySchema(name, op.RequestBody)
	if body != nil {
		for _, ns := range body.Properties {
			def.Parameters.Properties[ns.Name] = n.property(name, ns.Name, ns.Schema)
		}
		for _, r := range body.Required {
			if _, ok := def.Parameters.Properties[r]; !ok {
				n.issue(name, fmt.Sprintf("required body property %q is not declared, ignored", r))
				continue
			}
			def.Parameters.Required = append(def.Parameters.Required, r)
		}
	}

	def.Parameters.Required = dedupe(def.Parameters.Required)
	return def
}

// uniqueName returns base, or base with the first free numeric suffix.
func (n *normalizer) uniqueName(base string) string {
	name := base
	for i := 2; n.taken[name]; i++ {
		name = fmt.Sprintf("%s_%d", base, i)
	}
	n.taken[name] = true
	return name
}

func toolName(path string, op Operation) string {
	if op.OperationID != "" {
		return op.OperationID
	}
	r := strings.NewReplacer("/", "", "{", "", "}", "")
	return op.Method + r.Replace(path)
}

func toolDescription(path string, op Operation) string {
	switch {
	case op.Summary != "":
		return op.Summary
	case op.Description != "":
		return op.Description
	default:
		return strings.ToUpper(op.Method) + " " + path
	}
}

// mergedParameters resolves path-level and operation-level parameters.
// An operation parameter replaces a path-level one with the same name and location.
// Only path and query parameters are kept.
func (n *normalizer) mergedParameters(toolName string, pathLevel, opLevel []*Parameter) []*Parameter {
	var out []*Parameter
	index := make(map[string]int)
	for _, group := range [][]*Parameter{pathLevel, opLevel} {
		for _, raw := range group {
			p := n.resolveParameter(toolName, raw)
			if p == nil {
				continue
			}
			if p.In != "path" && p.In != "query" {
				continue
			}
			key := p.In + ":" + p.Name
			if i, ok := index[key]; ok {
				out[i] = p
				continue
			}
			index[key] = len(out)
			out = append(out, p)
		}
	}
	return out
}

func (n *normalizer) resolveParameter(toolName string, p *Parameter) *Parameter {
	for depth := 0; p != nil && p.Ref != ""; depth++ {
		if depth >= maxRefDepth {
			n.issue(toolName, fmt.Sprintf("parameter reference %q too deep, skipped", p.Ref))
			return nil
		}
		target, ok := n.doc.Components.Parameters[strings.TrimPrefix(p.Ref, "#/components/parameters/")]
		if !ok || !strings.HasPrefix(p.Ref, "#/components/parameters/") {
			n.issue(toolName, fmt.Sprintf("unresolved parameter reference %q, skipped", p.Ref))
			return nil
		}
		p = target
	}
	if p == nil || p.malformed || p.Name == "" {
		n.issue(toolName, "malformed parameter skipped")
		return nil
	}
	return p
}

func (n *normalizer) bodySchema(toolName string, body *RequestBody) *Schema {
	for depth := 0; body != nil && body.Ref != ""; depth++ {
		name := strings.TrimPrefix(body.Ref, "#/components/requestBodies/")
		target, ok := n.doc.Components.RequestBodies[name]
		if !ok || depth >= maxRefDepth || !strings.HasPrefix(body.Ref, "#/components/requestBodies/") {
			n.issue(toolName, fmt.Sprintf("unresolved request body reference %q, body ignored", body.Ref))
			return nil
		}
		body = target
	}
	if body == nil {
		return nil
	}
	media, ok := body.Content[jsonContentType]
	if !ok || media.Schema == nil {
		return nil
	}
	schema := n.resolveSchema(toolName, media.Schema)
	if schema == nil {
		return nil
	}
	if len(schema.Properties) == 0 {
		n.issue(toolName, "JSON request body has no properties, body ignored")
		return nil
	}
	return schema
}

func (n *normalizer) resolveSchema(toolName string, s *Schema) *Schema {
	for depth := 0; s != nil && s.Ref != ""; depth++ {
		name := strings.TrimPrefix(s.Ref, "#/components/schemas/")
		target, ok := n.doc.Components.Schemas[name]
		if !ok || depth >= maxRefDepth || !strings.HasPrefix(s.Ref, "#/components/schemas/") {
			n.issue(toolName, fmt.Sprintf("unresolved schema reference %q", s.Ref))
			return nil
		}
		s = target
	}
	return s
}

// property converts a schema to a tool property. A schema without a usable
// type keeps an empty type rather than a guessed one.
func (n *normalizer) property(toolName, paramName string, raw *Schema) tool.Property {
	return n.convert(toolName, paramName, raw, 0)
}

func (n *normalizer) convert(toolName, paramName string, raw *Schema, depth int) tool.Property {
	s := n.resolveSchema(toolName, raw)
	if s == nil || s.malformed {
		n.issue(toolName, fmt.Sprintf("parameter %q has no usable schema, recorded without type", paramName))
		return tool.Property{}
	}

	prop := tool.Property{
		Type:        string(s.Type),
		Description: s.Description,
		Enum:        []string(s.Enum),
	}
	if depth >= maxRefDepth {
		return prop
	}
	if s.Items != nil {
		items := n.convert(toolName, paramName, s.Items, depth+1)
		prop.Items = &items
	}
	alts := s.OneOf
	if len(alts) == 0 {
		alts = s.AnyOf
	}
	for _, alt := range alts {
		prop.OneOf = append(prop.OneOf, n.convert(toolName, paramName, alt, depth+1))
	}

	if prop.Type == "" && len(prop.OneOf) == 0 {
		n.issue(toolName, fmt.Sprintf("parameter %q declares no type", paramName))
	} else if prop.Type != "" && !tool.KnownType(prop.Type) {
		n.issue(toolName, fmt.Sprintf("parameter %q declares unsupported type %q", paramName, prop.Type))
	}
	return prop
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := names[:0]
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}
