package registry

import (
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/triage-ai/palisade/services/tool_dispatch/internal/tool"
)

// compileArguments compiles one argument schema per definition. Argument
// schemas are closed: keys the tool does not declare are rejected.
func compileArguments(defs []tool.Definition) ([]*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	urls := make([]string, len(defs))
	for i, d := range defs {
		doc := d.Parameters.JSONSchema()
		doc["additionalProperties"] = false
		closeUnknownTypes(doc)

		urls[i] = fmt.Sprintf("tool-%d.json", i)
		if err := c.AddResource(urls[i], doc); err != nil {
			return nil, fmt.Errorf("tool %q: argument schema: %w", d.Name, err)
		}
	}

	schemas := make([]*jsonschema.Schema, len(defs))
	for i, d := range defs {
		sch, err := c.Compile(urls[i])
		if err != nil {
			return nil, fmt.Errorf("tool %q: argument schema: %w", d.Name, err)
		}
		schemas[i] = sch
	}
	return schemas, nil
}

// closeUnknownTypes replaces every property whose type is not one of the
// primitive types with the false schema, which no value satisfies.
func closeUnknownTypes(doc map[string]any) {
	props, _ := doc["properties"].(map[string]any)
	for name, p := range props {
		props[name] = closeProperty(p)
	}
}

func closeProperty(v any) any {
	p, ok := v.(map[string]any)
	if !ok {
		return v
	}
	if t, ok := p["type"].(string); ok && !tool.KnownType(t) {
		return false
	}
	if items, ok := p["items"]; ok {
		p["items"] = closeProperty(items)
	}
	if alts, ok := p["oneOf"].([]any); ok {
		for i, alt := range alts {
			alts[i] = closeProperty(alt)
		}
	}
	return p
}
