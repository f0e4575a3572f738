// Package validate checks a candidate tool selection against the registry.
//
// Arguments are checked against the tool's compiled JSON Schema. Reporting is
// fail-fast and deterministic: the tool is resolved first, then required
// parameters are reported in declared order, then supplied keys in sorted order
// (unknown key, then value). Only the first failure is returned.
package validate

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"

	"github.com/triage-ai/palisade/services/tool_dispatch/internal/registry"
	"github.com/triage-ai/palisade/services/tool_dispatch/internal/tool"
)

// UnknownToolError means the named tool is not in the registry.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string { return fmt.Sprintf("unknown tool %q", e.Name) }

// MissingParameterError means a required parameter was not supplied.
type MissingParameterError struct {
	Tool string
	Name string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("tool %q: missing required parameter %q", e.Tool, e.Name)
}

// UnknownParameterError means a supplied parameter is not declared by the tool.
type UnknownParameterError struct {
	Tool string
	Key  string
}

func (e *UnknownParameterError) Error() string {
	return fmt.Sprintf("tool %q: unknown parameter %q", e.Tool, e.Key)
}

// TypeMismatchError means a supplied value does not satisfy the declared schema:
// wrong type, a value outside the enum, or no matching oneOf alternative.
type TypeMismatchError struct {
	Tool     string
	Key      string
	Expected string
	Actual   any
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("tool %q: parameter %q expects %s, got %s", e.Tool, e.Key, e.Expected, Describe(e.Actual))
}

// Validate checks params for the tool called name and returns the tool definition
// on success. params is not modified.
func Validate(reg registry.Registry, name string, params map[string]any) (tool.Definition, error) {
	def, ok := reg.Find(name)
	if !ok {
		return tool.Definition{}, &UnknownToolError{Name: name}
	}
	sch, ok := reg.Arguments(name)
	if !ok {
		return tool.Definition{}, &UnknownToolError{Name: name}
	}
	if params == nil {
		params = map[string]any{}
	}

	err := sch.Validate(params)
	if err == nil {
		return def, nil
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return tool.Definition{}, fmt.Errorf("Validate %s: %w", name, err)
	}
	return tool.Definition{}, firstViolation(def, params, verr)
}

// firstViolation turns the schema errors into the single error reported to
// the caller, following the fail-fast order.
func firstViolation(def tool.Definition, params map[string]any, verr *jsonschema.ValidationError) error {
	var missing []string
	unknown := map[string]bool{}
	invalid := map[string]bool{}
	for _, cause := range verr.Causes {
		switch k := cause.ErrorKind.(type) {
		case *kind.Required:
			missing = k.Missing
		case *kind.AdditionalProperties:
			for _, p := range k.Properties {
				unknown[p] = true
			}
		default:
			if len(cause.InstanceLocation) > 0 {
				invalid[cause.InstanceLocation[0]] = true
			}
		}
	}

	if len(missing) > 0 {
		return &MissingParameterError{Tool: def.Name, Name: missing[0]}
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if unknown[k] {
			return &UnknownParameterError{Tool: def.Name, Key: k}
		}
		if invalid[k] {
			return &TypeMismatchError{Tool: def.Name, Key: k, Expected: expected(def.Parameters.Properties[k]), Actual: params[k]}
		}
	}
	return &TypeMismatchError{Tool: def.Name, Expected: tool.TypeObject, Actual: params}
}

// expected describes what prop accepts, for messages and logs.
func expected(prop tool.Property) string {
	switch {
	case prop.Type != "" && len(prop.Enum) > 0:
		return fmt.Sprintf("%s (one of %s)", prop.Type, strings.Join(prop.Enum, ", "))
	case prop.Type == tool.TypeArray && prop.Items != nil && prop.Items.Type != "":
		return "array of " + prop.Items.Type
	case prop.Type != "" || len(prop.OneOf) == 0:
		return prop.Type
	}
	alts := make([]string, len(prop.OneOf))
	for i, alt := range prop.OneOf {
		alts[i] = alt.Type
		if alts[i] == "" {
			alts[i] = expected(alt)
		}
	}
	return strings.Join(alts, " or ")
}

// Describe names the JSON kind of v for messages and logs.
func Describe(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	case json.Number, float32, float64, int, int32, int64:
		return "number"
	}
	return fmt.Sprintf("%T", v)
}
