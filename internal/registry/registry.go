package registry

import (
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/triage-ai/palisade/services/tool_dispatch/internal/tool"
)

// Registry provides lookup over a set of tool definitions.
type Registry interface {
	// All returns every definition in source order.
	All() []tool.Definition
	// Find returns the definition with the given name.
	Find(name string) (tool.Definition, bool)
	// Arguments returns the compiled schema the named tool's arguments must satisfy.
	Arguments(name string) (*jsonschema.Schema, bool)
}

// Snapshotter hands out a registry that stays consistent for the duration of one request.
type Snapshotter interface {
	Snapshot() Registry
}

// Static is an immutable registry. It is safe for concurrent reads.
type Static struct {
	defs    []tool.Definition
	schemas []*jsonschema.Schema
	index   map[string]int
}

// NewStatic builds a registry from defs. Names must be unique and every
// definition must satisfy tool.Definition.Check. defs is copied; later
// changes to it do not reach the registry.
func NewStatic(defs []tool.Definition) (*Static, error) {
	s := &Static{
		defs:  make([]tool.Definition, len(defs)),
		index: make(map[string]int, len(defs)),
	}
	for i, d := range defs {
		if err := d.Check(); err != nil {
			return nil, fmt.Errorf("NewStatic: %w", err)
		}
		if _, dup := s.index[d.Name]; dup {
			return nil, fmt.Errorf("NewStatic: duplicate tool name %q", d.Name)
		}
		s.defs[i] = d.Clone()
		s.index[d.Name] = i
	}
	schemas, err := compileArguments(s.defs)
	if err != nil {
		return nil, fmt.Errorf("NewStatic: %w", err)
	}
	s.schemas = schemas
	return s, nil
}

// All returns deep copies of the definitions.
func (s *Static) All() []tool.Definition {
	out := make([]tool.Definition, len(s.defs))
	for i, d := range s.defs {
		out[i] = d.Clone()
	}
	return out
}

func (s *Static) Find(name string) (tool.Definition, bool) {
	i, ok := s.index[name]
	if !ok {
		return tool.Definition{}, false
	}
	return s.defs[i].Clone(), true
}

func (s *Static) Arguments(name string) (*jsonschema.Schema, bool) {
	i, ok := s.index[name]
	if !ok {
		return nil, false
	}
	return s.schemas[i], true
}

func (s *Static) Len() int { return len(s.defs) }

// Snapshot returns s itself; a Static never changes.
func (s *Static) Snapshot() Registry { return s }
