package dispatch

import "encoding/json"

// State is a step of the dispatch state machine.
type State int

const (
	StateQuerying State = iota
	StateInterpreting
	StateValidating
	StateSucceeded
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateQuerying:
		return "querying"
	case StateInterpreting:
		return "interpreting"
	case StateValidating:
		return "validating"
	case StateSucceeded:
		return "succeeded"
	case StateRejected:
		return "rejected"
	}
	return "unknown"
}

// FailureKind classifies a rejected dispatch for logs and events.
type FailureKind string

const (
	FailureNone             FailureKind = ""
	FailureEmptyQuery       FailureKind = "empty_query"
	FailureProvider         FailureKind = "provider_error"
	FailureParse            FailureKind = "parse_failure"
	FailureExplanationOnly  FailureKind = "explanation_only"
	FailureUnknownTool      FailureKind = "unknown_tool"
	FailureMissingParameter FailureKind = "missing_parameter"
	FailureUnknownParameter FailureKind = "unknown_parameter"
	FailureTypeMismatch     FailureKind = "type_mismatch"
	FailureInternal         FailureKind = "internal"
)

// Outcome is the final, display-safe result of one dispatch.
// SelectedTool and Parameters are set only when Success is true.
type Outcome struct {
	Response     string
	Success      bool
	SelectedTool string
	Parameters   map[string]any

	RequestID string
	State     State
	Failure   FailureKind
}

type outcomeJSON struct {
	Response     string          `json:"response"`
	Success      bool            `json:"success"`
	SelectedTool string          `json:"selectedTool,omitempty"`
	Parameters   *map[string]any `json:"parameters,omitempty"`
}

// MarshalJSON renders {response, success, selectedTool?, parameters?}.
// An empty parameter mapping on success is still emitted as {}.
func (o Outcome) MarshalJSON() ([]byte, error) {
	out := outcomeJSON{Response: o.Response, Success: o.Success}
	if o.Success {
		out.SelectedTool = o.SelectedTool
		params := o.Parameters
		if params == nil {
			params = map[string]any{}
		}
		out.Parameters = &params
	}
	return json.Marshal(out)
}
