package storage

import "time"

// EventWriter is the interface for writing dispatch events.
// Write() must NEVER block the caller.
type EventWriter interface {
	Write(event *DispatchEvent)
	Close()
}

// DispatchEvent records the outcome of one dispatch for later analysis.
// Query and parameters are stored for operators; they are never echoed to end users.
type DispatchEvent struct {
	RequestID      string
	Timestamp      time.Time
	Query          string
	Provider       string
	Model          string
	State          string // "succeeded", "rejected"
	Success        bool
	SelectedTool   string
	ParametersJSON string
	// FailureKind is empty on success, else one of "provider_error", "parse_failure",
	// "explanation_only", "unknown_tool", "missing_parameter", "unknown_parameter",
	// "type_mismatch", "empty_query", "internal".
	FailureKind string
	LatencyMs   float32
	Source      string // "http", "grpc"
}
