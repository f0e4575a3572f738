// Package dispatch turns a natural-language query into a validated tool selection.
//
// A dispatch runs the state machine Querying -> Interpreting -> Validating and
// ends in exactly one of Succeeded or Rejected. Every failure becomes a Rejected
// outcome with a fixed, user-safe response; provider errors, raw model text and
// validation detail go to the logs only. The selected tool is never executed here.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/triage-ai/palisade/services/tool_dispatch/internal/interpret"
	"github.com/triage-ai/palisade/services/tool_dispatch/internal/provider"
	"github.com/triage-ai/palisade/services/tool_dispatch/internal/registry"
	"github.com/triage-ai/palisade/services/tool_dispatch/internal/storage"
	"github.com/triage-ai/palisade/services/tool_dispatch/internal/tool"
	"github.com/triage-ai/palisade/services/tool_dispatch/internal/validate"
)

// User-facing responses.
const (
	ProviderFailureMessage  = "I apologize, but I'm currently having trouble processing your request. Please try again later."
	ParseFailureMessage     = interpret.ParseFailureMessage
	EmptyQueryMessage       = "Please tell me what you would like to do with your todos."
	NoActionMessage         = "I'm not sure how to help with that. Could you describe what you would like to do?"
	UnknownToolMessage      = "I'm sorry, but that isn't something I can do with the available actions. Could you try asking in a different way?"
	UnknownParameterMessage = "I couldn't match every detail of your request to a supported option. Could you try rephrasing it?"
	DefaultSuccessMessage   = "Okay, I'll take care of that."
)

// DefaultSystemPrompt instructs the model to answer with the JSON envelope.
const DefaultSystemPrompt = `You are an assistant that maps a user's request onto exactly one tool of a Todo API.
Choose the single tool that fulfils the request and supply its parameters using only the parameter names the tool declares.
If no tool fits, or the request is not about todos, set "tool" to null and explain why.
Respond with JSON only, no prose and no code fences, using exactly this structure:
{
  "tool": {"name": "<tool name>", "parameters": {}} or null,
  "explanation": "A short, user-friendly explanation of what will be done"
}`

// DefaultTimeout bounds one provider round trip.
const DefaultTimeout = 15 * time.Second

// Request is one query to dispatch.
type Request struct {
	Query string
	// Source names the surface the query arrived on ("http", "grpc"). Recorded in events.
	Source string
	// RequestID is generated when empty.
	RequestID string
}

// Config configures a Dispatcher.
type Config struct {
	Registry registry.Snapshotter
	Provider provider.Provider
	// Events receives one event per dispatch. Optional.
	Events storage.EventWriter
	Logger *zap.Logger
	// SystemPrompt defaults to DefaultSystemPrompt.
	SystemPrompt string
	// Timeout bounds the provider call. Defaults to DefaultTimeout.
	Timeout time.Duration
	// Model is recorded in events.
	Model string
}

// Dispatcher composes the provider, interpreter and validator.
// It is safe for concurrent use; the only shared state is the read-only registry snapshot.
type Dispatcher struct {
	registry registry.Snapshotter
	provider provider.Provider
	events   storage.EventWriter
	logger   *zap.Logger
	prompt   string
	timeout  time.Duration
	model    string
}

// New creates a Dispatcher.
func New(cfg Config) *Dispatcher {
	d := &Dispatcher{
		registry: cfg.Registry,
		provider: cfg.Provider,
		events:   cfg.Events,
		logger:   cfg.Logger,
		prompt:   cfg.SystemPrompt,
		timeout:  cfg.Timeout,
		model:    cfg.Model,
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	if d.prompt == "" {
		d.prompt = DefaultSystemPrompt
	}
	if d.timeout == 0 {
		d.timeout = DefaultTimeout
	}
	return d
}

// run holds the per-dispatch state threaded through the machine.
type run struct {
	req       Request
	reg       registry.Registry
	raw       string
	candidate *interpret.Candidate
	outcome   Outcome
}

// Dispatch runs one query through the state machine. It always returns an Outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (out Outcome) {
	start := time.Now()
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}
	r := &run{req: req}

	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("dispatch panicked",
				zap.String("request_id", req.RequestID),
				zap.Any("panic", rec),
			)
			out = rejected(ProviderFailureMessage, FailureInternal)
		}
		out.RequestID = req.RequestID
		d.emit(r.req, out, time.Since(start))
	}()

	if strings.TrimSpace(req.Query) == "" {
		return rejected(EmptyQueryMessage, FailureEmptyQuery)
	}
	r.reg = d.registry.Snapshot()

	state := StateQuerying
	for state != StateSucceeded && state != StateRejected {
		switch state {
		case StateQuerying:
			state = d.query(ctx, r)
		case StateInterpreting:
			state = d.interpret(r)
		case StateValidating:
			state = d.validate(r)
		default:
			r.outcome = rejected(ProviderFailureMessage, FailureInternal)
			state = StateRejected
		}
	}
	return r.outcome
}

func (d *Dispatcher) query(ctx context.Context, r *run) State {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	tools := r.reg.All()
	raw, err := d.provider.Complete(ctx, provider.Request{
		System: buildSystemPrompt(d.prompt, tools),
		User:   r.req.Query,
		Tools:  tools,
	})
	if err != nil {
		fields := []zap.Field{
			zap.String("request_id", r.req.RequestID),
			zap.String("provider", d.provider.Name()),
			zap.Error(err),
		}
		var perr *provider.ProviderError
		if errors.As(err, &perr) && perr.StatusCode != 0 {
			fields = append(fields, zap.Int("status_code", perr.StatusCode))
		}
		d.logger.Warn("model provider call failed", fields...)
		r.outcome = rejected(ProviderFailureMessage, FailureProvider)
		return StateRejected
	}
	r.raw = raw
	return StateInterpreting
}

func (d *Dispatcher) interpret(r *run) State {
	res := interpret.Interpret(r.raw)
	switch res.Kind {
	case interpret.KindCandidate:
		r.candidate = res.Candidate
		r.outcome.Response = res.Explanation
		return StateValidating
	case interpret.KindExplanationOnly:
		msg := res.Explanation
		if strings.TrimSpace(msg) == "" {
			msg = NoActionMessage
		}
		r.outcome = rejected(msg, FailureExplanationOnly)
		return StateRejected
	default:
		d.logger.Warn("model reply could not be interpreted",
			zap.String("request_id", r.req.RequestID),
			zap.String("reason", res.Reason),
		)
		d.logger.Debug("uninterpretable model reply",
			zap.String("request_id", r.req.RequestID),
			zap.String("raw", r.raw),
		)
		r.outcome = rejected(ParseFailureMessage, FailureParse)
		return StateRejected
	}
}

func (d *Dispatcher) validate(r *run) State {
	c := r.candidate
	if _, err := validate.Validate(r.reg, c.ToolName, c.Parameters); err != nil {
		d.logger.Info("candidate tool selection rejected",
			zap.String("request_id", r.req.RequestID),
			zap.Error(err),
		)
		msg, kind := rejectionFor(err)
		r.outcome = rejected(msg, kind)
		return StateRejected
	}

	explanation := r.outcome.Response
	if strings.TrimSpace(explanation) == "" {
		explanation = DefaultSuccessMessage
	}
	r.outcome = Outcome{
		Response:     explanation,
		Success:      true,
		SelectedTool: c.ToolName,
		Parameters:   c.Parameters,
		State:        StateSucceeded,
	}
	return StateSucceeded
}

// rejectionFor maps a validation error to a user-safe message. Only names taken
// from the registry, never from model output, appear in the message.
func rejectionFor(err error) (string, FailureKind) {
	var (
		unknownTool  *validate.UnknownToolError
		missing      *validate.MissingParameterError
		unknownParam *validate.UnknownParameterError
		mismatch     *validate.TypeMismatchError
	)
	switch {
	case errors.As(err, &unknownTool):
		return UnknownToolMessage, FailureUnknownTool
	case errors.As(err, &missing):
		return fmt.Sprintf("I need a little more information to do that. Please include the %s.", missing.Name), FailureMissingParameter
	case errors.As(err, &unknownParam):
		return UnknownParameterMessage, FailureUnknownParameter
	case errors.As(err, &mismatch):
		return fmt.Sprintf("I couldn't understand the %s you gave. Could you rephrase your request?", mismatch.Key), FailureTypeMismatch
	}
	return ProviderFailureMessage, FailureInternal
}

func rejected(msg string, kind FailureKind) Outcome {
	return Outcome{Response: msg, State: StateRejected, Failure: kind}
}

// buildSystemPrompt appends a compact tool catalogue to the instructions,
// for providers that ignore native tool declarations.
func buildSystemPrompt(base string, defs []tool.Definition) string {
	catalogue, err := json.Marshal(defs)
	if err != nil {
		return base
	}
	return base + "\n\nAvailable tools:\n" + string(catalogue)
}

func (d *Dispatcher) emit(req Request, out Outcome, latency time.Duration) {
	if d.events == nil {
		return
	}
	var params string
	if out.Success {
		if b, err := json.Marshal(out.Parameters); err == nil {
			params = string(b)
		}
	}
	providerName := ""
	if d.provider != nil {
		providerName = d.provider.Name()
	}
	d.events.Write(&storage.DispatchEvent{
		RequestID:      req.RequestID,
		Timestamp:      time.Now().UTC(),
		Query:          req.Query,
		Provider:       providerName,
		Model:          d.model,
		State:          out.State.String(),
		Success:        out.Success,
		SelectedTool:   out.SelectedTool,
		ParametersJSON: params,
		FailureKind:    string(out.Failure),
		LatencyMs:      float32(latency.Microseconds()) / 1000,
		Source:         req.Source,
	})
}
