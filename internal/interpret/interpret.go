// Package interpret turns raw model text into a tagged result: a candidate
// tool selection, an explanation with no tool, or a parse failure.
//
// The text must be a JSON object of the form
//
//	{"tool": {"name": "...", "parameters": {...}} | null, "explanation": "..."}
//
// checked against a compiled JSON Schema before anything is read from it.
// Nothing is coerced: a shape that does not match is a parse failure.
package interpret

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ParseFailureMessage is the user-safe text returned when the model reply cannot be used.
const ParseFailureMessage = "I apologize, but I'm having trouble understanding how to help with that specific request. Could you try rephrasing it?"

// Kind tags a Result.
type Kind int

const (
	KindParseFailure Kind = iota
	KindExplanationOnly
	KindCandidate
)

func (k Kind) String() string {
	switch k {
	case KindExplanationOnly:
		return "explanation_only"
	case KindCandidate:
		return "candidate"
	default:
		return "parse_failure"
	}
}

// Candidate is the model's claimed tool choice. It is untrusted until validated.
type Candidate struct {
	ToolName   string
	Parameters map[string]any
}

// Result is the outcome of interpreting one reply.
type Result struct {
	Kind Kind
	// Candidate is set only for KindCandidate.
	Candidate *Candidate
	// Explanation is display text: the model's explanation, or ParseFailureMessage.
	Explanation string
	// Reason describes a parse failure for logs. Never shown to users.
	Reason string
}

const envelopeSchemaJSON = `{
	"type": "object",
	"required": ["explanation"],
	"properties": {
		"tool": {
			"oneOf": [
				{"type": "null"},
				{
					"type": "object",
					"required": ["name"],
					"properties": {
						"name": {"type": "string", "minLength": 1},
						"parameters": {"type": "object"}
					}
				}
			]
		},
		"explanation": {"type": "string"}
	}
}`

var envelopeSchema = mustCompileEnvelope()

func mustCompileEnvelope() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(envelopeSchemaJSON))
	if err != nil {
		panic(fmt.Sprintf("envelope schema: %v", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("envelope.json", doc); err != nil {
		panic(fmt.Sprintf("envelope schema: %v", err))
	}
	sch, err := c.Compile("envelope.json")
	if err != nil {
		panic(fmt.Sprintf("envelope schema: %v", err))
	}
	return sch
}

// Interpret parses raw model text. It never returns an error; every problem
// becomes a KindParseFailure result carrying ParseFailureMessage.
func Interpret(raw string) Result {
	body := stripFence(strings.TrimSpace(raw))

	inst, err := decodeSingle(body)
	if err != nil {
		return failure("invalid JSON: " + err.Error())
	}
	if err := envelopeSchema.Validate(inst); err != nil {
		return failure("envelope mismatch: " + err.Error())
	}

	env := inst.(map[string]any)
	explanation := env["explanation"].(string)

	toolVal, ok := env["tool"].(map[string]any)
	if !ok {
		// Absent or null.
		return Result{Kind: KindExplanationOnly, Explanation: explanation}
	}

	params, _ := toolVal["parameters"].(map[string]any)
	if params == nil {
		params = map[string]any{}
	}
	return Result{
		Kind: KindCandidate,
		Candidate: &Candidate{
			ToolName:   toolVal["name"].(string),
			Parameters: normalizeNumbers(params).(map[string]any),
		},
		Explanation: explanation,
	}
}

func failure(reason string) Result {
	return Result{Kind: KindParseFailure, Explanation: ParseFailureMessage, Reason: reason}
}

// stripFence removes one surrounding Markdown code fence (``` or ```json).
func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") || len(s) < 6 {
		return s
	}
	inner := s[3 : len(s)-3]
	nl := strings.IndexByte(inner, '\n')
	if nl < 0 {
		return s
	}
	if lang := strings.TrimSpace(inner[:nl]); lang != "" && !strings.EqualFold(lang, "json") {
		return s
	}
	return strings.TrimSpace(inner[nl+1:])
}

// decodeSingle decodes exactly one JSON value, keeping numbers as json.Number.
func decodeSingle(s string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after JSON value")
	}
	return v, nil
}

// normalizeNumbers replaces json.Number with int64 when the literal is an
// integer and float64 otherwise.
func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			t[k] = normalizeNumbers(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = normalizeNumbers(e)
		}
		return t
	case json.Number:
		if !strings.ContainsAny(string(t), ".eE") {
			if n, err := t.Int64(); err == nil {
				return n
			}
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t
	default:
		return v
	}
}
