// Package provider sends a query and the tool list to a language model and
// returns the raw text of the top completion.
//
// Providers perform exactly one round trip per call and never retry;
// callers bound the call with a context deadline.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/triage-ai/palisade/services/tool_dispatch/internal/tool"
)

// Default model settings.
const (
	DefaultModel       = "gemini-2.0-flash"
	DefaultTemperature = 0.0
	// GeminiOpenAIBaseURL is Gemini's OpenAI-compatible endpoint.
	GeminiOpenAIBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"
)

// Request is one completion request.
type Request struct {
	System string
	User   string
	Tools  []tool.Definition
}

// Provider completes a chat given a system instruction, a user message and tool declarations.
type Provider interface {
	// Name identifies the provider in logs and events.
	Name() string
	// Complete returns the text of the top completion choice.
	// Every failure is returned as a *ProviderError.
	Complete(ctx context.Context, req Request) (string, error)
}

// Config configures a provider.
type Config struct {
	Model       string
	Temperature float64
	APIKey      string
	// BaseURL overrides the provider endpoint. Optional.
	BaseURL string
}

func (c Config) model() string {
	if c.Model == "" {
		return DefaultModel
	}
	return c.Model
}

// ProviderError reports a failed provider round trip: a transport error,
// a non-success status, a cancelled context or a completion without content.
type ProviderError struct {
	Provider string
	Op       string
	// StatusCode is the HTTP status when the provider returned one, else 0.
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Provider, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// errNoContent is wrapped when the top choice carries neither text nor a tool call.
var errNoContent = errors.New("completion has no message content")

// envelopeFromCall renders a native function call as the JSON envelope the
// interpreter expects, so both reply styles flow through the same parser.
func envelopeFromCall(name string, args map[string]any, explanation string) (string, error) {
	if args == nil {
		args = map[string]any{}
	}
	out, err := json.Marshal(map[string]any{
		"tool":        map[string]any{"name": name, "parameters": args},
		"explanation": explanation,
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// New builds the provider named kind: "openai" (any OpenAI-compatible endpoint) or "gemini".
func New(ctx context.Context, kind string, cfg Config) (Provider, error) {
	switch kind {
	case "", "openai":
		return NewOpenAI(cfg, nil), nil
	case "gemini":
		return NewGemini(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown provider %q", kind)
	}
}
