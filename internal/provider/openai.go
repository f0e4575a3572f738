package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	openai "github.com/openai/openai-go"
	openaiopt "github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAI talks to any OpenAI-compatible chat completions endpoint,
// including Gemini's compatibility endpoint.
type OpenAI struct {
	client openai.Client
	cfg    Config
}

// NewOpenAI creates an OpenAI-compatible provider. httpClient may be nil.
func NewOpenAI(cfg Config, httpClient *http.Client) *OpenAI {
	opts := []openaiopt.RequestOption{
		openaiopt.WithAPIKey(cfg.APIKey),
		// Retries belong to the caller.
		openaiopt.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openaiopt.WithBaseURL(cfg.BaseURL))
	}
	if httpClient != nil {
		opts = append(opts, openaiopt.WithHTTPClient(httpClient))
	}
	return &OpenAI{client: openai.NewClient(opts...), cfg: cfg}
}

func (p *OpenAI) Name() string { return "openai" }

func (p *OpenAI) Complete(ctx context.Context, req Request) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(p.cfg.model()),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.User),
		},
		Temperature: openai.Float(p.cfg.Temperature),
	}
	if len(req.Tools) > 0 {
		params.Tools = convertOpenAITools(req)
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		perr := &ProviderError{Provider: p.Name(), Op: "chat.completions", Err: err}
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			perr.StatusCode = apiErr.StatusCode
		}
		return "", perr
	}
	if len(completion.Choices) == 0 {
		return "", &ProviderError{Provider: p.Name(), Op: "chat.completions", Err: errNoContent}
	}

	msg := completion.Choices[0].Message
	if strings.TrimSpace(msg.Content) != "" {
		return msg.Content, nil
	}
	if len(msg.ToolCalls) > 0 {
		call := msg.ToolCalls[0].Function
		var args map[string]any
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			// Malformed arguments are handed on as-is and fail interpretation.
			return call.Arguments, nil
		}
		text, err := envelopeFromCall(call.Name, args, "")
		if err != nil {
			return "", &ProviderError{Provider: p.Name(), Op: "chat.completions", Err: err}
		}
		return text, nil
	}
	return "", &ProviderError{Provider: p.Name(), Op: "chat.completions", Err: errNoContent}
}

func convertOpenAITools(req Request) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(req.Tools))
	for _, t := range req.Tools {
		out = append(out, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  shared.FunctionParameters(t.Parameters.JSONSchema()),
			},
		})
	}
	return out
}
