package provider

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// contentGenerator is the slice of genai.Models the Gemini provider uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content,
		config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini talks to the Gemini API through its native SDK.
type Gemini struct {
	models contentGenerator
	cfg    Config
}

// NewGemini creates a Gemini provider.
func NewGemini(ctx context.Context, cfg Config) (*Gemini, error) {
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("NewGemini: %w", err)
	}
	return &Gemini{models: client.Models, cfg: cfg}, nil
}

// newGeminiWithGenerator creates a provider over a custom generator (for testing).
func newGeminiWithGenerator(models contentGenerator, cfg Config) *Gemini {
	return &Gemini{models: models, cfg: cfg}
}

func (p *Gemini) Name() string { return "gemini" }

func (p *Gemini) Complete(ctx context.Context, req Request) (string, error) {
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(req.System, genai.RoleUser),
		Temperature:       genai.Ptr(float32(p.cfg.Temperature)),
	}
	if len(req.Tools) > 0 {
		config.Tools = convertGeminiTools(req)
	}
	contents := []*genai.Content{genai.NewContentFromText(req.User, genai.RoleUser)}

	resp, err := p.models.GenerateContent(ctx, p.cfg.model(), contents, config)
	if err != nil {
		return "", &ProviderError{Provider: p.Name(), Op: "generateContent", Err: err}
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", &ProviderError{Provider: p.Name(), Op: "generateContent", Err: errNoContent}
	}

	var text strings.Builder
	var call *genai.FunctionCall
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		text.WriteString(part.Text)
		if call == nil && part.FunctionCall != nil {
			call = part.FunctionCall
		}
	}
	if strings.TrimSpace(text.String()) != "" {
		return text.String(), nil
	}
	if call != nil {
		out, err := envelopeFromCall(call.Name, call.Args, "")
		if err != nil {
			return "", &ProviderError{Provider: p.Name(), Op: "generateContent", Err: err}
		}
		return out, nil
	}
	return "", &ProviderError{Provider: p.Name(), Op: "generateContent", Err: errNoContent}
}

func convertGeminiTools(req Request) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
	for _, t := range req.Tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:                 t.Name,
			Description:          t.Description,
			ParametersJsonSchema: t.Parameters.JSONSchema(),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}
