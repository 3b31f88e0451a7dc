package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

type GeminiProvider struct {
	client *genai.Client
	Model  string
}

func NewGeminiProvider(ctx context.Context, apiKey, model string) (*GeminiProvider, error) {
	return newGeminiProvider(ctx, apiKey, model, genai.HTTPOptions{})
}

func newGeminiProvider(ctx context.Context, apiKey, model string, httpOpts genai.HTTPOptions) (*GeminiProvider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("gemini: api key is required")
	}
	if model == "" {
		model = "gemini-2.5-flash-lite"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: httpOpts,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	return &GeminiProvider{client: client, Model: model}, nil
}

func (p *GeminiProvider) Complete(ctx context.Context, req Request) (string, error) {
	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, m := range req.History {
		contents = append(contents, genai.NewContentFromText(m.Content, geminiRole(m.Role)))
	}
	contents = append(contents, genai.NewContentFromText(req.Input, genai.RoleUser))

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(req.Temperature),
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.Model, contents, cfg)
	if err != nil {
		return "", classifyGemini(err)
	}
	return resp.Text(), nil
}

func geminiRole(role string) genai.Role {
	if role == RoleModel || role == "assistant" {
		return genai.RoleModel
	}
	return genai.RoleUser
}

// classifyGemini decides the ErrorKind from the SDK's APIError code and status.
func classifyGemini(err error) error {
	kind := KindOther

	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		kind = geminiKind(apiErr.Code, apiErr.Status)
	case errors.As(err, &apiErrPtr):
		kind = geminiKind(apiErrPtr.Code, apiErrPtr.Status)
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindUnavailable
	}
	return &ProviderError{Kind: kind, Provider: "gemini", Err: err}
}

func geminiKind(code int, status string) ErrorKind {
	switch strings.ToUpper(status) {
	case "RESOURCE_EXHAUSTED":
		return KindQuota
	case "UNAVAILABLE", "DEADLINE_EXCEEDED":
		return KindUnavailable
	}
	return kindForStatus(code)
}
