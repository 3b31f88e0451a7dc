package ai

import (
	"context"
	"errors"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// OpenAIProvider talks to any OpenAI-compatible chat completions endpoint
// (Groq, OpenRouter, Ollama's /v1).
type OpenAIProvider struct {
	Client *openai.Client
	Model  string
}

func NewOpenAIProvider(baseURL, apiKey, model string) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &OpenAIProvider{
		Client: openai.NewClientWithConfig(cfg),
		Model:  model,
	}
}

func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (string, error) {
	model := strings.TrimSpace(p.Model)
	if model == "" {
		return "", &ProviderError{Kind: KindOther, Provider: "openai", Err: errors.New("model is required")}
	}

	msgs := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, m := range req.History {
		role := openai.ChatMessageRoleUser
		if m.Role == RoleModel || m.Role == openai.ChatMessageRoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Input})

	resp, err := p.Client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    msgs,
		Temperature: req.Temperature,
	})
	if err != nil {
		return "", classifyOpenAI(err)
	}
	if len(resp.Choices) == 0 {
		return "", &ProviderError{Kind: KindOther, Provider: "openai", Err: errors.New("empty response")}
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func classifyOpenAI(err error) error {
	kind := KindOther

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		kind = kindForStatus(apiErr.HTTPStatusCode)
	case errors.As(err, &reqErr):
		kind = kindForStatus(reqErr.HTTPStatusCode)
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindUnavailable
	}
	return &ProviderError{Kind: kind, Provider: "openai", Err: err}
}
