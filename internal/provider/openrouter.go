package provider

import (
	"context"
	"log/slog"

	"kestrel/internal/domain"
)

// OpenRouter implements domain.Provider against openrouter.ai, which
// speaks the chat-completions wire format. Requests carry the attribution
// headers OpenRouter asks integrations to send.
type OpenRouter struct {
	inner *OpenAI
}

type OpenRouterConfig struct {
	APIKey  string
	APIBase string
	Model   string
	Logger  *slog.Logger
}

func NewOpenRouter(cfg OpenRouterConfig) *OpenRouter {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://openrouter.ai/api/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "openai/gpt-4o-mini"
	}
	inner := NewOpenAI(OpenAIConfig{
		APIKey:  cfg.APIKey,
		APIBase: cfg.APIBase,
		Model:   cfg.Model,
		Logger:  cfg.Logger,
	})
	inner.name = "openrouter"
	inner.headers = map[string]string{
		"HTTP-Referer": "https://github.com/kestrel-agent/kestrel",
		"X-Title":      "kestrel",
	}
	return &OpenRouter{inner: inner}
}

func (o *OpenRouter) Name() string { return "openrouter" }

func (o *OpenRouter) Models() []string {
	return []string{"openai/gpt-4o", "openai/gpt-4o-mini", "anthropic/claude-sonnet-4", "google/gemini-2.0-flash-001", "meta-llama/llama-3.3-70b-instruct"}
}

func (o *OpenRouter) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	return o.inner.Chat(ctx, req)
}

var _ domain.Provider = (*OpenRouter)(nil)
