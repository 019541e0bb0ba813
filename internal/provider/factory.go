package provider

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"kestrel/internal/config"
	"kestrel/internal/domain"
)

// Factory builds provider adapters from configuration and caches them by
// name. The adapter set is closed: openai, claude, gemini and openrouter.
// Any other name with a configured API base is treated as an
// OpenAI-compatible endpoint.
type Factory struct {
	mu     sync.RWMutex
	cfg    *config.Config
	cache  map[string]domain.Provider
	logger *slog.Logger
}

func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{
		cfg:    cfg,
		cache:  make(map[string]domain.Provider),
		logger: logger,
	}
}

// Get returns the adapter for the named provider, building it on first use.
func (f *Factory) Get(name string) (domain.Provider, error) {
	if name == "" {
		return nil, fmt.Errorf("provider name is required")
	}

	f.mu.RLock()
	p, ok := f.cache[name]
	f.mu.RUnlock()
	if ok {
		return p, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.cache[name]; ok {
		return p, nil
	}

	p, err := f.build(name)
	if err != nil {
		return nil, err
	}
	f.cache[name] = p
	return p, nil
}

func (f *Factory) build(name string) (domain.Provider, error) {
	pc := f.cfg.Providers[name]

	switch name {
	case "openai":
		return NewOpenAI(OpenAIConfig{
			APIKey:  pc.APIKey,
			APIBase: pc.APIBase,
			Model:   pc.Model,
			Logger:  f.logger,
		}), nil
	case "claude":
		return NewClaude(ClaudeConfig{
			APIKey:  pc.APIKey,
			APIBase: pc.APIBase,
			Model:   pc.Model,
			Logger:  f.logger,
		}), nil
	case "gemini":
		return NewGemini(GeminiConfig{
			APIKey:  pc.APIKey,
			APIBase: pc.APIBase,
			Model:   pc.Model,
			Logger:  f.logger,
		}), nil
	case "openrouter":
		return NewOpenRouter(OpenRouterConfig{
			APIKey:  pc.APIKey,
			APIBase: pc.APIBase,
			Model:   pc.Model,
			Logger:  f.logger,
		}), nil
	}

	if pc.APIBase == "" {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}

	f.logger.Info("treating unknown provider as OpenAI-compatible",
		"provider", name, "apiBase", pc.APIBase)
	p := NewOpenAI(OpenAIConfig{
		APIKey:  pc.APIKey,
		APIBase: pc.APIBase,
		Model:   pc.Model,
		Logger:  f.logger,
	})
	p.name = name
	return p, nil
}

// Names returns the provider names configured, sorted, whether or not an
// adapter has been built for them yet.
func (f *Factory) Names() []string {
	names := make([]string, 0, len(f.cfg.Providers))
	for name := range f.cfg.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
