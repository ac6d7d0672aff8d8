package provider

import (
	"fmt"
	"log/slog"
	"time"
)

const (
	TypeGemini = "gemini"
	TypeOpenAI = "openai"
)

// Config describes one selectable model. Models lists the backend model
// variants tried in order.
type Config struct {
	Name    string        `yaml:"name"`
	Label   string        `yaml:"label"`
	Type    string        `yaml:"type"`
	Models  []string      `yaml:"models"`
	BaseURL string        `yaml:"baseURL"`
	Timeout time.Duration `yaml:"timeout"`
}

// Keys carries provider credentials, read from the environment.
type Keys struct {
	Google string `env:"GOOGLE_API_KEY"`
	OpenAI string `env:"OPENAI_API_KEY"`
}

func (k Keys) forType(providerType string) string {
	switch providerType {
	case TypeGemini:
		return k.Google
	case TypeOpenAI:
		return k.OpenAI
	default:
		return ""
	}
}

// DefaultConfigs mirrors the catalogue offered when no providers are configured.
func DefaultConfigs() []Config {
	return []Config{
		{Name: "gemini", Label: "Gemini", Type: TypeGemini, Models: []string{"gemini-3-pro-image-preview", "gemini-2.5-flash-image"}},
		{Name: "gpt-image-1", Label: "GPT Image 1", Type: TypeOpenAI, Models: []string{"gpt-image-1"}},
		{Name: "gpt-image-1.5", Label: "GPT Image 1.5", Type: TypeOpenAI, Models: []string{"gpt-image-1.5"}},
	}
}

// BuildRegistry registers every configured model whose credentials are present.
func BuildRegistry(configs []Config, keys Keys) (*Registry, error) {
	registry := NewRegistry()
	for _, cfg := range configs {
		key := keys.forType(cfg.Type)
		if key == "" {
			slog.Info("provider: skipping model without API key", "model", cfg.Name, "type", cfg.Type)
			continue
		}
		p, err := New(cfg, key)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(cfg.Name, cfg.Label, p); err != nil {
			return nil, err
		}
		slog.Info("provider: registered model", "model", cfg.Name, "variants", cfg.Models)
	}
	return registry, nil
}

// New builds the provider for cfg, wrapping its variants in a Fallback.
func New(cfg Config, apiKey string) (Provider, error) {
	models := cfg.Models
	if len(models) == 0 {
		models = []string{cfg.Name}
	}

	variants := make([]Provider, 0, len(models))
	switch cfg.Type {
	case TypeGemini:
		client := NewGeminiClient(cfg.BaseURL, apiKey, cfg.Timeout)
		for _, model := range models {
			variants = append(variants, NewGeminiProvider(client, model))
		}
	case TypeOpenAI:
		for _, model := range models {
			variants = append(variants, NewOpenAIProvider(cfg.BaseURL, apiKey, model, cfg.Timeout))
		}
	default:
		return nil, fmt.Errorf("unsupported provider type %q for model %s", cfg.Type, cfg.Name)
	}
	return NewFallback(cfg.Name, variants...)
}
