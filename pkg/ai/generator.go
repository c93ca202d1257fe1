package ai

import (
	"context"
	"fmt"
	"strings"
)

// GenerateRequest is one chat completion. Model and MaxTokens fall back to
// the generator defaults when empty.
type GenerateRequest struct {
	Model        string
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int
}

// TextGenerator generates text from a system prompt and user prompt.
type TextGenerator interface {
	GenerateText(ctx context.Context, req GenerateRequest) (string, error)
}

// GeneratorConfig selects and configures a generation provider.
type GeneratorConfig struct {
	Provider     string
	BaseURL      string
	APIKey       string
	DefaultModel string
}

// NewGenerator builds the TextGenerator for cfg.Provider ("openai" by
// default, or "ollama" through its OpenAI-compatible endpoint).
func NewGenerator(cfg GeneratorConfig) (TextGenerator, error) {
	baseURL, err := providerBaseURL(cfg.Provider, cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("generation: %w", err)
	}
	return NewOpenAICompatGenerator(NewOpenAICompatClient(baseURL, cfg.APIKey), cfg.DefaultModel), nil
}

func pickModel(requested, fallback string) string {
	if m := strings.TrimSpace(requested); m != "" {
		return m
	}
	return strings.TrimSpace(fallback)
}
