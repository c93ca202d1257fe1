package ai

import (
	"context"
	"fmt"
	"strings"
)

// Embedder provides embeddings for text. Index build and query time must
// use the same Embedder configuration so vectors are comparable.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// BatchEmbedder optionally supports embedding multiple texts at once.
type BatchEmbedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbedderConfig selects and configures an embedding provider.
type EmbedderConfig struct {
	Provider   string
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int
}

// NewEmbedder builds the Embedder for cfg.Provider. Every provider speaks
// the OpenAI embeddings API; "ollama" only changes the default base URL.
func NewEmbedder(cfg EmbedderConfig) (Embedder, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("embedding model required")
	}
	baseURL, err := providerBaseURL(cfg.Provider, cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("embedding: %w", err)
	}
	if strings.EqualFold(strings.TrimSpace(cfg.Provider), "ollama") && cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("embedding dim required for ollama")
	}
	return NewOpenAICompatEmbedder(NewOpenAICompatClient(baseURL, cfg.APIKey), cfg.Model, cfg.Dimensions), nil
}

const defaultOllamaBaseURL = "http://127.0.0.1:11434/v1"

func providerBaseURL(provider, baseURL string) (string, error) {
	switch p := strings.ToLower(strings.TrimSpace(provider)); p {
	case "", "openai", "openai-compat":
		return baseURL, nil
	case "ollama":
		if strings.TrimSpace(baseURL) == "" {
			return defaultOllamaBaseURL, nil
		}
		return baseURL, nil
	default:
		return "", fmt.Errorf("unknown provider: %s", p)
	}
}
