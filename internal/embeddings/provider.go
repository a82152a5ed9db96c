// Package embeddings provides vector embedding generation.
package embeddings

import (
	"context"
	"fmt"
	"log/slog"
)

// Provider turns text into a fixed-length vector.
type Provider interface {
	// Embed creates an embedding for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config selects and configures an embedding provider.
type Config struct {
	Provider  string
	Model     string
	APIKey    string // Gemini
	OllamaURL string
}

// New constructs the configured provider. An unsupported provider name
// is a startup error.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (Provider, error) {
	switch cfg.Provider {
	case "gemini":
		return NewGeminiProvider(ctx, cfg.APIKey, cfg.Model)
	case "ollama":
		return NewOllamaProvider(cfg.OllamaURL, cfg.Model), nil
	default:
		return nil, fmt.Errorf("embeddings: unsupported provider %q", cfg.Provider)
	}
}
