package llm

import (
	"context"
	"fmt"
	"log/slog"
)

// Client is the interface that all generative model providers implement.
type Client interface {
	// Chat sends a chat completion request and returns the response.
	// Used for classification and summarization, where the whole answer
	// is consumed at once.
	Chat(ctx context.Context, messages []Message, tools []map[string]any) (*ChatResponse, error)

	// ChatStream sends a chat request, streaming text tokens to callback
	// as they are generated. The returned response carries the complete
	// message, including any tool calls.
	ChatStream(ctx context.Context, messages []Message, tools []map[string]any, callback StreamCallback) (*ChatResponse, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}

// Config selects and configures a provider.
type Config struct {
	Provider        string
	Model           string
	AnthropicAPIKey string
	OllamaURL       string
}

// New constructs the configured provider. An unsupported provider name
// is a startup error, never a request-time one.
func New(cfg Config, logger *slog.Logger) (Client, error) {
	switch cfg.Provider {
	case "anthropic":
		return NewAnthropicClient(cfg.AnthropicAPIKey, cfg.Model, logger), nil
	case "ollama":
		return NewOllamaClient(cfg.OllamaURL, cfg.Model, logger), nil
	default:
		return nil, fmt.Errorf("llm: unsupported provider %q", cfg.Provider)
	}
}
