package usage

import (
	"context"
	"log/slog"

	"github.com/meai/backend/internal/llm"
)

// Meter wraps an [llm.Client] and records token counts from every
// successful call under a fixed purpose tag. Recording is best-effort:
// a write failure is logged, never surfaced to the caller.
type Meter struct {
	inner   llm.Client
	store   *Store
	purpose string
	logger  *slog.Logger
}

// Metered wraps client so its calls are accounted under purpose. A nil
// store returns the client unwrapped.
func Metered(client llm.Client, store *Store, purpose string, logger *slog.Logger) llm.Client {
	if store == nil {
		return client
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Meter{
		inner:   client,
		store:   store,
		purpose: purpose,
		logger:  logger.With("purpose", purpose),
	}
}

func (m *Meter) Chat(ctx context.Context, messages []llm.Message, tools []map[string]any) (*llm.ChatResponse, error) {
	resp, err := m.inner.Chat(ctx, messages, tools)
	if err == nil {
		m.record(ctx, resp)
	}
	return resp, err
}

func (m *Meter) ChatStream(ctx context.Context, messages []llm.Message, tools []map[string]any, callback llm.StreamCallback) (*llm.ChatResponse, error) {
	resp, err := m.inner.ChatStream(ctx, messages, tools, callback)
	if err == nil {
		m.record(ctx, resp)
	}
	return resp, err
}

func (m *Meter) Ping(ctx context.Context) error {
	return m.inner.Ping(ctx)
}

func (m *Meter) record(ctx context.Context, resp *llm.ChatResponse) {
	// The record must survive a caller that disconnects mid-turn.
	err := m.store.Record(context.WithoutCancel(ctx), Record{
		Purpose:      m.purpose,
		Model:        resp.Model,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
	})
	if err != nil {
		m.logger.Warn("failed to record token usage", "error", err)
	}
}
