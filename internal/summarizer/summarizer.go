// Package summarizer maintains the rolling conversation summary. After
// each persisted Human or AI message it decides whether the summary is
// due for a refresh, folds the newest messages into the previous
// summary, and replaces the stored text.
package summarizer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/meai/backend/internal/config"
	"github.com/meai/backend/internal/events"
	"github.com/meai/backend/internal/llm"
	"github.com/meai/backend/internal/prompts"
	"github.com/meai/backend/internal/store"
)

// Summarizer regenerates conversation summaries on a message-count
// interval.
type Summarizer struct {
	store  *store.Store
	client llm.Client
	cfg    config.SummaryConfig
	bus    *events.Bus
	logger *slog.Logger
}

// New creates a Summarizer.
func New(st *store.Store, client llm.Client, cfg config.SummaryConfig, bus *events.Bus, logger *slog.Logger) *Summarizer {
	return &Summarizer{
		store:  st,
		client: client,
		cfg:    cfg,
		bus:    bus,
		logger: logger.With("component", "summarizer"),
	}
}

// MaybeUpdate refreshes the conversation summary if the Human/AI
// message count has reached the configured interval. Summarization is
// best-effort: failures are logged and the previous summary stays in
// place. The conversation itself is never failed by a summary error.
func (s *Summarizer) MaybeUpdate(ctx context.Context, conversationID string) {
	embeddable := []store.MessageType{store.TypeHuman, store.TypeAI}

	count, err := s.store.CountMessages(ctx, conversationID, embeddable)
	if err != nil {
		s.logger.Warn("summary skipped: count failed", "conversation_id", conversationID, "error", err)
		return
	}
	if count == 0 || count%s.cfg.Interval != 0 {
		return
	}

	previous, lastCount, err := s.store.SummaryState(ctx, conversationID)
	if err != nil {
		s.logger.Warn("summary skipped: load failed", "conversation_id", conversationID, "error", err)
		return
	}
	if count <= lastCount {
		return
	}

	// The batch is every Human/AI message added since the last
	// successful refresh, not a fixed interval's worth: a turn persists
	// more than one message, and a failed refresh leaves its messages
	// for the next one.
	recent, err := s.store.RecentMessages(ctx, conversationID, embeddable, count-lastCount)
	if err != nil {
		s.logger.Warn("summary skipped: message load failed", "conversation_id", conversationID, "error", err)
		return
	}
	if len(recent) == 0 {
		return
	}

	summary, err := s.generate(ctx, previous, recent)
	if err != nil {
		s.logger.Warn("summary generation failed, keeping previous",
			"conversation_id", conversationID, "error", err)
		return
	}
	if summary == "" {
		s.logger.Warn("summary generation returned empty text, keeping previous",
			"conversation_id", conversationID)
		return
	}

	if err := s.store.ReplaceSummary(ctx, conversationID, summary, count); err != nil {
		s.logger.Warn("summary store failed", "conversation_id", conversationID, "error", err)
		return
	}
	s.logger.Debug("summary updated", "conversation_id", conversationID, "words", wordCount(summary))
	s.bus.Publish(events.Event{
		Timestamp: time.Now(), Source: events.SourceSummarizer, Kind: events.KindSummaryUpdated,
		Data: map[string]any{
			"conversation_id": conversationID,
			"words":           wordCount(summary),
		},
	})
}

func (s *Summarizer) generate(ctx context.Context, previous string, msgs []store.Message) (string, error) {
	var lines []string
	for _, m := range msgs {
		lines = append(lines, fmt.Sprintf("%s: %s", m.Type, m.Content))
	}
	formatted := strings.Join(lines, "\n")

	var prompt string
	if previous == "" {
		prompt = prompts.InitialSummaryPrompt(formatted, s.cfg.MaxWords)
	} else {
		prompt = prompts.UpdateSummaryPrompt(previous, formatted, s.cfg.MaxWords)
	}

	callCtx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.TimeoutSec)*time.Second)
	defer cancel()

	resp, err := s.client.Chat(callCtx, []llm.Message{
		{Role: llm.RoleSystem, Content: prompts.System},
		{Role: llm.RoleUser, Content: prompt},
	}, nil)
	if err != nil {
		return "", err
	}

	return ClipWords(strings.TrimSpace(resp.Message.Content), s.cfg.MaxWords), nil
}

// ClipWords truncates text to at most maxWords whitespace-separated
// words. The model is asked to respect the bound; clipping enforces it
// when the model does not.
func ClipWords(text string, maxWords int) string {
	words := strings.Fields(text)
	if len(words) <= maxWords {
		return text
	}
	return strings.Join(words[:maxWords], " ")
}

func wordCount(text string) int {
	return len(strings.Fields(text))
}
