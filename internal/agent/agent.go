// Package agent runs conversation turns: persist the user message,
// classify tool intent, assemble context, drive the model/tool cycle,
// and persist everything the turn produced.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/meai/backend/internal/assembler"
	"github.com/meai/backend/internal/config"
	"github.com/meai/backend/internal/embeddings"
	"github.com/meai/backend/internal/events"
	"github.com/meai/backend/internal/intent"
	"github.com/meai/backend/internal/llm"
	"github.com/meai/backend/internal/store"
	"github.com/meai/backend/internal/summarizer"
	"github.com/meai/backend/internal/toolkits"
	"github.com/meai/backend/internal/vectorstore"
)

// TurnEvent is one streamed event for the requesting client.
type TurnEvent struct {
	Type     string `json:"type"`
	Content  string `json:"content,omitempty"`
	ToolName string `json:"tool_name,omitempty"`
}

// TurnEvent types.
const (
	EventAI          = "ai"           // incremental assistant text
	EventToolStart   = "tool_start"   // a tool execution began
	EventToolSuccess = "tool_success" // a tool execution succeeded
	EventToolError   = "tool_error"   // a tool execution failed
	EventLastChunk   = "last_chunk"   // the turn's streamed output is complete
)

// EmitFunc delivers a TurnEvent to the client. It returns false once
// the client is gone; the turn keeps running its side effects but stops
// producing output.
type EmitFunc func(TurnEvent) bool

// Agent wires the turn pipeline together.
type Agent struct {
	store      *store.Store
	vectors    *vectorstore.Store
	embedder   embeddings.Provider
	assembler  *assembler.Assembler
	classifier *intent.Classifier
	summarizer *summarizer.Summarizer
	gateway    toolkits.Gateway
	client     llm.Client
	bus        *events.Bus
	cfg        *config.Config
	logger     *slog.Logger
}

// New creates an Agent.
func New(st *store.Store, vectors *vectorstore.Store, embedder embeddings.Provider,
	asm *assembler.Assembler, classifier *intent.Classifier, summ *summarizer.Summarizer,
	gateway toolkits.Gateway, client llm.Client, bus *events.Bus,
	cfg *config.Config, logger *slog.Logger) *Agent {
	return &Agent{
		store:      st,
		vectors:    vectors,
		embedder:   embedder,
		assembler:  asm,
		classifier: classifier,
		summarizer: summ,
		gateway:    gateway,
		client:     client,
		bus:        bus,
		cfg:        cfg,
		logger:     logger.With("component", "agent"),
	}
}

// HandleMessage runs one full conversation turn. The incoming ctx is
// tied to the client connection; side effects (tool execution,
// persistence, summarization) run on a detached context so a mid-turn
// disconnect never loses work, only output.
func (a *Agent) HandleMessage(ctx context.Context, conv *store.Conversation, userMessage string, emit EmitFunc) error {
	start := time.Now()
	a.bus.Publish(events.Event{
		Timestamp: start, Source: events.SourceAgent, Kind: events.KindTurnStart,
		Data: map[string]any{
			"conversation_id": conv.ID,
			"user_id":         conv.UserID,
			"message_len":     len(userMessage),
		},
	})

	// Side effects survive client disconnect.
	detached := context.WithoutCancel(ctx)

	humanMsg, err := a.store.AppendMessage(detached, conv.ID, store.TypeHuman, userMessage)
	if err != nil {
		return fmt.Errorf("persist user message: %w", err)
	}
	a.embedAsync(detached, humanMsg)

	labels := a.classifyIntent(ctx, conv.ID, userMessage)

	registry, err := a.buildRegistry(ctx, conv.UserID, labels)
	if err != nil {
		// Tool fetch failure degrades to a tool-less turn.
		a.logger.Warn("tool fetch failed, continuing without tools",
			"conversation_id", conv.ID, "error", err)
		registry = toolkits.NewRegistry(nil)
	}

	turnCtx, err := a.assembler.Assemble(ctx, conv.ID, userMessage)
	if err != nil {
		return a.failTurn(detached, conv.ID, emit, fmt.Errorf("assemble context: %w", err))
	}

	result, err := a.orchestrate(ctx, detached, conv, turnCtx, userMessage, registry, emit)
	if err != nil {
		return a.failTurn(detached, conv.ID, emit, err)
	}

	if !emit(TurnEvent{Type: EventLastChunk}) {
		a.bus.Publish(events.Event{
			Timestamp: time.Now(), Source: events.SourceAgent, Kind: events.KindTurnDropped,
			Data: map[string]any{"conversation_id": conv.ID},
		})
	}

	a.persistTurn(detached, conv.ID, result)
	a.summarizer.MaybeUpdate(detached, conv.ID)

	a.bus.Publish(events.Event{
		Timestamp: time.Now(), Source: events.SourceAgent, Kind: events.KindTurnComplete,
		Data: map[string]any{
			"conversation_id": conv.ID,
			"cycles":          result.Cycles,
			"elapsed_ms":      time.Since(start).Milliseconds(),
		},
	})
	return nil
}

// classifyIntent runs the cheap classifier pass. Assembly failures for
// the classifier context degrade to classifying on the message alone.
func (a *Agent) classifyIntent(ctx context.Context, conversationID, userMessage string) []string {
	cc, err := a.assembler.AssembleForClassifier(ctx, conversationID, userMessage)
	if err != nil {
		a.logger.Warn("classifier context failed, classifying without context",
			"conversation_id", conversationID, "error", err)
		cc = &assembler.ClassifierContext{}
	}
	return a.classifier.Classify(ctx, userMessage, cc.Summary, cc.Recent, cc.Semantic)
}

// buildRegistry resolves classifier labels to the turn's tool set.
func (a *Agent) buildRegistry(ctx context.Context, userID string, labels []string) (*toolkits.Registry, error) {
	enabled, err := a.store.EnabledToolkits(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load enabled toolkits: %w", err)
	}

	selected := toolkits.SelectToolkits(labels, enabled)
	if len(selected) == 0 {
		return toolkits.NewRegistry(nil), nil
	}

	tools, err := a.gateway.Tools(ctx, userID, selected)
	if err != nil {
		return nil, err
	}
	return toolkits.NewRegistry(tools), nil
}

// failTurn reports a turn-level failure to the client and records it as
// an AI message so the conversation log reflects what the user saw.
func (a *Agent) failTurn(detached context.Context, conversationID string, emit EmitFunc, turnErr error) error {
	a.logger.Error("turn failed", "conversation_id", conversationID, "error", turnErr)

	errText := fmt.Sprintf("Error processing request: %v", turnErr)
	emit(TurnEvent{Type: EventAI, Content: errText})
	emit(TurnEvent{Type: EventLastChunk})

	msg, err := a.store.AppendMessage(detached, conversationID, store.TypeAI, errText)
	if err != nil {
		a.logger.Error("persist error message failed", "conversation_id", conversationID, "error", err)
		return turnErr
	}
	a.embedAsync(detached, msg)
	return turnErr
}

// persistTurn stores the assistant reply and any tool transcripts.
func (a *Agent) persistTurn(ctx context.Context, conversationID string, result *turnResult) {
	if result.Reply != "" {
		msg, err := a.store.AppendMessage(ctx, conversationID, store.TypeAI, result.Reply)
		if err != nil {
			a.logger.Error("persist reply failed", "conversation_id", conversationID, "error", err)
		} else {
			a.embedAsync(ctx, msg)
		}
	}

	for _, tm := range result.ToolMessages {
		if _, err := a.store.AppendMessage(ctx, conversationID, store.TypeTool, tm); err != nil {
			a.logger.Error("persist tool message failed", "conversation_id", conversationID, "error", err)
		}
	}
}

// embedAsync indexes a message embedding in the background. Embedding
// is best-effort: a failure costs recall quality, not correctness.
func (a *Agent) embedAsync(ctx context.Context, msg *store.Message) {
	if !msg.Type.Embeddable() {
		return
	}
	go func() {
		vector, err := a.embedder.Embed(ctx, msg.Content)
		if err != nil {
			a.logger.Warn("embedding failed", "message_id", msg.ID, "error", err)
			a.publishEmbedFailure(msg, err)
			return
		}
		if err := a.vectors.Upsert(ctx, msg.ConversationID, msg.ID, vector, msg.Content, msg.CreatedAt); err != nil {
			a.logger.Warn("embedding upsert failed", "message_id", msg.ID, "error", err)
			a.publishEmbedFailure(msg, err)
		}
	}()
}

func (a *Agent) publishEmbedFailure(msg *store.Message, err error) {
	a.bus.Publish(events.Event{
		Timestamp: time.Now(), Source: events.SourceAgent, Kind: events.KindEmbedFailed,
		Data: map[string]any{
			"conversation_id": msg.ConversationID,
			"message_id":      msg.ID,
			"error":           err.Error(),
		},
	})
}
