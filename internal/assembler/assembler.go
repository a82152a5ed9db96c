// Package assembler builds the conversation context handed to the model
// on each turn: the rolling summary, a recent-message window, and
// semantically similar past messages.
package assembler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/meai/backend/internal/config"
	"github.com/meai/backend/internal/embeddings"
	"github.com/meai/backend/internal/store"
	"github.com/meai/backend/internal/vectorstore"
)

// Context is one assembled conversation context. Sections keep a fixed
// order: summary first, then the recent window, then semantic recall.
type Context struct {
	Summary  string
	Recent   []store.Message
	Semantic []vectorstore.Match
}

// Lines renders the context as the line list sent to the model. The
// summary line carries a "Summary:" prefix, recent messages render as
// "<type>: <content>", and semantic hits follow a
// "Relevant past messages:" header. Empty sections are omitted.
func (c *Context) Lines() []string {
	var lines []string
	if c.Summary != "" {
		lines = append(lines, "Summary: "+c.Summary)
	}
	for _, m := range c.Recent {
		lines = append(lines, fmt.Sprintf("%s: %s", m.Type, m.Content))
	}
	if len(c.Semantic) > 0 {
		lines = append(lines, "Relevant past messages:")
		for _, hit := range c.Semantic {
			lines = append(lines, hit.Content)
		}
	}
	return lines
}

// String joins the rendered lines with newlines.
func (c *Context) String() string {
	return strings.Join(c.Lines(), "\n")
}

// ClassifierContext is the cheaper context used by intent
// classification: a shorter window and fewer semantic hits.
type ClassifierContext struct {
	Summary  string
	Recent   string
	Semantic string
}

// Only Human and AI messages participate in the rolling window; tool
// transcripts and system rows stay out of both context variants.
var windowTypes = []store.MessageType{store.TypeHuman, store.TypeAI}

// Assembler composes conversation context from the message store and
// the vector store.
type Assembler struct {
	store    *store.Store
	vectors  *vectorstore.Store
	embedder embeddings.Provider
	cfg      config.ContextConfig
	logger   *slog.Logger
}

// New creates an Assembler.
func New(st *store.Store, vectors *vectorstore.Store, embedder embeddings.Provider, cfg config.ContextConfig, logger *slog.Logger) *Assembler {
	return &Assembler{
		store:    st,
		vectors:  vectors,
		embedder: embedder,
		cfg:      cfg,
		logger:   logger.With("component", "assembler"),
	}
}

// Assemble builds the full turn context for a user message. Semantic
// recall failures degrade to an empty semantic section rather than
// failing the turn; store failures are fatal.
func (a *Assembler) Assemble(ctx context.Context, conversationID, userMessage string) (*Context, error) {
	summary, err := a.store.Summary(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load summary: %w", err)
	}

	recent, err := a.store.RecentMessages(ctx, conversationID, windowTypes, a.cfg.WindowSize)
	if err != nil {
		return nil, fmt.Errorf("load recent messages: %w", err)
	}

	semantic := a.semanticRecall(ctx, conversationID, userMessage, a.cfg.SemanticK)

	return &Context{
		Summary:  summary,
		Recent:   recent,
		Semantic: semantic,
	}, nil
}

// AssembleForClassifier builds the reduced context used by the intent
// classifier.
func (a *Assembler) AssembleForClassifier(ctx context.Context, conversationID, userMessage string) (*ClassifierContext, error) {
	summary, err := a.store.Summary(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load summary: %w", err)
	}

	recent, err := a.store.RecentMessages(ctx, conversationID, windowTypes, a.cfg.ClassifierWindow)
	if err != nil {
		return nil, fmt.Errorf("load recent messages: %w", err)
	}
	var lines []string
	for _, m := range recent {
		lines = append(lines, fmt.Sprintf("%s: %s", m.Type, m.Content))
	}

	semantic := a.semanticRecall(ctx, conversationID, userMessage, a.cfg.ClassifierSemanticK)
	var hits []string
	for _, h := range semantic {
		hits = append(hits, h.Content)
	}

	return &ClassifierContext{
		Summary:  summary,
		Recent:   strings.Join(lines, "\n"),
		Semantic: strings.Join(hits, "\n"),
	}, nil
}

// semanticRecall embeds the query and searches the conversation's
// vectors, dropping hits below the similarity floor. Any failure is
// logged and yields no hits.
func (a *Assembler) semanticRecall(ctx context.Context, conversationID, query string, k int) []vectorstore.Match {
	if k <= 0 {
		return nil
	}

	vector, err := a.embedder.Embed(ctx, query)
	if err != nil {
		a.logger.Warn("embedding query failed, skipping semantic recall",
			"conversation_id", conversationID, "error", err)
		return nil
	}

	matches, err := a.vectors.Query(ctx, conversationID, vector, k)
	if err != nil {
		a.logger.Warn("vector query failed, skipping semantic recall",
			"conversation_id", conversationID, "error", err)
		return nil
	}

	var kept []vectorstore.Match
	for _, m := range matches {
		if m.Similarity >= a.cfg.MinSimilarity {
			kept = append(kept, m)
		}
	}
	return kept
}
