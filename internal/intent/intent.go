// Package intent classifies each user message against the closed
// toolkit vocabulary so the orchestration loop only offers the model
// tools the turn plausibly needs.
package intent

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"github.com/meai/backend/internal/llm"
	"github.com/meai/backend/internal/prompts"
)

// Toolkits is the closed vocabulary of toolkit slugs the classifier
// may emit.
var Toolkits = []string{
	"GOOGLECALENDAR",
	"NOTION",
	"SLACKBOT",
	"GMAIL",
	"GOOGLETASKS",
	"TWITTER",
}

// Sentinel labels outside the toolkit vocabulary.
const (
	NoTool = "NO_TOOL" // conversational turn, no tools offered
	Search = "SEARCH"  // user explicitly asked for a web search
)

// Classifier routes user messages to toolkit slugs with a single cheap
// model call.
type Classifier struct {
	client llm.Client
	logger *slog.Logger
}

// New creates a Classifier.
func New(client llm.Client, logger *slog.Logger) *Classifier {
	return &Classifier{
		client: client,
		logger: logger.With("component", "intent"),
	}
}

// Classify returns the toolkit labels for a user message. The summary,
// recent, and semantic arguments carry the reduced classifier context;
// any may be empty. Classification never fails a turn: model errors and
// unparseable output both fall back to NO_TOOL.
func (c *Classifier) Classify(ctx context.Context, userMessage, summary, recent, semantic string) []string {
	prompt := prompts.IntentPrompt(append(slices.Clone(Toolkits), NoTool, Search), summary, recent, semantic, userMessage)

	resp, err := c.client.Chat(ctx, []llm.Message{
		{Role: llm.RoleUser, Content: prompt},
	}, nil)
	if err != nil {
		c.logger.Warn("classification failed, defaulting to NO_TOOL", "error", err)
		return []string{NoTool}
	}

	labels := ParseLabels(resp.Message.Content)
	c.logger.Debug("classified intent", "labels", labels)
	return labels
}

// ParseLabels extracts valid labels from raw classifier output. The
// model sometimes wraps its answer in code fences or adds prose; we
// strip fences, uppercase, split on commas, and keep only labels from
// the vocabulary. NO_TOOL is dropped when real labels are present, and
// unparseable output degrades to NO_TOOL alone.
func ParseLabels(raw string) []string {
	raw = stripFences(raw)

	var labels []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(raw, ",") {
		label := strings.ToUpper(strings.TrimSpace(part))
		if label == "" || seen[label] {
			continue
		}
		if label == NoTool || label == Search || slices.Contains(Toolkits, label) {
			seen[label] = true
			labels = append(labels, label)
		}
	}

	if len(labels) == 0 {
		return []string{NoTool}
	}
	if len(labels) > 1 && seen[NoTool] {
		labels = slices.DeleteFunc(labels, func(l string) bool { return l == NoTool })
	}
	return labels
}

// stripFences removes markdown code fences and surrounding whitespace.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		// Drop a language tag like "text" on the fence line.
		if idx := strings.Index(s, "\n"); idx >= 0 && !strings.Contains(s[:idx], ",") {
			s = s[idx+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
