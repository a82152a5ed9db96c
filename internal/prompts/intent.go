package prompts

import (
	"fmt"
	"strings"
)

// intentTemplate asks the model to pick toolkit slugs for a user
// message. The verbs are: the toolkit vocabulary, the conversation
// summary, the recent message lines, the semantic search results, and
// the user message.
const intentTemplate = `You are a routing classifier for a personal assistant. Decide which toolkits, if any, are needed to handle the user's message.

Choose from exactly these toolkit slugs:
%s

Special labels:
- NO_TOOL: the message is conversational and needs no toolkit.
- SEARCH: the user explicitly asks to search the web or look something up online.

Conversation summary:
%s

Recent messages:
%s

Relevant past messages:
%s

User message:
%s

Respond with ONLY a comma-separated list of labels from the vocabulary above, nothing else. Examples: "NO_TOOL", "GMAIL", "GOOGLECALENDAR,GMAIL", "SEARCH".`

// IntentPrompt returns the classifier prompt for one user message.
// Empty summary, recent, or semantic sections are rendered as "(none)"
// so the model never sees a dangling header.
func IntentPrompt(vocabulary []string, summary, recent, semantic, userMessage string) string {
	return fmt.Sprintf(intentTemplate,
		strings.Join(vocabulary, ", "),
		orNone(summary),
		orNone(recent),
		orNone(semantic),
		userMessage)
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none)"
	}
	return s
}
