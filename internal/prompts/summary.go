package prompts

import "fmt"

// initialSummaryTemplate produces the first summary for a conversation.
// The format verbs are the word cap and the formatted message lines.
const initialSummaryTemplate = `Summarize the following conversation messages in a concise way, capturing the main points and context for future reference. Keep the summary under %d words.

Messages:
%s

Summary:`

// updateSummaryTemplate merges new messages into the existing summary.
// The result replaces the previous summary entirely, so it must stand
// on its own.
const updateSummaryTemplate = `Given the previous summary and the following new messages, create an updated concise summary that captures the main points and context for future reference. The updated summary fully replaces the previous one, so carry forward anything still relevant. Keep the summary under %d words.

Previous summary:
%s

New messages:
%s

Updated summary:`

// InitialSummaryPrompt returns the prompt for a conversation's first
// summary. The caller passes the formatted message lines ("type: content"
// pairs) and the word cap.
func InitialSummaryPrompt(messages string, maxWords int) string {
	return fmt.Sprintf(initialSummaryTemplate, maxWords, messages)
}

// UpdateSummaryPrompt returns the prompt that folds new messages into
// an existing summary.
func UpdateSummaryPrompt(previousSummary, messages string, maxWords int) string {
	return fmt.Sprintf(updateSummaryTemplate, maxWords, previousSummary, messages)
}
