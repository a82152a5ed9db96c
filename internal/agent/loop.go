package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/meai/backend/internal/assembler"
	"github.com/meai/backend/internal/events"
	"github.com/meai/backend/internal/llm"
	"github.com/meai/backend/internal/prompts"
	"github.com/meai/backend/internal/store"
	"github.com/meai/backend/internal/toolkits"
)

// budgetExhaustedReply is sent when a turn burns through its cycle
// budget without the model settling on a final answer.
const budgetExhaustedReply = "I'm sorry, I couldn't complete this request within the allowed number of tool steps. Here is what I have so far; please try breaking the request into smaller parts."

// turnResult is what one orchestrated turn produced.
type turnResult struct {
	Reply        string
	ToolMessages []string
	Cycles       int
}

// orchestrate drives the model/tool cycle for one turn. The client ctx
// gates nothing here: model calls and tool executions run on the
// detached context so a disconnect mid-turn cannot strand half-executed
// side effects. emit is the only client-facing edge.
func (a *Agent) orchestrate(ctx, detached context.Context, conv *store.Conversation, turnCtx *assembler.Context, userMessage string, registry *toolkits.Registry, emit EmitFunc) (*turnResult, error) {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: prompts.System},
	}
	if lines := turnCtx.Lines(); len(lines) > 0 {
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: strings.Join(lines, "\n")})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: userMessage})

	defs := registry.Definitions()
	result := &turnResult{}
	var reply strings.Builder

	// One guard entry per distinct (tool, canonical arguments) pair.
	// A repeated identical call is a model loop, not a new request.
	executed := make(map[string]bool)

	for cycle := 1; cycle <= a.cfg.Agent.MaxCycles; cycle++ {
		result.Cycles = cycle

		a.bus.Publish(events.Event{
			Timestamp: time.Now(), Source: events.SourceAgent, Kind: events.KindLLMCall,
			Data: map[string]any{"conversation_id": conv.ID, "cycle": cycle, "model": a.cfg.LLM.Model},
		})

		callCtx, cancel := context.WithTimeout(detached, a.cfg.ModelTimeout())
		resp, err := a.client.ChatStream(callCtx, messages, defs, func(token string) {
			reply.WriteString(token)
			emit(TurnEvent{Type: EventAI, Content: token})
		})
		cancel()
		if err != nil {
			return nil, fmt.Errorf("model call (cycle %d): %w", cycle, err)
		}

		a.bus.Publish(events.Event{
			Timestamp: time.Now(), Source: events.SourceAgent, Kind: events.KindLLMResponse,
			Data: map[string]any{
				"conversation_id": conv.ID,
				"cycle":           cycle,
				"tokens_in":       resp.InputTokens,
				"tokens_out":      resp.OutputTokens,
				"tool_calls":      len(resp.Message.ToolCalls),
			},
		})

		if len(resp.Message.ToolCalls) == 0 {
			result.Reply = strings.TrimSpace(reply.String())
			if result.Reply == "" {
				result.Reply = strings.TrimSpace(resp.Message.Content)
			}
			return result, nil
		}

		messages = append(messages, resp.Message)
		for _, call := range resp.Message.ToolCalls {
			outcome := a.executeCall(detached, conv, call, registry, executed, emit)
			result.ToolMessages = append(result.ToolMessages, outcome.transcript)
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    outcome.feedback,
				ToolCallID: call.ID,
			})
		}
	}

	// Budget exhausted: the model kept asking for tools. Whatever text
	// it streamed stays, followed by the apology.
	result.Reply = strings.TrimSpace(reply.String())
	if result.Reply != "" {
		result.Reply += "\n\n"
	}
	result.Reply += budgetExhaustedReply
	emit(TurnEvent{Type: EventAI, Content: budgetExhaustedReply})
	a.logger.Warn("cycle budget exhausted", "conversation_id", conv.ID, "cycles", result.Cycles)
	return result, nil
}

// callOutcome holds the two renderings of one tool execution: feedback
// goes back to the model, transcript is persisted as a Tool message.
type callOutcome struct {
	feedback   string
	transcript string
}

// executeCall runs one tool call, enforcing the duplicate guard and
// availability check, and emits the matching turn events.
func (a *Agent) executeCall(detached context.Context, conv *store.Conversation, call llm.ToolCall, registry *toolkits.Registry, executed map[string]bool, emit EmitFunc) callOutcome {
	argsJSON := canonicalArgs(call.Arguments)
	key := call.Name + ":" + argsJSON

	if executed[key] {
		note := fmt.Sprintf("Duplicate call to %s with identical arguments was skipped. Use the earlier result or change the arguments.", call.Name)
		emit(TurnEvent{Type: EventToolError, ToolName: call.Name, Content: note})
		return callOutcome{
			feedback:   note,
			transcript: fmt.Sprintf("[%s] %s", call.Name, note),
		}
	}
	executed[key] = true

	if _, ok := registry.Get(call.Name); !ok {
		unavailable := &toolkits.ErrToolUnavailable{ToolName: call.Name}
		emit(TurnEvent{Type: EventToolError, ToolName: call.Name, Content: unavailable.Error()})
		a.recordCall(detached, conv.ID, call.Name, argsJSON, "", unavailable.Error())
		return callOutcome{
			feedback:   "Error executing tool: " + unavailable.Error(),
			transcript: fmt.Sprintf("[%s] Executing %s\nError: %s", call.Name, call.Name, unavailable.Error()),
		}
	}

	emit(TurnEvent{Type: EventToolStart, ToolName: call.Name, Content: "Executing " + call.Name})
	a.bus.Publish(events.Event{
		Timestamp: time.Now(), Source: events.SourceAgent, Kind: events.KindToolCall,
		Data: map[string]any{"conversation_id": conv.ID, "tool": call.Name},
	})

	start := time.Now()
	execCtx, cancel := context.WithTimeout(detached, a.cfg.ToolTimeout())
	resultText, err := a.gateway.Execute(execCtx, conv.UserID, call.Name, call.Arguments)
	cancel()

	a.bus.Publish(events.Event{
		Timestamp: time.Now(), Source: events.SourceAgent, Kind: events.KindToolDone,
		Data: map[string]any{
			"conversation_id": conv.ID,
			"tool":            call.Name,
			"ok":              err == nil,
			"duration_ms":     time.Since(start).Milliseconds(),
		},
	})

	if err != nil {
		emit(TurnEvent{Type: EventToolError, ToolName: call.Name, Content: fmt.Sprintf("Tool %s failed: %v", call.Name, err)})
		a.recordCall(detached, conv.ID, call.Name, argsJSON, "", err.Error())
		return callOutcome{
			feedback:   fmt.Sprintf("Error executing tool: %v", err),
			transcript: fmt.Sprintf("[%s] Executing %s\nError: %v", call.Name, call.Name, err),
		}
	}

	emit(TurnEvent{Type: EventToolSuccess, ToolName: call.Name, Content: "Executed " + call.Name})
	a.recordCall(detached, conv.ID, call.Name, argsJSON, resultText, "")
	return callOutcome{
		feedback:   resultText,
		transcript: fmt.Sprintf("[%s] Executed %s\nResult: %s", call.Name, call.Name, resultText),
	}
}

// recordCall writes the tool-call audit row. Audit failures are logged,
// never fatal.
func (a *Agent) recordCall(ctx context.Context, conversationID, tool, argsJSON, result, execErr string) {
	if err := a.store.RecordToolCall(ctx, conversationID, "", tool, argsJSON, result, execErr); err != nil {
		a.logger.Warn("tool call audit failed", "conversation_id", conversationID, "tool", tool, "error", err)
	}
}

// canonicalArgs renders tool arguments with deterministic key order so
// identical calls hash to identical guard keys.
func canonicalArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	// encoding/json sorts map keys at every nesting level.
	b, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprintf("%v", args)
	}
	return string(b)
}
