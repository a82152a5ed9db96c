// Package events provides a publish/subscribe event bus for operational
// observability. Events flow from components (agent loop, summarizer,
// API server) to subscribers (WebSocket handler, future metrics
// collector). The bus is nil-safe: calling Publish on a nil *Bus is a
// no-op, so components do not need guard checks.
package events

import (
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceAgent identifies events from the conversation turn loop.
	SourceAgent = "agent"
	// SourceSummarizer identifies events from rolling summarization.
	SourceSummarizer = "summarizer"
	// SourceWeb identifies events from the API server.
	SourceWeb = "web"
)

// Kind constants describe the type of event within a source.
const (
	// KindTurnStart signals the beginning of a conversation turn.
	// Data: conversation_id, user_id, message_len.
	KindTurnStart = "turn_start"
	// KindLLMCall signals the start of a model call.
	// Data: conversation_id, cycle, model.
	KindLLMCall = "llm_call"
	// KindLLMResponse signals completion of a model call.
	// Data: conversation_id, cycle, tokens_in, tokens_out, tool_calls.
	KindLLMResponse = "llm_response"
	// KindToolCall signals the start of a tool execution.
	// Data: conversation_id, tool.
	KindToolCall = "tool_call"
	// KindToolDone signals completion of a tool execution.
	// Data: conversation_id, tool, ok, duration_ms.
	KindToolDone = "tool_done"
	// KindTurnComplete signals the end of a conversation turn.
	// Data: conversation_id, cycles, elapsed_ms.
	KindTurnComplete = "turn_complete"
	// KindTurnDropped signals that a turn's streamed output was dropped
	// because the client disconnected mid-turn. Side effects (tool
	// execution, persistence) still completed.
	// Data: conversation_id.
	KindTurnDropped = "turn_dropped"
	// KindEmbedFailed signals that a message embedding could not be
	// indexed; the message itself is persisted, only recall is degraded.
	// Data: conversation_id, message_id, error.
	KindEmbedFailed = "embed_failed"

	// KindSummaryUpdated signals a rolling summary refresh.
	// Data: conversation_id, words.
	KindSummaryUpdated = "summary_updated"

	// KindStreamOpen signals a WebSocket stream attach.
	// Data: conversation_id, user_id.
	KindStreamOpen = "stream_open"
	// KindStreamClose signals a WebSocket stream detach.
	// Data: conversation_id, user_id.
	KindStreamClose = "stream_close"
)

// Event represents a single operational event published by a component.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Subscribers receive events
// on buffered channels; slow subscribers miss events rather than
// blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel returned by Subscribe
	// back to the bidirectional channel stored in subs. This allows
	// Unsubscribe to accept <-chan Event (the caller's view) without
	// an illegal type conversion.
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers. Non-blocking: if a
// subscriber's channel is full, the event is dropped for that
// subscriber. Safe to call on a nil receiver (no-op).
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is full — drop the event rather than block.
		}
	}
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe to avoid resource leaks.
// bufSize controls the channel buffer; 64 is a reasonable default for
// WebSocket consumers.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed (no-op).
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
