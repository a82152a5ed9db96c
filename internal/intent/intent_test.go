package intent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"

	"github.com/meai/backend/internal/llm"
)

// mockClient returns a canned response or error for every call.
type mockClient struct {
	response string
	err      error
	calls    int
}

func (m *mockClient) Chat(ctx context.Context, messages []llm.Message, tools []map[string]any) (*llm.ChatResponse, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return &llm.ChatResponse{Message: llm.Message{Role: llm.RoleAssistant, Content: m.response}}, nil
}

func (m *mockClient) ChatStream(ctx context.Context, messages []llm.Message, tools []map[string]any, callback llm.StreamCallback) (*llm.ChatResponse, error) {
	return m.Chat(ctx, messages, tools)
}

func (m *mockClient) Ping(ctx context.Context) error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseLabels(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"single toolkit", "GMAIL", []string{"GMAIL"}},
		{"multi label", "GOOGLECALENDAR,GMAIL", []string{"GOOGLECALENDAR", "GMAIL"}},
		{"whitespace and case", " gmail , Notion ", []string{"GMAIL", "NOTION"}},
		{"no tool", "NO_TOOL", []string{"NO_TOOL"}},
		{"search", "SEARCH", []string{"SEARCH"}},
		{"code fence", "```\nGMAIL\n```", []string{"GMAIL"}},
		{"fence with language tag", "```text\nSLACKBOT,TWITTER\n```", []string{"SLACKBOT", "TWITTER"}},
		{"unknown label dropped", "GMAIL,FROBNICATE", []string{"GMAIL"}},
		{"all unknown falls back", "FROBNICATE, WIDGETS", []string{"NO_TOOL"}},
		{"empty falls back", "", []string{"NO_TOOL"}},
		{"prose falls back", "I think you should use email for this", []string{"NO_TOOL"}},
		{"no_tool dropped beside real label", "NO_TOOL,GMAIL", []string{"GMAIL"}},
		{"duplicates collapsed", "GMAIL,GMAIL,GMAIL", []string{"GMAIL"}},
		{"search plus toolkit", "SEARCH,NOTION", []string{"SEARCH", "NOTION"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseLabels(tt.raw)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseLabels(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestClassifyReturnsParsedLabels(t *testing.T) {
	client := &mockClient{response: "GOOGLETASKS"}
	c := New(client, testLogger())

	got := c.Classify(context.Background(), "add milk to my tasks", "", "", "")
	if !reflect.DeepEqual(got, []string{"GOOGLETASKS"}) {
		t.Errorf("Classify = %v, want [GOOGLETASKS]", got)
	}
	if client.calls != 1 {
		t.Errorf("model calls = %d, want 1", client.calls)
	}
}

func TestClassifyModelFailureFallsBack(t *testing.T) {
	client := &mockClient{err: errors.New("model unavailable")}
	c := New(client, testLogger())

	got := c.Classify(context.Background(), "hello", "", "", "")
	if !reflect.DeepEqual(got, []string{NoTool}) {
		t.Errorf("Classify on failure = %v, want [NO_TOOL]", got)
	}
}
