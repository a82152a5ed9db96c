package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOllamaChatStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var req ollamaChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if !req.Stream {
			t.Error("expected streaming request")
		}

		// Newline-delimited JSON chunks, final one carries done + counts.
		chunks := []string{
			`{"model":"llama3","message":{"role":"assistant","content":"Hello"},"done":false}`,
			`{"model":"llama3","message":{"role":"assistant","content":", world"},"done":false}`,
			`{"model":"llama3","message":{"role":"assistant","content":""},"done":true,"prompt_eval_count":5,"eval_count":2}`,
		}
		for _, c := range chunks {
			w.Write([]byte(c + "\n"))
		}
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, "llama3", nil)
	var tokens []string
	resp, err := c.ChatStream(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, nil, func(tok string) {
		tokens = append(tokens, tok)
	})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	if got := strings.Join(tokens, ""); got != "Hello, world" {
		t.Errorf("streamed tokens = %q", got)
	}
	if resp.Message.Content != "Hello, world" {
		t.Errorf("final content = %q", resp.Message.Content)
	}
	if resp.InputTokens != 5 || resp.OutputTokens != 2 {
		t.Errorf("usage = (%d, %d)", resp.InputTokens, resp.OutputTokens)
	}
}

func TestOllamaChatStreamToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		chunks := []string{
			`{"model":"llama3","message":{"role":"assistant","content":"","tool_calls":[{"function":{"name":"GMAIL_SEND","arguments":{"to":"a@b.c"}}}]},"done":false}`,
			`{"model":"llama3","message":{"role":"assistant","content":""},"done":true}`,
		}
		for _, c := range chunks {
			w.Write([]byte(c + "\n"))
		}
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, "llama3", nil)
	resp, err := c.ChatStream(context.Background(), []Message{{Role: RoleUser, Content: "send it"}}, nil, func(string) {})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	if len(resp.Message.ToolCalls) != 1 {
		t.Fatalf("tool calls = %+v", resp.Message.ToolCalls)
	}
	tc := resp.Message.ToolCalls[0]
	if tc.Name != "GMAIL_SEND" || tc.ID != "call_0_GMAIL_SEND" {
		t.Errorf("tool call = %+v", tc)
	}
	if tc.Arguments["to"] != "a@b.c" {
		t.Errorf("arguments = %+v", tc.Arguments)
	}
}

func TestOllamaChatNonStreaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Stream {
			t.Error("expected non-streaming request")
		}
		json.NewEncoder(w).Encode(ollamaChatResponse{
			Model:   "llama3",
			Message: ollamaMessage{Role: "assistant", Content: "NO_TOOL"},
			Done:    true,
		})
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, "llama3", nil)
	resp, err := c.Chat(context.Background(), []Message{{Role: RoleUser, Content: "classify"}}, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Message.Content != "NO_TOOL" {
		t.Errorf("content = %q", resp.Message.Content)
	}
}

func TestOllamaErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, "missing", nil)
	_, err := c.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "model not found") {
		t.Errorf("err = %v, want body included", err)
	}
}
