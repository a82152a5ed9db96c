package web

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/meai/backend/internal/config"
	"github.com/meai/backend/internal/store"
	"github.com/meai/backend/internal/usage"
	"github.com/meai/backend/internal/vectorstore"
)

func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	dir := t.TempDir()

	st, err := store.New(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	meter, err := usage.NewStore(filepath.Join(dir, "usage.db"))
	if err != nil {
		t.Fatalf("usage.NewStore: %v", err)
	}
	t.Cleanup(func() { meter.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewServer(&config.Config{}, nil, st, vectorstore.NewInMemory(), meter, nil, logger)
	return s, s.handler()
}

func doRequest(t *testing.T, h http.Handler, method, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestConversationLifecycle(t *testing.T) {
	_, h := newTestServer(t)

	rec := doRequest(t, h, "POST", "/v1/conversations", "alice", `{"title":"trip planning"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	created := decodeBody(t, rec)
	id, _ := created["id"].(string)
	if id == "" || created["title"] != "trip planning" {
		t.Fatalf("created = %v", created)
	}

	rec = doRequest(t, h, "GET", "/v1/conversations", "alice", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	if convs := decodeBody(t, rec)["conversations"].([]any); len(convs) != 1 {
		t.Errorf("list = %v", convs)
	}

	rec = doRequest(t, h, "GET", "/v1/conversations/"+id, "alice", "")
	if rec.Code != http.StatusOK {
		t.Errorf("get status = %d", rec.Code)
	}

	rec = doRequest(t, h, "DELETE", "/v1/conversations/"+id, "alice", "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("delete status = %d", rec.Code)
	}

	rec = doRequest(t, h, "GET", "/v1/conversations/"+id, "alice", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d", rec.Code)
	}
}

func TestConversationRequiresUser(t *testing.T) {
	_, h := newTestServer(t)

	rec := doRequest(t, h, "POST", "/v1/conversations", "", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("create without user status = %d", rec.Code)
	}
	rec = doRequest(t, h, "GET", "/v1/conversations", "", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("list without user status = %d", rec.Code)
	}
}

func TestConversationOwnerScoping(t *testing.T) {
	s, h := newTestServer(t)
	conv, err := s.store.CreateConversation(context.Background(), "alice", "")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	rec := doRequest(t, h, "GET", "/v1/conversations/"+conv.ID, "mallory", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("cross-user get status = %d, want 404", rec.Code)
	}
}

func TestMessageList(t *testing.T) {
	s, h := newTestServer(t)
	ctx := context.Background()
	conv, _ := s.store.CreateConversation(ctx, "alice", "")
	s.store.AppendMessage(ctx, conv.ID, store.TypeHuman, "hi")
	s.store.AppendMessage(ctx, conv.ID, store.TypeAI, "hello")

	rec := doRequest(t, h, "GET", "/v1/conversations/"+conv.ID+"/messages", "alice", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	msgs := decodeBody(t, rec)["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("messages = %v", msgs)
	}
	first := msgs[0].(map[string]any)
	if first["type"] != "Human" || first["content"] != "hi" {
		t.Errorf("first message = %v", first)
	}
}

func TestToolkitEnableDisable(t *testing.T) {
	_, h := newTestServer(t)

	rec := doRequest(t, h, "POST", "/v1/toolkits/gmail/enable", "alice", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("enable status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, h, "GET", "/v1/toolkits", "alice", "")
	body := decodeBody(t, rec)
	enabled := body["enabled"].([]any)
	if len(enabled) != 1 || enabled[0] != "GMAIL" {
		t.Errorf("enabled = %v", enabled)
	}
	if supported := body["supported"].([]any); len(supported) == 0 {
		t.Error("supported vocabulary missing")
	}

	rec = doRequest(t, h, "POST", "/v1/toolkits/GMAIL/disable", "alice", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("disable status = %d", rec.Code)
	}
	rec = doRequest(t, h, "GET", "/v1/toolkits", "alice", "")
	if enabled := decodeBody(t, rec)["enabled"].([]any); len(enabled) != 0 {
		t.Errorf("enabled after disable = %v", enabled)
	}
}

func TestToolkitRejectsUnknownSlug(t *testing.T) {
	_, h := newTestServer(t)
	rec := doRequest(t, h, "POST", "/v1/toolkits/winamp/enable", "alice", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestUsageEndpoint(t *testing.T) {
	s, h := newTestServer(t)
	ctx := context.Background()
	s.meter.Record(ctx, usage.Record{Purpose: usage.PurposeTurn, Model: "claude", InputTokens: 100, OutputTokens: 20})
	s.meter.Record(ctx, usage.Record{Purpose: usage.PurposeSummary, Model: "claude", InputTokens: 40, OutputTokens: 10})

	rec := doRequest(t, h, "GET", "/v1/usage", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	total := body["total"].(map[string]any)
	if total["calls"].(float64) != 2 || total["input_tokens"].(float64) != 140 {
		t.Errorf("total = %v", total)
	}
	byPurpose := body["by_purpose"].(map[string]any)
	if _, ok := byPurpose["turn"]; !ok {
		t.Errorf("by_purpose = %v", byPurpose)
	}

	rec = doRequest(t, h, "GET", "/v1/usage?days=junk", "", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad days status = %d", rec.Code)
	}
}

func TestHealthAndVersion(t *testing.T) {
	_, h := newTestServer(t)

	rec := doRequest(t, h, "GET", "/health", "", "")
	if rec.Code != http.StatusOK || decodeBody(t, rec)["status"] != "healthy" {
		t.Errorf("health = %d %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, h, "GET", "/v1/version", "", "")
	if rec.Code != http.StatusOK {
		t.Errorf("version status = %d", rec.Code)
	}

	rec = doRequest(t, h, "GET", "/", "", "")
	if rec.Code != http.StatusOK || decodeBody(t, rec)["name"] != "meAI" {
		t.Errorf("root = %d %s", rec.Code, rec.Body.String())
	}
}

func TestUserIDFromQueryFallback(t *testing.T) {
	_, h := newTestServer(t)

	req := httptest.NewRequest("GET", "/v1/conversations?user_id=bob", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}
