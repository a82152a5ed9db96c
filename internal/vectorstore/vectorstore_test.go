package vectorstore

import (
	"context"
	"testing"
	"time"
)

func TestUpsertAndQuery(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	now := time.Now()

	// Orthogonal-ish vectors: msg-1 aligns with the query, msg-2 does not.
	if err := s.Upsert(ctx, "conv-1", "msg-1", []float32{1, 0, 0}, "buy milk", now); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := s.Upsert(ctx, "conv-1", "msg-2", []float32{0, 1, 0}, "book flights", now); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	matches, err := s.Query(ctx, "conv-1", []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2", len(matches))
	}
	if matches[0].MessageID != "msg-1" {
		t.Errorf("best match = %s, want msg-1", matches[0].MessageID)
	}
	if matches[0].Similarity <= matches[1].Similarity {
		t.Errorf("matches not in descending similarity order: %v", matches)
	}
	if matches[0].Content != "buy milk" {
		t.Errorf("Content = %q, want %q", matches[0].Content, "buy milk")
	}
}

func TestQueryScopedPerConversation(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	s.Upsert(ctx, "conv-1", "msg-1", []float32{1, 0}, "in conv one", time.Now())

	matches, err := s.Query(ctx, "conv-2", []float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("conversation isolation broken: %v", matches)
	}
}

func TestQueryEmptyConversation(t *testing.T) {
	s := NewInMemory()

	matches, err := s.Query(context.Background(), "missing", []float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("Query on missing conversation: %v", err)
	}
	if matches != nil {
		t.Errorf("expected nil matches, got %v", matches)
	}
}

func TestQueryClampsK(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	s.Upsert(ctx, "conv-1", "msg-1", []float32{1, 0}, "only one", time.Now())

	matches, err := s.Query(ctx, "conv-1", []float32{1, 0}, 10)
	if err != nil {
		t.Fatalf("Query with k beyond count: %v", err)
	}
	if len(matches) != 1 {
		t.Errorf("got %d matches, want 1", len(matches))
	}
}

func TestDeleteMessage(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	s.Upsert(ctx, "conv-1", "msg-1", []float32{1, 0}, "doomed", time.Now())
	s.Upsert(ctx, "conv-1", "msg-2", []float32{0, 1}, "survivor", time.Now())

	if err := s.DeleteMessage(ctx, "conv-1", "msg-1"); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}
	if got := s.Count("conv-1"); got != 1 {
		t.Errorf("Count = %d, want 1", got)
	}
}

func TestDeleteConversation(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	s.Upsert(ctx, "conv-1", "msg-1", []float32{1, 0}, "doomed", time.Now())

	if err := s.DeleteConversation("conv-1"); err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}
	if got := s.Count("conv-1"); got != 0 {
		t.Errorf("Count = %d, want 0", got)
	}
}

func TestPersistentStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()

	s, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := s.Upsert(ctx, "conv-1", "msg-1", []float32{1, 0}, "persisted", time.Now()); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	// Reopen from the same directory.
	s2, err := New(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	matches, err := s2.Query(ctx, "conv-1", []float32{1, 0}, 1)
	if err != nil {
		t.Fatalf("Query after reopen: %v", err)
	}
	if len(matches) != 1 || matches[0].Content != "persisted" {
		t.Errorf("persistence round trip failed: %v", matches)
	}
}
