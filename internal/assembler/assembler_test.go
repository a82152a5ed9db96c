package assembler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/meai/backend/internal/config"
	"github.com/meai/backend/internal/store"
	"github.com/meai/backend/internal/vectorstore"
)

// fixedEmbedder returns the same vector for every input.
type fixedEmbedder struct {
	vector []float32
	err    error
}

func (f *fixedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vector, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testContextConfig() config.ContextConfig {
	return config.ContextConfig{
		WindowSize:          15,
		SemanticK:           5,
		MinSimilarity:       0.35,
		ClassifierWindow:    4,
		ClassifierSemanticK: 3,
	}
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAssembleSectionOrder(t *testing.T) {
	st := newTestStore(t)
	vectors := vectorstore.NewInMemory()
	ctx := context.Background()

	conv, _ := st.CreateConversation(ctx, "user-1", "")
	st.ReplaceSummary(ctx, conv.ID, "planning a trip", 0)
	st.AppendMessage(ctx, conv.ID, store.TypeHuman, "what about flights?")
	st.AppendMessage(ctx, conv.ID, store.TypeAI, "I found three options.")

	vectors.Upsert(ctx, conv.ID, "old-1", []float32{1, 0}, "User prefers window seats", time.Now())

	a := New(st, vectors, &fixedEmbedder{vector: []float32{1, 0}}, testContextConfig(), testLogger())
	got, err := a.Assemble(ctx, conv.ID, "book the flight")
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	lines := got.Lines()
	want := []string{
		"Summary: planning a trip",
		"Human: what about flights?",
		"AI: I found three options.",
		"Relevant past messages:",
		"User prefers window seats",
	}
	if len(lines) != len(want) {
		t.Fatalf("lines = %v, want %v", lines, want)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestAssembleEmptySectionsOmitted(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	conv, _ := st.CreateConversation(ctx, "user-1", "")

	a := New(st, vectorstore.NewInMemory(), &fixedEmbedder{vector: []float32{1, 0}}, testContextConfig(), testLogger())
	got, err := a.Assemble(ctx, conv.ID, "hello")
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if lines := got.Lines(); len(lines) != 0 {
		t.Errorf("empty conversation should yield no lines, got %v", lines)
	}
	if s := got.String(); s != "" {
		t.Errorf("String = %q, want empty", s)
	}
}

func TestAssembleWindowBound(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	conv, _ := st.CreateConversation(ctx, "user-1", "")

	cfg := testContextConfig()
	cfg.WindowSize = 3
	for i := 0; i < 10; i++ {
		st.AppendMessage(ctx, conv.ID, store.TypeHuman, fmt.Sprintf("msg-%d", i))
	}

	a := New(st, vectorstore.NewInMemory(), &fixedEmbedder{vector: []float32{1, 0}}, cfg, testLogger())
	got, err := a.Assemble(ctx, conv.ID, "q")
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(got.Recent) != 3 {
		t.Fatalf("recent window = %d, want 3", len(got.Recent))
	}
	if got.Recent[0].Content != "msg-7" || got.Recent[2].Content != "msg-9" {
		t.Errorf("window should hold the newest messages in order: %+v", got.Recent)
	}
}

func TestAssembleWindowExcludesToolMessages(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	conv, _ := st.CreateConversation(ctx, "user-1", "")

	st.AppendMessage(ctx, conv.ID, store.TypeHuman, "send the email")
	st.AppendMessage(ctx, conv.ID, store.TypeTool, "[GMAIL_SEND] Executed GMAIL_SEND\nResult: sent")
	st.AppendMessage(ctx, conv.ID, store.TypeAI, "Email sent.")

	a := New(st, vectorstore.NewInMemory(), &fixedEmbedder{vector: []float32{1, 0}}, testContextConfig(), testLogger())

	got, err := a.Assemble(ctx, conv.ID, "q")
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(got.Recent) != 2 {
		t.Fatalf("recent = %+v, want Human and AI only", got.Recent)
	}
	for _, line := range got.Lines() {
		if strings.Contains(line, "GMAIL_SEND") {
			t.Errorf("tool transcript leaked into context: %q", line)
		}
	}

	cc, err := a.AssembleForClassifier(ctx, conv.ID, "q")
	if err != nil {
		t.Fatalf("AssembleForClassifier: %v", err)
	}
	if strings.Contains(cc.Recent, "GMAIL_SEND") {
		t.Errorf("tool transcript leaked into classifier context: %q", cc.Recent)
	}
}

func TestAssembleSimilarityFloor(t *testing.T) {
	st := newTestStore(t)
	vectors := vectorstore.NewInMemory()
	ctx := context.Background()
	conv, _ := st.CreateConversation(ctx, "user-1", "")

	// Near-identical direction: passes the floor. Orthogonal: cosine
	// similarity 0, filtered out.
	vectors.Upsert(ctx, conv.ID, "close", []float32{1, 0}, "close match", time.Now())
	vectors.Upsert(ctx, conv.ID, "far", []float32{0, 1}, "far match", time.Now())

	a := New(st, vectors, &fixedEmbedder{vector: []float32{1, 0}}, testContextConfig(), testLogger())
	got, err := a.Assemble(ctx, conv.ID, "q")
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(got.Semantic) != 1 || got.Semantic[0].Content != "close match" {
		t.Errorf("semantic = %+v, want only the close match", got.Semantic)
	}
}

func TestAssembleEmbedFailureDegrades(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	conv, _ := st.CreateConversation(ctx, "user-1", "")
	st.AppendMessage(ctx, conv.ID, store.TypeHuman, "still here")

	a := New(st, vectorstore.NewInMemory(), &fixedEmbedder{err: errors.New("quota")}, testContextConfig(), testLogger())
	got, err := a.Assemble(ctx, conv.ID, "q")
	if err != nil {
		t.Fatalf("Assemble should not fail on embed errors: %v", err)
	}
	if len(got.Semantic) != 0 {
		t.Errorf("semantic should be empty on embed failure: %+v", got.Semantic)
	}
	if len(got.Recent) != 1 {
		t.Errorf("recent window should survive embed failure: %+v", got.Recent)
	}
}

func TestAssembleForClassifier(t *testing.T) {
	st := newTestStore(t)
	vectors := vectorstore.NewInMemory()
	ctx := context.Background()
	conv, _ := st.CreateConversation(ctx, "user-1", "")
	st.ReplaceSummary(ctx, conv.ID, "sum", 0)

	for i := 0; i < 6; i++ {
		st.AppendMessage(ctx, conv.ID, store.TypeHuman, fmt.Sprintf("m%d", i))
	}
	vectors.Upsert(ctx, conv.ID, "v1", []float32{1, 0}, "recalled", time.Now())

	a := New(st, vectors, &fixedEmbedder{vector: []float32{1, 0}}, testContextConfig(), testLogger())
	cc, err := a.AssembleForClassifier(ctx, conv.ID, "q")
	if err != nil {
		t.Fatalf("AssembleForClassifier: %v", err)
	}
	if cc.Summary != "sum" {
		t.Errorf("Summary = %q", cc.Summary)
	}
	recentLines := strings.Split(cc.Recent, "\n")
	if len(recentLines) != 4 {
		t.Errorf("classifier window = %d lines, want 4: %q", len(recentLines), cc.Recent)
	}
	if recentLines[3] != "Human: m5" {
		t.Errorf("classifier window should end at the newest message: %q", recentLines[3])
	}
	if cc.Semantic != "recalled" {
		t.Errorf("Semantic = %q", cc.Semantic)
	}
}
