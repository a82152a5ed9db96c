package usage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/meai/backend/internal/llm"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "usage.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndTotals(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	records := []Record{
		{Purpose: PurposeTurn, Model: "claude", InputTokens: 100, OutputTokens: 50},
		{Purpose: PurposeTurn, Model: "claude", InputTokens: 200, OutputTokens: 80},
		{Purpose: PurposeClassifier, Model: "llama3", InputTokens: 30, OutputTokens: 5},
	}
	for _, rec := range records {
		if err := s.Record(ctx, rec); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	sum, err := s.TotalSince(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("TotalSince: %v", err)
	}
	if sum.Calls != 3 || sum.InputTokens != 330 || sum.OutputTokens != 135 {
		t.Errorf("totals = %+v", sum)
	}

	byPurpose, err := s.ByPurposeSince(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("ByPurposeSince: %v", err)
	}
	if got := byPurpose[PurposeTurn]; got == nil || got.Calls != 2 || got.InputTokens != 300 {
		t.Errorf("turn usage = %+v", got)
	}
	if got := byPurpose[PurposeClassifier]; got == nil || got.Calls != 1 {
		t.Errorf("classifier usage = %+v", got)
	}

	byModel, err := s.ByModelSince(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("ByModelSince: %v", err)
	}
	if got := byModel["llama3"]; got == nil || got.OutputTokens != 5 {
		t.Errorf("llama3 usage = %+v", got)
	}
}

func TestTotalSinceExcludesOlderRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := Record{Purpose: PurposeTurn, Model: "claude", InputTokens: 999,
		Timestamp: time.Now().Add(-48 * time.Hour)}
	recent := Record{Purpose: PurposeTurn, Model: "claude", InputTokens: 10}
	for _, rec := range []Record{old, recent} {
		if err := s.Record(ctx, rec); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	sum, err := s.TotalSince(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("TotalSince: %v", err)
	}
	if sum.Calls != 1 || sum.InputTokens != 10 {
		t.Errorf("window should hold only the recent record: %+v", sum)
	}
}

// meterClient is a canned llm.Client for metering tests.
type meterClient struct {
	resp *llm.ChatResponse
	err  error
}

func (c *meterClient) Chat(ctx context.Context, messages []llm.Message, tools []map[string]any) (*llm.ChatResponse, error) {
	return c.resp, c.err
}

func (c *meterClient) ChatStream(ctx context.Context, messages []llm.Message, tools []map[string]any, callback llm.StreamCallback) (*llm.ChatResponse, error) {
	return c.resp, c.err
}

func (c *meterClient) Ping(ctx context.Context) error { return nil }

func TestMeterRecordsSuccessfulCalls(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	client := Metered(&meterClient{resp: &llm.ChatResponse{
		Model:        "claude",
		InputTokens:  42,
		OutputTokens: 7,
	}}, s, PurposeSummary, logger)

	if _, err := client.Chat(ctx, nil, nil); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if _, err := client.ChatStream(ctx, nil, nil, func(string) {}); err != nil {
		t.Fatalf("ChatStream: %v", err)
	}

	byPurpose, err := s.ByPurposeSince(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("ByPurposeSince: %v", err)
	}
	got := byPurpose[PurposeSummary]
	if got == nil || got.Calls != 2 || got.InputTokens != 84 || got.OutputTokens != 14 {
		t.Errorf("summary usage = %+v", got)
	}
}

func TestMeterSkipsFailedCalls(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	client := Metered(&meterClient{err: errors.New("overloaded")}, s, PurposeTurn, logger)
	if _, err := client.Chat(ctx, nil, nil); err == nil {
		t.Fatal("expected error from inner client")
	}

	sum, err := s.TotalSince(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("TotalSince: %v", err)
	}
	if sum.Calls != 0 {
		t.Errorf("failed calls must not be recorded: %+v", sum)
	}
}

func TestMeteredNilStorePassesThrough(t *testing.T) {
	inner := &meterClient{resp: &llm.ChatResponse{}}
	if got := Metered(inner, nil, PurposeTurn, nil); got != llm.Client(inner) {
		t.Error("nil store should return the client unwrapped")
	}
}
