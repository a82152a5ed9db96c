// Package usage provides persistent token accounting for model calls.
// Records are append-only and indexed by timestamp and purpose so the
// API can answer "what did the last week of turns cost in tokens".
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Purposes tag which part of the pipeline made a model call.
const (
	PurposeTurn       = "turn"       // tool-orchestration loop
	PurposeClassifier = "classifier" // intent classification
	PurposeSummary    = "summary"    // rolling summarization
)

// Record is a single model call's token usage.
type Record struct {
	ID           string
	Timestamp    time.Time
	Purpose      string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Summary holds aggregated token totals.
type Summary struct {
	Calls        int   `json:"calls"`
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Store is an append-only SQLite store for usage records. SQLite
// serializes writes, so all methods are safe for concurrent use.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the usage database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open usage database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate usage schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS usage_records (
		id            TEXT PRIMARY KEY,
		timestamp     TEXT NOT NULL,
		purpose       TEXT NOT NULL,
		model         TEXT NOT NULL,
		input_tokens  INTEGER NOT NULL,
		output_tokens INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_usage_timestamp ON usage_records(timestamp);
	CREATE INDEX IF NOT EXISTS idx_usage_purpose ON usage_records(purpose);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record persists a usage record. A missing ID gets a UUIDv7, a zero
// timestamp gets the current time.
func (s *Store) Record(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate usage record ID: %w", err)
		}
		rec.ID = id.String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_records (id, timestamp, purpose, model, input_tokens, output_tokens)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Timestamp.UTC().Format(time.RFC3339),
		rec.Purpose,
		rec.Model,
		rec.InputTokens,
		rec.OutputTokens,
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// TotalSince returns aggregated totals for records at or after start.
func (s *Store) TotalSince(ctx context.Context, start time.Time) (*Summary, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0)
		 FROM usage_records WHERE timestamp >= ?`,
		start.UTC().Format(time.RFC3339),
	)

	var sum Summary
	if err := row.Scan(&sum.Calls, &sum.InputTokens, &sum.OutputTokens); err != nil {
		return nil, fmt.Errorf("query usage totals: %w", err)
	}
	return &sum, nil
}

// ByPurposeSince returns per-purpose totals for records at or after start.
func (s *Store) ByPurposeSince(ctx context.Context, start time.Time) (map[string]*Summary, error) {
	return s.groupedSince(ctx, "purpose", start)
}

// ByModelSince returns per-model totals for records at or after start.
func (s *Store) ByModelSince(ctx context.Context, start time.Time) (map[string]*Summary, error) {
	return s.groupedSince(ctx, "model", start)
}

func (s *Store) groupedSince(ctx context.Context, column string, start time.Time) (map[string]*Summary, error) {
	// column is a compile-time constant from our own methods, never
	// user input.
	query := fmt.Sprintf(
		`SELECT COALESCE(%s, ''), COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0)
		 FROM usage_records WHERE timestamp >= ?
		 GROUP BY %s
		 ORDER BY SUM(input_tokens) + SUM(output_tokens) DESC`,
		column, column,
	)

	rows, err := s.db.QueryContext(ctx, query, start.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("query usage by %s: %w", column, err)
	}
	defer rows.Close()

	result := make(map[string]*Summary)
	for rows.Next() {
		var key string
		var sum Summary
		if err := rows.Scan(&key, &sum.Calls, &sum.InputTokens, &sum.OutputTokens); err != nil {
			return nil, fmt.Errorf("scan usage by %s: %w", column, err)
		}
		result[key] = &sum
	}
	return result, rows.Err()
}
