// Package store provides SQLite-backed persistence for conversations,
// messages, tool-call audit records, and per-user toolkit connections.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// MessageType is the closed set of message kinds.
type MessageType string

const (
	TypeHuman  MessageType = "Human"
	TypeAI     MessageType = "AI"
	TypeSystem MessageType = "System"
	TypeTool   MessageType = "Tool"
)

// Embeddable reports whether messages of this type participate in
// semantic embedding and the rolling context window.
func (t MessageType) Embeddable() bool {
	return t == TypeHuman || t == TypeAI
}

// Conversation is a single chat thread owned by a user.
type Conversation struct {
	ID          string
	UserID      string
	Title       string
	SummaryText string // rolling summary; empty until first generated
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Message is one entry in a conversation's append-only log.
// Ordering is by creation time, ties broken by insertion order.
type Message struct {
	ID             string
	ConversationID string
	Type           MessageType
	Content        string
	CreatedAt      time.Time
}

// ToolkitStatus values for user toolkit connections.
const (
	ToolkitActive       = "ACTIVE"
	ToolkitDisconnected = "DISCONNECTED"
)

// Store is the SQLite-backed persistence layer.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath and migrates the schema.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT,
		summary_text TEXT,
		summary_msg_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id, created_at);

	-- seq breaks creation-timestamp ties with insertion order.
	CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		conversation_id TEXT NOT NULL,
		type TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at, seq);

	CREATE TABLE IF NOT EXISTS tool_calls (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		message_id TEXT,
		tool_name TEXT NOT NULL,
		arguments TEXT NOT NULL,
		result TEXT,
		error TEXT,
		executed_at TIMESTAMP NOT NULL,
		FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_tool_calls_conversation ON tool_calls(conversation_id, executed_at);

	CREATE TABLE IF NOT EXISTS user_toolkits (
		user_id TEXT NOT NULL,
		toolkit_slug TEXT NOT NULL,
		status TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (user_id, toolkit_slug)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateConversation creates a new conversation for a user.
func (s *Store) CreateConversation(ctx context.Context, userID, title string) (*Conversation, error) {
	now := time.Now().UTC()
	conv := &Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, user_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		conv.ID, conv.UserID, conv.Title, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}
	return conv, nil
}

// GetConversation fetches a conversation by ID, scoped to its owner.
// Returns nil if not found.
func (s *Store) GetConversation(ctx context.Context, id, userID string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, COALESCE(title, ''), COALESCE(summary_text, ''), created_at, updated_at
		 FROM conversations WHERE id = ? AND user_id = ?`, id, userID)

	var conv Conversation
	err := row.Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.SummaryText, &conv.CreatedAt, &conv.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	return &conv, nil
}

// ListConversations returns a user's conversations, newest first.
func (s *Store) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, COALESCE(title, ''), COALESCE(summary_text, ''), created_at, updated_at
		 FROM conversations WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.SummaryText, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// DeleteConversation removes a conversation and, via cascade, its
// messages and tool-call records. The caller is responsible for
// deleting the associated embedding records.
func (s *Store) DeleteConversation(ctx context.Context, id, userID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM conversations WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("conversation not found: %s", id)
	}
	return nil
}

// ReplaceSummary overwrites the conversation's rolling summary. The
// previous summary is fully replaced, never appended to. messageCount
// records how many Human/AI messages the summary covers, so the next
// refresh can batch exactly the messages added since.
func (s *Store) ReplaceSummary(ctx context.Context, conversationID, summary string, messageCount int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET summary_text = ?, summary_msg_count = ?, updated_at = ? WHERE id = ?`,
		summary, messageCount, time.Now().UTC(), conversationID)
	if err != nil {
		return fmt.Errorf("update summary: %w", err)
	}
	return nil
}

// SummaryState returns the conversation's rolling summary and the
// Human/AI message count it covered when last refreshed.
func (s *Store) SummaryState(ctx context.Context, conversationID string) (string, int, error) {
	var summary string
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(summary_text, ''), summary_msg_count FROM conversations WHERE id = ?`,
		conversationID).Scan(&summary, &count)
	if err == sql.ErrNoRows {
		return "", 0, nil
	}
	if err != nil {
		return "", 0, fmt.Errorf("query summary state: %w", err)
	}
	return summary, count, nil
}

// Summary returns the conversation's rolling summary, empty if none.
func (s *Store) Summary(ctx context.Context, conversationID string) (string, error) {
	var summary string
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(summary_text, '') FROM conversations WHERE id = ?`, conversationID).Scan(&summary)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query summary: %w", err)
	}
	return summary, nil
}

// AppendMessage appends a message to a conversation's log.
func (s *Store) AppendMessage(ctx context.Context, conversationID string, typ MessageType, content string) (*Message, error) {
	msg := &Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Type:           typ,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, type, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, string(msg.Type), msg.Content, msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`, msg.CreatedAt, conversationID)
	if err != nil {
		return nil, fmt.Errorf("touch conversation: %w", err)
	}
	return msg, nil
}

// RecentMessages returns the last n messages of the given types in
// chronological order (oldest first). Empty types means all types.
func (s *Store) RecentMessages(ctx context.Context, conversationID string, types []MessageType, n int) ([]Message, error) {
	query := `SELECT id, conversation_id, type, content, created_at FROM messages WHERE conversation_id = ?`
	args := []any{conversationID}
	if len(types) > 0 {
		query += ` AND type IN (?` + strings.Repeat(",?", len(types)-1) + `)`
		for _, t := range types {
			args = append(args, string(t))
		}
	}
	query += ` ORDER BY created_at DESC, seq DESC LIMIT ?`
	args = append(args, n)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		var typ string
		if err := rows.Scan(&m.ID, &m.ConversationID, &typ, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Type = MessageType(typ)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse newest-first into chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// ListMessages returns all messages in a conversation in chronological order.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, type, content, created_at FROM messages
		 WHERE conversation_id = ? ORDER BY created_at ASC, seq ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		var typ string
		if err := rows.Scan(&m.ID, &m.ConversationID, &typ, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Type = MessageType(typ)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// CountMessages counts messages of the given types in a conversation.
// Empty types means all types.
func (s *Store) CountMessages(ctx context.Context, conversationID string, types []MessageType) (int, error) {
	query := `SELECT COUNT(*) FROM messages WHERE conversation_id = ?`
	args := []any{conversationID}
	if len(types) > 0 {
		query += ` AND type IN (?` + strings.Repeat(",?", len(types)-1) + `)`
		for _, t := range types {
			args = append(args, string(t))
		}
	}
	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}

// RecordToolCall stores an audit row for one tool execution.
func (s *Store) RecordToolCall(ctx context.Context, conversationID, messageID, toolName, arguments, result, execErr string) error {
	var msgID any
	if messageID != "" {
		msgID = messageID
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tool_calls (id, conversation_id, message_id, tool_name, arguments, result, error, executed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), conversationID, msgID, toolName, arguments, result, execErr, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert tool call: %w", err)
	}
	return nil
}

// EnabledToolkits returns the toolkit slugs with an active connection
// for the user.
func (s *Store) EnabledToolkits(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT toolkit_slug FROM user_toolkits WHERE user_id = ? AND status = ?`,
		userID, ToolkitActive)
	if err != nil {
		return nil, fmt.Errorf("query toolkits: %w", err)
	}
	defer rows.Close()

	var slugs []string
	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			return nil, fmt.Errorf("scan toolkit: %w", err)
		}
		slugs = append(slugs, slug)
	}
	return slugs, rows.Err()
}

// SetToolkitStatus upserts the connection status for a user's toolkit.
func (s *Store) SetToolkitStatus(ctx context.Context, userID, slug, status string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_toolkits (user_id, toolkit_slug, status, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id, toolkit_slug) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at`,
		userID, strings.ToUpper(slug), status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert toolkit status: %w", err)
	}
	return nil
}
