// Package vectorstore persists message embeddings and serves similarity
// queries, scoped per conversation. It wraps chromem-go with one
// collection per conversation and disk persistence.
package vectorstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
)

// Match is a single similarity-search hit.
type Match struct {
	MessageID  string
	Content    string
	Similarity float32 // cosine similarity, higher is closer
}

// Store wraps chromem-go with per-conversation collections.
type Store struct {
	mu sync.RWMutex
	db *chromem.DB
}

// All embeddings are computed upstream, so the collection embedding
// function must never run. Returning an error makes any accidental use
// loud instead of silently embedding with the wrong model.
func noEmbed(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("vectorstore: embeddings must be precomputed")
}

// New creates (or opens) the persistent vector store at dataDir/vectorstore/.
func New(dataDir string) (*Store, error) {
	dir := filepath.Join(dataDir, "vectorstore")
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create vectorstore dir: %w", err)
	}
	db, err := chromem.NewPersistentDB(dir, false)
	if err != nil {
		return nil, fmt.Errorf("open vectorstore: %w", err)
	}
	return &Store{db: db}, nil
}

// NewInMemory creates a non-persistent store, used in tests.
func NewInMemory() *Store {
	return &Store{db: chromem.NewDB()}
}

// collectionName returns the per-conversation collection name.
func collectionName(conversationID string) string {
	return "conv_" + conversationID
}

// Upsert indexes (or re-indexes) a message embedding.
func (s *Store) Upsert(ctx context.Context, conversationID, messageID string, vector []float32, text string, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	col, err := s.db.GetOrCreateCollection(collectionName(conversationID), nil, noEmbed)
	if err != nil {
		return fmt.Errorf("get collection: %w", err)
	}

	doc := chromem.Document{
		ID:        messageID,
		Content:   text,
		Embedding: vector,
		Metadata: map[string]string{
			"message_id":      messageID,
			"conversation_id": conversationID,
			"timestamp":       strconv.FormatInt(ts.Unix(), 10),
		},
	}
	return col.AddDocument(ctx, doc)
}

// Query returns up to k messages most similar to vector within the
// conversation, in descending similarity order.
func (s *Store) Query(ctx context.Context, conversationID string, vector []float32, k int) ([]Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	col := s.db.GetCollection(collectionName(conversationID), noEmbed)
	if col == nil {
		return nil, nil
	}

	count := col.Count()
	if count == 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}

	results, err := col.QueryEmbedding(ctx, vector, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query collection: %w", err)
	}

	out := make([]Match, 0, len(results))
	for _, r := range results {
		out = append(out, Match{
			MessageID:  r.ID,
			Content:    r.Content,
			Similarity: r.Similarity,
		})
	}
	return out, nil
}

// DeleteMessage removes a single message's embedding record.
func (s *Store) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	col := s.db.GetCollection(collectionName(conversationID), noEmbed)
	if col == nil {
		return nil
	}
	return col.Delete(ctx, nil, nil, messageID)
}

// DeleteConversation removes all embedding records for a conversation.
func (s *Store) DeleteConversation(conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.DeleteCollection(collectionName(conversationID))
}

// Count returns the number of stored embeddings for a conversation.
func (s *Store) Count(conversationID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	col := s.db.GetCollection(collectionName(conversationID), noEmbed)
	if col == nil {
		return 0
	}
	return col.Count()
}
