// Package web implements the conversation HTTP API and the WebSocket
// message stream.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/meai/backend/internal/agent"
	"github.com/meai/backend/internal/buildinfo"
	"github.com/meai/backend/internal/config"
	"github.com/meai/backend/internal/events"
	"github.com/meai/backend/internal/intent"
	"github.com/meai/backend/internal/store"
	"github.com/meai/backend/internal/usage"
	"github.com/meai/backend/internal/vectorstore"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response,
// which is not actionable but worth tracking for debugging.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	writeJSON(w, map[string]string{"error": msg}, logger)
}

// Server is the HTTP API server.
type Server struct {
	cfg     *config.Config
	agent   *agent.Agent
	store   *store.Store
	vectors *vectorstore.Store
	meter   *usage.Store
	bus     *events.Bus
	logger  *slog.Logger
	server  *http.Server
}

// NewServer creates a new API server.
func NewServer(cfg *config.Config, ag *agent.Agent, st *store.Store, vectors *vectorstore.Store, meter *usage.Store, bus *events.Bus, logger *slog.Logger) *Server {
	return &Server{
		cfg:     cfg,
		agent:   ag,
		store:   st,
		vectors: vectors,
		meter:   meter,
		bus:     bus,
		logger:  logger.With("component", "web"),
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Listen.Address, s.cfg.Listen.Port),
		Handler:      s.withLogging(s.handler()),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // WebSocket streams stay open indefinitely
	}

	addr := s.cfg.Listen.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.cfg.Listen.Port)
	return s.server.ListenAndServe()
}

// handler builds the route table.
func (s *Server) handler() http.Handler {
	mux := http.NewServeMux()

	// Conversation endpoints
	mux.HandleFunc("POST /v1/conversations", s.handleConversationCreate)
	mux.HandleFunc("GET /v1/conversations", s.handleConversationList)
	mux.HandleFunc("GET /v1/conversations/{id}", s.handleConversationGet)
	mux.HandleFunc("DELETE /v1/conversations/{id}", s.handleConversationDelete)
	mux.HandleFunc("GET /v1/conversations/{id}/messages", s.handleMessageList)

	// Message stream (WebSocket)
	mux.HandleFunc("GET /v1/conversations/{id}/stream", s.handleStream)

	// Toolkit endpoints
	mux.HandleFunc("GET /v1/toolkits", s.handleToolkitList)
	mux.HandleFunc("POST /v1/toolkits/{slug}/enable", s.handleToolkitEnable)
	mux.HandleFunc("POST /v1/toolkits/{slug}/disable", s.handleToolkitDisable)

	// Operational events (WebSocket)
	mux.HandleFunc("GET /v1/events", s.handleEvents)

	// Token usage accounting
	mux.HandleFunc("GET /v1/usage", s.handleUsage)

	// Health endpoints
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /", s.handleRoot)

	return mux
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// userID extracts the caller identity. Authentication is delegated to
// the deployment's front proxy; the backend trusts the user_id it is
// handed.
func userID(r *http.Request) string {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return id
	}
	return r.URL.Query().Get("user_id")
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "meAI",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}

type conversationCreateRequest struct {
	Title string `json:"title"`
}

type conversationResponse struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Title     string `json:"title"`
	Summary   string `json:"summary,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func toConversationResponse(c *store.Conversation) conversationResponse {
	return conversationResponse{
		ID:        c.ID,
		UserID:    c.UserID,
		Title:     c.Title,
		Summary:   c.SummaryText,
		CreatedAt: c.CreatedAt.Format(time.RFC3339),
		UpdatedAt: c.UpdatedAt.Format(time.RFC3339),
	}
}

func (s *Server) handleConversationCreate(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusBadRequest, "user_id is required", s.logger)
		return
	}

	var req conversationCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", s.logger)
		return
	}

	conv, err := s.store.CreateConversation(r.Context(), uid, req.Title)
	if err != nil {
		s.logger.Error("create conversation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "create failed", s.logger)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, toConversationResponse(conv), s.logger)
}

func (s *Server) handleConversationList(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusBadRequest, "user_id is required", s.logger)
		return
	}

	convs, err := s.store.ListConversations(r.Context(), uid)
	if err != nil {
		s.logger.Error("list conversations failed", "error", err)
		writeError(w, http.StatusInternalServerError, "list failed", s.logger)
		return
	}

	out := make([]conversationResponse, 0, len(convs))
	for i := range convs {
		out = append(out, toConversationResponse(&convs[i]))
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"conversations": out}, s.logger)
}

// loadConversation fetches the conversation scoped to the caller,
// writing the error response itself when the lookup fails.
func (s *Server) loadConversation(w http.ResponseWriter, r *http.Request) *store.Conversation {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusBadRequest, "user_id is required", s.logger)
		return nil
	}

	conv, err := s.store.GetConversation(r.Context(), r.PathValue("id"), uid)
	if err != nil {
		s.logger.Error("get conversation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "lookup failed", s.logger)
		return nil
	}
	if conv == nil {
		writeError(w, http.StatusNotFound, "conversation not found", s.logger)
		return nil
	}
	return conv
}

func (s *Server) handleConversationGet(w http.ResponseWriter, r *http.Request) {
	conv := s.loadConversation(w, r)
	if conv == nil {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, toConversationResponse(conv), s.logger)
}

func (s *Server) handleConversationDelete(w http.ResponseWriter, r *http.Request) {
	conv := s.loadConversation(w, r)
	if conv == nil {
		return
	}

	if err := s.store.DeleteConversation(r.Context(), conv.ID, conv.UserID); err != nil {
		s.logger.Error("delete conversation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "delete failed", s.logger)
		return
	}
	// Embeddings go with the conversation.
	if err := s.vectors.DeleteConversation(conv.ID); err != nil {
		s.logger.Warn("delete conversation vectors failed", "conversation_id", conv.ID, "error", err)
	}

	w.WriteHeader(http.StatusNoContent)
}

type messageResponse struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

func (s *Server) handleMessageList(w http.ResponseWriter, r *http.Request) {
	conv := s.loadConversation(w, r)
	if conv == nil {
		return
	}

	msgs, err := s.store.ListMessages(r.Context(), conv.ID)
	if err != nil {
		s.logger.Error("list messages failed", "error", err)
		writeError(w, http.StatusInternalServerError, "list failed", s.logger)
		return
	}

	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageResponse{
			ID:        m.ID,
			Type:      string(m.Type),
			Content:   m.Content,
			CreatedAt: m.CreatedAt.Format(time.RFC3339),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"messages": out}, s.logger)
}

func (s *Server) handleToolkitList(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusBadRequest, "user_id is required", s.logger)
		return
	}

	enabled, err := s.store.EnabledToolkits(r.Context(), uid)
	if err != nil {
		s.logger.Error("list toolkits failed", "error", err)
		writeError(w, http.StatusInternalServerError, "list failed", s.logger)
		return
	}
	if enabled == nil {
		enabled = []string{}
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"supported": intent.Toolkits,
		"enabled":   enabled,
	}, s.logger)
}

func (s *Server) setToolkitStatus(w http.ResponseWriter, r *http.Request, status string) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusBadRequest, "user_id is required", s.logger)
		return
	}

	slug := r.PathValue("slug")
	if !validToolkit(slug) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported toolkit %q", slug), s.logger)
		return
	}

	if err := s.store.SetToolkitStatus(r.Context(), uid, slug, status); err != nil {
		s.logger.Error("set toolkit status failed", "toolkit", slug, "error", err)
		writeError(w, http.StatusInternalServerError, "update failed", s.logger)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"toolkit": slug, "status": status}, s.logger)
}

// handleUsage reports token totals for the trailing window. The "days"
// query parameter bounds the window (default 7).
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.meter == nil {
		writeError(w, http.StatusNotFound, "usage accounting disabled", s.logger)
		return
	}

	days := 7
	if d := r.URL.Query().Get("days"); d != "" {
		n, err := strconv.Atoi(d)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "days must be a positive integer", s.logger)
			return
		}
		days = n
	}
	start := time.Now().AddDate(0, 0, -days)

	total, err := s.meter.TotalSince(r.Context(), start)
	if err != nil {
		s.logger.Error("usage totals failed", "error", err)
		writeError(w, http.StatusInternalServerError, "usage query failed", s.logger)
		return
	}
	byPurpose, err := s.meter.ByPurposeSince(r.Context(), start)
	if err != nil {
		s.logger.Error("usage by purpose failed", "error", err)
		writeError(w, http.StatusInternalServerError, "usage query failed", s.logger)
		return
	}
	byModel, err := s.meter.ByModelSince(r.Context(), start)
	if err != nil {
		s.logger.Error("usage by model failed", "error", err)
		writeError(w, http.StatusInternalServerError, "usage query failed", s.logger)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"days":       days,
		"total":      total,
		"by_purpose": byPurpose,
		"by_model":   byModel,
	}, s.logger)
}

func (s *Server) handleToolkitEnable(w http.ResponseWriter, r *http.Request) {
	s.setToolkitStatus(w, r, store.ToolkitActive)
}

func (s *Server) handleToolkitDisable(w http.ResponseWriter, r *http.Request) {
	s.setToolkitStatus(w, r, store.ToolkitDisconnected)
}
