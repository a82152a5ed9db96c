package web

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/meai/backend/internal/agent"
	"github.com/meai/backend/internal/events"
	"github.com/meai/backend/internal/intent"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Origin checks belong to the front proxy, same as authentication.
	CheckOrigin: func(r *http.Request) bool { return true },
}

func validToolkit(slug string) bool {
	return slices.Contains(intent.Toolkits, strings.ToUpper(slug))
}

// inboundMessage is what the client sends over the stream socket.
type inboundMessage struct {
	Content string `json:"content"`
}

// wsConn serializes writes to one WebSocket connection. gorilla permits
// only one concurrent writer.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
	dead bool
}

// send writes v as a JSON message. Returns false once the connection
// has failed; subsequent sends are no-ops.
func (c *wsConn) send(v any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dead {
		return false
	}
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := c.conn.WriteJSON(v); err != nil {
		c.dead = true
		return false
	}
	return true
}

// handleStream is the per-conversation message socket. The client sends
// user messages as JSON; the server streams turn events back. Turns run
// sequentially per socket, matching the conversation's append-only
// ordering.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conv := s.loadConversation(w, r)
	if conv == nil {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ws := &wsConn{conn: conn}
	s.bus.Publish(events.Event{
		Timestamp: time.Now(), Source: events.SourceWeb, Kind: events.KindStreamOpen,
		Data: map[string]any{"conversation_id": conv.ID, "user_id": conv.UserID},
	})
	defer s.bus.Publish(events.Event{
		Timestamp: time.Now(), Source: events.SourceWeb, Kind: events.KindStreamClose,
		Data: map[string]any{"conversation_id": conv.ID, "user_id": conv.UserID},
	})

	// The socket's lifetime bounds each turn's client context.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	for {
		var in inboundMessage
		if err := conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("stream read failed", "conversation_id", conv.ID, "error", err)
			}
			return
		}
		if strings.TrimSpace(in.Content) == "" {
			continue
		}

		emit := func(ev agent.TurnEvent) bool {
			return ws.send(ev)
		}
		if err := s.agent.HandleMessage(ctx, conv, in.Content, emit); err != nil {
			s.logger.Error("turn failed", "conversation_id", conv.ID, "error", err)
		}
	}
}

// handleEvents streams the operational event bus over a WebSocket.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := s.bus.Subscribe(64)
	defer s.bus.Unsubscribe(sub)

	// Drain client frames so close is noticed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}
