package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/aretw0/concord/pkg/domain"
	"github.com/aretw0/concord/pkg/presence"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = maxBodyBytes
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client message kinds.
const (
	MessageSync     = "sync"
	MessageResolve  = "resolve"
	MessagePresence = "presence"
)

// ClientMessage is sent by a connected participant.
type ClientMessage struct {
	Type      string                    `json:"type"`
	Updates   []domain.StateUpdate      `json:"updates,omitempty"`
	Strategy  domain.ResolutionStrategy `json:"strategy,omitempty"`
	Cursor    json.RawMessage           `json:"cursor,omitempty"`
	Selection json.RawMessage           `json:"selection,omitempty"`
}

// Reply answers one ClientMessage. Session events are delivered as bare domain.Event JSON.
type Reply struct {
	Type   string `json:"type"` // "ack" or "error"
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// ServeWebSocket handles GET /sessions/{sessionID}/ws?userId=...&username=...
// The connection joins the session on open. The participant leaves when its last
// connection closes.
func (s *Server) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, s.Logger, fmt.Errorf("%w: missing userId", domain.ErrInvalidUpdate))
		return
	}

	// Subscribe before joining so the client observes its own join event.
	events, unsubscribe := s.Streams.Subscribe(sessionID)
	err := s.Streams.Connect(sessionID, userID, func() error {
		ok, err := s.Engine.JoinSession(r.Context(), sessionID, domain.Participant{
			UserID:   userID,
			Username: r.URL.Query().Get("username"),
		})
		if err == nil && !ok {
			err = domain.ErrSessionNotFound
		}
		return err
	})
	if err != nil {
		unsubscribe()
		writeError(w, s.Logger, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		unsubscribe()
		s.disconnect(sessionID, userID)
		s.Logger.Warn("websocket upgrade failed", "session_id", sessionID, "err", err)
		return
	}

	c := &wsClient{
		server:    s,
		conn:      conn,
		sessionID: sessionID,
		userID:    userID,
		events:    events,
		replies:   make(chan Reply, subscriberBuffer),
		done:      make(chan struct{}),
	}
	s.Logger.Debug("websocket connected", "session_id", sessionID, "user_id", userID)

	go c.writePump()
	c.readPump()

	unsubscribe()
	s.disconnect(sessionID, userID)
	s.Logger.Debug("websocket disconnected", "session_id", sessionID, "user_id", userID)
}

// disconnect leaves the session once the participant's last connection is gone.
func (s *Server) disconnect(sessionID, userID string) {
	s.Streams.Disconnect(sessionID, userID, func() { s.leave(sessionID, userID) })
}

func (s *Server) leave(sessionID, userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	if _, err := s.Engine.LeaveSession(ctx, sessionID, userID); err != nil {
		s.Logger.Warn("leave on disconnect failed", "session_id", sessionID, "user_id", userID, "err", err)
	}
}

type wsClient struct {
	server    *Server
	conn      *websocket.Conn
	sessionID string
	userID    string
	events    <-chan Message
	replies   chan Reply
	done      chan struct{}
}

// readPump decodes client messages and dispatches them to the engine until the connection closes.
func (c *wsClient) readPump() {
	defer func() {
		close(c.done)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.Logger.Warn("websocket read failed", "session_id", c.sessionID, "err", err)
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.reply(Reply{Type: "error", Error: fmt.Sprintf("%v: %v", domain.ErrInvalidUpdate, err)})
			continue
		}
		c.reply(c.handle(msg))
	}
}

func (c *wsClient) handle(msg ClientMessage) Reply {
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()

	var (
		result any
		err    error
	)
	switch msg.Type {
	case MessageSync:
		result, err = c.server.Engine.Submit(ctx, c.sessionID, msg.Updates)
	case MessageResolve:
		result, err = c.server.Engine.ResolveConflicts(ctx, c.sessionID, msg.Updates, msg.Strategy)
	case MessagePresence:
		var (
			u  presence.Update
			ok bool
		)
		u, err = presence.Patch{Cursor: msg.Cursor, Selection: msg.Selection}.Update()
		if err == nil {
			ok, err = c.server.Engine.UpdateParticipantPresence(ctx, c.sessionID, c.userID, u)
		}
		if err == nil && !ok {
			err = domain.ErrParticipantNotFound
		}
		result = map[string]bool{"success": ok}
	default:
		err = fmt.Errorf("%w: unknown message type %q", domain.ErrInvalidUpdate, msg.Type)
	}
	if err != nil {
		return Reply{Type: "error", Error: err.Error()}
	}
	return Reply{Type: "ack", Result: result}
}

func (c *wsClient) reply(r Reply) {
	select {
	case c.replies <- r:
	default:
		c.server.Logger.Warn("websocket reply buffer full, dropping", "session_id", c.sessionID, "user_id", c.userID)
	}
}

// writePump serializes every write to the connection: events, replies and pings.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case msg, ok := <-c.events:
			if !ok {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg.Data); err != nil {
				return
			}
		case r := <-c.replies:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(r); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
