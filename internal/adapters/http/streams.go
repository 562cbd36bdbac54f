package http

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/aretw0/concord/internal/logging"
	"github.com/aretw0/concord/pkg/domain"
	"github.com/aretw0/concord/pkg/ports"
	"github.com/google/uuid"
)

// subscriberBuffer is the number of events a slow client may lag behind before drops.
const subscriberBuffer = 32

// Message is one event as delivered to SSE and WebSocket clients.
type Message struct {
	Event domain.Event
	Data  []byte // JSON encoding of Event
}

// StreamManager fans committed events out to the SSE and WebSocket clients of each session.
// It also counts the WebSocket connections of each participant.
type StreamManager struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan Message // SessionID -> subscriber ID -> channel

	connMu      sync.Mutex
	connections map[connKey]int

	logger *slog.Logger
}

type connKey struct {
	sessionID string
	userID    string
}

var _ ports.Publisher = (*StreamManager)(nil)

// NewStreamManager creates an empty stream manager.
func NewStreamManager(logger *slog.Logger) *StreamManager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &StreamManager{
		subscribers: make(map[string]map[string]chan Message),
		connections: make(map[connKey]int),
		logger:      logger,
	}
}

// Subscribe registers a subscriber for sessionID. The returned function unsubscribes
// and closes the channel.
func (sm *StreamManager) Subscribe(sessionID string) (<-chan Message, func()) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	id := uuid.NewString()
	ch := make(chan Message, subscriberBuffer)
	if _, ok := sm.subscribers[sessionID]; !ok {
		sm.subscribers[sessionID] = make(map[string]chan Message)
	}
	sm.subscribers[sessionID][id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			sm.mu.Lock()
			defer sm.mu.Unlock()
			if subs, ok := sm.subscribers[sessionID]; ok {
				delete(subs, id)
				close(ch)
				if len(subs) == 0 {
					delete(sm.subscribers, sessionID)
				}
			}
		})
	}
}

// Subscribers returns the number of live subscribers for sessionID.
func (sm *StreamManager) Subscribers(sessionID string) int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.subscribers[sessionID])
}

// Connect runs join and, when it succeeds, counts one more connection for userID.
// Connect and Disconnect calls for the same manager never interleave, so a leave
// cannot overtake the join of a newer connection.
func (sm *StreamManager) Connect(sessionID, userID string, join func() error) error {
	sm.connMu.Lock()
	defer sm.connMu.Unlock()

	if err := join(); err != nil {
		return err
	}
	sm.connections[connKey{sessionID, userID}]++
	return nil
}

// Disconnect drops one connection of userID and runs leave if it was the last one.
func (sm *StreamManager) Disconnect(sessionID, userID string, leave func()) {
	sm.connMu.Lock()
	defer sm.connMu.Unlock()

	key := connKey{sessionID, userID}
	if n := sm.connections[key] - 1; n > 0 {
		sm.connections[key] = n
		return
	}
	delete(sm.connections, key)
	leave()
}

// Connections returns the number of open connections of userID in sessionID.
func (sm *StreamManager) Connections(sessionID, userID string) int {
	sm.connMu.Lock()
	defer sm.connMu.Unlock()
	return sm.connections[connKey{sessionID, userID}]
}

// Publish encodes the event and broadcasts it to the session's subscribers.
func (sm *StreamManager) Publish(event domain.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		sm.logger.Error("StreamManager: failed to encode event", "session_id", event.SessionID, "err", err)
		return
	}
	sm.Broadcast(event.SessionID, Message{Event: event, Data: data})
}

// Broadcast delivers msg without blocking: a full subscriber buffer drops the message.
func (sm *StreamManager) Broadcast(sessionID string, msg Message) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	for _, ch := range sm.subscribers[sessionID] {
		select {
		case ch <- msg:
		default:
			// Drop message if channel is full (slow client)
			sm.logger.Warn("StreamManager: client buffer full, dropping message", "session_id", sessionID, "type", msg.Event.Type)
		}
	}
}
