package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"swapmeet/pkg/logger"
)

// Manager is the connection registry: a bidirectional in-memory mapping
// between user ids and live connections. At most one connection is
// addressable per user id; a newer connection from the same user evicts the
// old mapping without closing the old transport. The registry is the only
// concurrently mutated in-memory state in the service.
type Manager struct {
	mu      sync.RWMutex
	clients map[int64]*Client
	users   map[string]int64 // connection id -> user id
	handler EventHandler
}

func NewManager() *Manager {
	return &Manager{
		clients: make(map[int64]*Client),
		users:   make(map[string]int64),
	}
}

// Bind attaches the chat event handler. Must be called before clients connect.
func (m *Manager) Bind(handler EventHandler) {
	m.handler = handler
}

// Register maps the user id to the client, last connection wins. Registering
// the same pair twice is a no-op.
func (m *Manager) Register(userID int64, client *Client) {
	if userID <= 0 {
		return
	}

	m.mu.Lock()
	if prev, ok := m.clients[userID]; ok && prev.ID != client.ID {
		// The previous connection stays open but is no longer addressable.
		delete(m.users, prev.ID)
	}
	client.UserID = userID
	m.clients[userID] = client
	m.users[client.ID] = userID
	m.mu.Unlock()

	logger.Info("client registered: user=%d conn=%s", userID, client.ID)
}

// Unregister drops the client's reverse mapping, and the forward mapping only
// if it still points at this client. A late unregister from a stale handle
// must not clobber a newer registration. The send channel is closed here so
// the client's write pump drains and exits; without that every disconnect
// would strand a goroutine blocked on the channel.
func (m *Manager) Unregister(client *Client) {
	m.mu.Lock()
	userID, ok := m.users[client.ID]
	if ok {
		delete(m.users, client.ID)
		if current, exists := m.clients[userID]; exists && current.ID == client.ID {
			delete(m.clients, userID)
		}
	}
	// Closed under the write lock so no delivery holding the read lock can
	// race it. Also covers handles that never joined or were evicted.
	client.CloseSend()
	m.mu.Unlock()

	if ok {
		logger.Info("client unregistered: user=%d conn=%s", userID, client.ID)
	}
}

// Resolve returns the user's addressable connection, if any.
func (m *Manager) Resolve(userID int64) (*Client, bool) {
	m.mu.RLock()
	client, ok := m.clients[userID]
	m.mu.RUnlock()
	return client, ok
}

// SendToUser delivers raw bytes to the user's connection. A user without a
// connection, or with a full send buffer, is silently skipped: there is no
// queueing or offline store, the persisted rows are the source of truth. The
// read lock is held across the send so the channel cannot be closed under it.
func (m *Manager) SendToUser(userID int64, message []byte) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	client, ok := m.clients[userID]
	if !ok {
		return false
	}

	select {
	case client.Send <- message:
		return true
	default:
		logger.Warn("dropping event for user %d: send buffer full", userID)
		return false
	}
}

// SendEvent marshals an event envelope and delivers it to the user.
func (m *Manager) SendEvent(userID int64, eventType string, data interface{}) bool {
	payload, err := json.Marshal(Event{Type: eventType, Data: data})
	if err != nil {
		logger.Error("failed to marshal %s event for user %d: %v", eventType, userID, err)
		return false
	}
	return m.SendToUser(userID, payload)
}

// HandleClientMessage dispatches one inbound event from a connection.
func (m *Manager) HandleClientMessage(client *Client, message []byte) {
	var event rawEvent
	if err := json.Unmarshal(message, &event); err != nil {
		m.sendError(client, "invalid event format")
		return
	}

	switch event.Type {
	case EventJoin:
		var p JoinPayload
		if err := json.Unmarshal(event.Data, &p); err != nil || p.UserID <= 0 {
			m.sendError(client, "join requires a valid user_id")
			return
		}
		m.Register(p.UserID, client)

	case EventSendMessage:
		var p SendMessagePayload
		if err := json.Unmarshal(event.Data, &p); err != nil {
			m.sendError(client, "invalid send_message payload")
			return
		}
		if err := m.handler.HandleSendMessage(context.Background(), p); err != nil {
			m.sendError(client, err.Error())
		}

	case EventMarkMessagesRead:
		var p MarkReadPayload
		if err := json.Unmarshal(event.Data, &p); err != nil {
			m.sendError(client, "invalid mark_messages_read payload")
			return
		}
		if err := m.handler.HandleMarkRead(context.Background(), p); err != nil {
			m.sendError(client, err.Error())
		}

	default:
		logger.Warn("unknown event type %q from conn %s", event.Type, client.ID)
		m.sendError(client, "unknown event type")
	}
}

func (m *Manager) sendError(client *Client, message string) {
	payload, err := json.Marshal(Event{Type: EventMessageError, Data: ErrorPayload{Error: message}})
	if err != nil {
		return
	}
	select {
	case client.Send <- payload:
	default:
	}
}
