// Package relay serves the live chat websocket: one connection per chat,
// questions in, processing/answer/error frames out.
package relay

import (
	"context"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/mdcat/companion/internal/domain"
)

// SessionManager tracks the active websocket of each chat. A chat has at most
// one connection; registering a new one closes the old.
type SessionManager struct {
	mu     sync.RWMutex
	active map[string]*websocket.Conn
}

// NewSessionManager creates a new session manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		active: make(map[string]*websocket.Conn),
	}
}

// GetActive returns the active connection for a chat.
func (m *SessionManager) GetActive(chatID string) *websocket.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active[chatID]
}

// Count returns the number of chats with a live connection.
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// Register adds a websocket connection for a chat.
func (m *SessionManager) Register(chatID string, conn *websocket.Conn) {
	m.mu.Lock()
	existing := m.active[chatID]
	m.active[chatID] = conn
	m.mu.Unlock()

	// Close waits for the peer's handshake, so it runs outside the lock.
	if existing != nil && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "session replaced")
	}
	slog.Info("Chat session registered", "chat_id", chatID)
}

// Unregister removes conn if it is still the chat's active connection.
func (m *SessionManager) Unregister(chatID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, exists := m.active[chatID]; exists && current == conn {
		delete(m.active, chatID)
		slog.Info("Chat session unregistered", "chat_id", chatID)
	}
}

// Send writes a frame to the chat's active connection. It returns
// domain.ErrNotConnected when the chat has none.
func (m *SessionManager) Send(ctx context.Context, chatID string, frame domain.ChatFrame) error {
	conn := m.GetActive(chatID)
	if conn == nil {
		return domain.ErrNotConnected
	}
	return wsjson.Write(ctx, conn, frame)
}

// CloseChat terminates the chat's active connection, if any.
func (m *SessionManager) CloseChat(chatID string) {
	m.mu.Lock()
	conn, ok := m.active[chatID]
	delete(m.active, chatID)
	m.mu.Unlock()

	if !ok {
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "chat closed")
	slog.Info("Chat session closed", "chat_id", chatID)
}
