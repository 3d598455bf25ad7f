package relay

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/mdcat/companion/internal/domain"
)

func TestSessionManager_Register(t *testing.T) {
	sm := NewSessionManager()
	conn := &websocket.Conn{}

	sm.Register("chat-1", conn)

	if active := sm.GetActive("chat-1"); active != conn {
		t.Errorf("Expected connection %v, got %v", conn, active)
	}
	if sm.Count() != 1 {
		t.Errorf("Expected 1 active chat, got %d", sm.Count())
	}
}

func TestSessionManager_Unregister(t *testing.T) {
	sm := NewSessionManager()
	conn := &websocket.Conn{}

	sm.Register("chat-1", conn)
	sm.Unregister("chat-1", conn)

	if active := sm.GetActive("chat-1"); active != nil {
		t.Errorf("Expected nil connection, got %v", active)
	}
}

func TestSessionManager_UnregisterStale(t *testing.T) {
	sm := NewSessionManager()
	conn1 := &websocket.Conn{}
	conn2 := &websocket.Conn{}

	sm.Register("chat-2", conn2)

	// A conn that was never the active one must not evict the current one.
	sm.Unregister("chat-2", conn1)

	if active := sm.GetActive("chat-2"); active != conn2 {
		t.Errorf("Expected connection %v, got %v", conn2, active)
	}
}

func TestSessionManager_SendWithoutConnection(t *testing.T) {
	sm := NewSessionManager()
	err := sm.Send(context.Background(), "missing", domain.ChatFrame{Type: domain.FrameAnswer})
	if !errors.Is(err, domain.ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
}

func TestSessionManager_ConcurrentAccess(t *testing.T) {
	sm := NewSessionManager()
	done := make(chan struct{})

	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			sm.Register("chat-"+strconv.Itoa(i), &websocket.Conn{})
		}
	}()

	for i := 0; i < 1000; i++ {
		sm.GetActive("chat-" + strconv.Itoa(i))
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("register loop did not finish")
	}
}
