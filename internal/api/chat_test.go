package api

import (
	"net/http"
	"testing"

	"github.com/mdcat/companion/internal/domain"
)

func createChat(t *testing.T, ts *testServer, userID, name string) domain.Chat {
	t.Helper()
	res := ts.call(t, userID, http.MethodPost, "/chat/create", map[string]string{"userId": userID, "chatName": name})
	if res.status != http.StatusCreated || !res.env.Success {
		t.Fatalf("Expected 201, got %d %s", res.status, res.env.Message)
	}
	var chat domain.Chat
	decodeData(t, res, &chat)
	return chat
}

func TestCreateChatSeedsGreeting(t *testing.T) {
	ts := newTestServer(t)
	chat := createChat(t, ts, "u1", "")

	if chat.ChatName != "New Chat" {
		t.Errorf("Expected default name, got %q", chat.ChatName)
	}
	if len(chat.Messages) != 1 || chat.Messages[0].Content != domain.GreetingMessage {
		t.Errorf("Expected greeting message, got %+v", chat.Messages)
	}
}

func TestCreateChatForAnotherUserIsForbidden(t *testing.T) {
	ts := newTestServer(t)
	res := ts.call(t, "u1", http.MethodPost, "/chat/create", map[string]string{"userId": "u2"})
	if res.status != http.StatusForbidden {
		t.Fatalf("Expected 403, got %d", res.status)
	}
}

func TestSaveMessageAndHistory(t *testing.T) {
	ts := newTestServer(t)
	chat := createChat(t, ts, "u1", "Physics")

	res := ts.call(t, "u1", http.MethodPost, "/chat/message", map[string]string{
		"chatId": chat.ID, "sender": "user", "content": "What is inertia?",
	})
	if res.status != http.StatusOK {
		t.Fatalf("Expected 200, got %d %s", res.status, res.env.Message)
	}
	var msg domain.Message
	decodeData(t, res, &msg)
	if msg.ID == "" || msg.Sender != domain.SenderUser || msg.Content != "What is inertia?" {
		t.Fatalf("Unexpected saved message %+v", msg)
	}

	res = ts.call(t, "u1", http.MethodGet, "/chat/"+chat.ID+"/messages", nil)
	var history domain.ChatHistory
	decodeData(t, res, &history)
	if history.ChatName != "Physics" || len(history.Messages) != 2 || history.Messages[1].ID != msg.ID {
		t.Fatalf("Unexpected history %+v", history)
	}

	res = ts.call(t, "u1", http.MethodGet, "/chat/"+chat.ID+"/messages?limit=1&skip=1", nil)
	decodeData(t, res, &history)
	if len(history.Messages) != 1 || history.Messages[0].ID != msg.ID {
		t.Fatalf("Unexpected page %+v", history.Messages)
	}
}

func TestSaveMessageValidation(t *testing.T) {
	ts := newTestServer(t)
	chat := createChat(t, ts, "u1", "")

	cases := []struct {
		name string
		body map[string]string
		want int
	}{
		{"bad sender", map[string]string{"chatId": chat.ID, "sender": "admin", "content": "x"}, http.StatusBadRequest},
		{"blank content", map[string]string{"chatId": chat.ID, "sender": "user", "content": "  "}, http.StatusBadRequest},
		{"unknown chat", map[string]string{"chatId": "nope", "sender": "user", "content": "x"}, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := ts.call(t, "u1", http.MethodPost, "/chat/message", tc.body)
			if res.status != tc.want || res.env.Success {
				t.Errorf("Expected %d, got %d", tc.want, res.status)
			}
		})
	}

	res := ts.call(t, "u1", http.MethodGet, "/chat/"+chat.ID+"/messages?limit=-3", nil)
	if res.status != http.StatusBadRequest {
		t.Errorf("Expected 400 for negative limit, got %d", res.status)
	}
}

func TestForeignChatIsForbidden(t *testing.T) {
	ts := newTestServer(t)
	chat := createChat(t, ts, "u1", "")

	res := ts.call(t, "u2", http.MethodGet, "/chat/"+chat.ID+"/messages", nil)
	if res.status != http.StatusForbidden {
		t.Fatalf("Expected 403, got %d", res.status)
	}
	res = ts.call(t, "u2", http.MethodPost, "/chat/message", map[string]string{
		"chatId": chat.ID, "sender": "user", "content": "hi",
	})
	if res.status != http.StatusForbidden {
		t.Fatalf("Expected 403 on foreign message, got %d", res.status)
	}
}

func TestRenameListAndDeleteChats(t *testing.T) {
	ts := newTestServer(t)
	first := createChat(t, ts, "u1", "First")
	second := createChat(t, ts, "u1", "Second")

	res := ts.call(t, "u1", http.MethodPatch, "/chat/"+first.ID+"/rename", map[string]string{"chatName": "Renamed"})
	if res.status != http.StatusOK {
		t.Fatalf("Expected 200 on rename, got %d", res.status)
	}

	res = ts.call(t, "u1", http.MethodGet, "/chat/user/u1", nil)
	var chats []domain.Chat
	decodeData(t, res, &chats)
	if len(chats) != 2 || chats[0].ID != second.ID || chats[1].ChatName != "Renamed" {
		t.Fatalf("Unexpected chat list %+v", chats)
	}

	res = ts.call(t, "u1", http.MethodDelete, "/chat/"+first.ID, nil)
	if res.status != http.StatusOK {
		t.Fatalf("Expected 200 on delete, got %d", res.status)
	}
	if closed := ts.sessions.closedChats(); len(closed) != 1 || closed[0] != first.ID {
		t.Errorf("Expected live session of %s to be closed, got %v", first.ID, closed)
	}

	res = ts.call(t, "u1", http.MethodDelete, "/chat/deleteAll/u1", nil)
	if res.status != http.StatusOK || res.env.Message != "1 chats deleted successfully." {
		t.Fatalf("Unexpected deleteAll result %d %q", res.status, res.env.Message)
	}

	res = ts.call(t, "u1", http.MethodDelete, "/chat/deleteAll/u1", nil)
	if res.status != http.StatusNotFound {
		t.Fatalf("Expected 404 when nothing is left, got %d", res.status)
	}
}
