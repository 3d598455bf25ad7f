//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mdcat/companion/internal/domain"
	"github.com/mdcat/companion/internal/identity"
	"github.com/mdcat/companion/internal/store"
)

var testSecret = []byte("test-secret")

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestErrorEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	Error(w, http.StatusNotFound, "Chat not found")

	var got map[string]any
	if err := json.NewDecoder(w.Result().Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got["success"] != false || got["message"] != "Chat not found" {
		t.Errorf("Unexpected envelope %v", got)
	}
	if _, ok := got["data"]; ok {
		t.Errorf("Expected no data field, got %v", got["data"])
	}
}

type fakeFeedback struct {
	mu    sync.Mutex
	calls int
	text  string
	err   error
}

func (f *fakeFeedback) Feedback(_ context.Context, _ *domain.Quiz) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.text, f.err
}

func (f *fakeFeedback) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeCloser struct {
	mu     sync.Mutex
	closed []string
}

func (f *fakeCloser) CloseChat(chatID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, chatID)
}

func (f *fakeCloser) closedChats() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.closed...)
}

type testServer struct {
	srv      *httptest.Server
	repo     *store.SQLiteStore
	feedback *fakeFeedback
	sessions *fakeCloser
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	ts := &testServer{repo: repo, feedback: &fakeFeedback{text: "Revise genetics."}, sessions: &fakeCloser{}}
	base := NewHandler(repo, ts.sessions, ts.feedback, 50)

	r := chi.NewRouter()
	NewHealthHandler(repo, 0).RegisterHealth(r)
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(testSecret, repo))
		NewAccountHandler(base).RegisterRoutes(r)
		NewChatHandler(base).RegisterRoutes(r)
		NewQuizHandler(base, 0).RegisterRoutes(r)
	})

	ts.srv = httptest.NewServer(r)
	t.Cleanup(ts.srv.Close)
	return ts
}

type result struct {
	status int
	env    struct {
		Success bool            `json:"success"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
}

func (ts *testServer) call(t *testing.T, userID, method, path string, body any) result {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, reader)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if userID != "" {
		token, err := identity.IssueToken(testSecret, userID, time.Hour)
		if err != nil {
			t.Fatalf("IssueToken: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var res result
	res.status = resp.StatusCode
	if err := json.NewDecoder(resp.Body).Decode(&res.env); err != nil {
		t.Fatalf("decode %s %s: %v", method, path, err)
	}
	return res
}

func decodeData(t *testing.T, res result, v any) {
	t.Helper()
	if err := json.Unmarshal(res.env.Data, v); err != nil {
		t.Fatalf("decode data: %v (%s)", err, res.env.Data)
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
}

func TestRequiresAuthentication(t *testing.T) {
	ts := newTestServer(t)
	res := ts.call(t, "", http.MethodGet, "/chat/user/u1", nil)
	if res.status != http.StatusUnauthorized || res.env.Success {
		t.Fatalf("Expected 401 envelope, got %d %+v", res.status, res.env)
	}
}

func TestGetMeAndConfig(t *testing.T) {
	ts := newTestServer(t)

	res := ts.call(t, "u1", http.MethodGet, "/me", nil)
	if res.status != http.StatusOK {
		t.Fatalf("Expected 200, got %d %s", res.status, res.env.Message)
	}
	var user domain.User
	decodeData(t, res, &user)
	if user.UserID != "u1" {
		t.Errorf("Expected user u1, got %+v", user)
	}

	res = ts.call(t, "u1", http.MethodGet, "/config", nil)
	var cfg map[string]any
	decodeData(t, res, &cfg)
	if cfg["feedback_enabled"] != true {
		t.Errorf("Expected feedback enabled, got %v", cfg)
	}
}
