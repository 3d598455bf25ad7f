// Package api provides HTTP handlers for the companion REST API.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/mdcat/companion/internal/assistant"
	"github.com/mdcat/companion/internal/domain"
	"github.com/mdcat/companion/internal/identity"
	"github.com/mdcat/companion/internal/store"
)

const maxBodySize = 1 << 20

// ChatCloser terminates the live connection of a chat.
type ChatCloser interface {
	CloseChat(chatID string)
}

// Handler provides common handler utilities.
type Handler struct {
	repo         store.Repository
	sessions     ChatCloser
	feedback     assistant.FeedbackWriter
	historyLimit int
}

// NewHandler creates a new Handler with common dependencies. sessions and
// feedback may be nil.
func NewHandler(repo store.Repository, sessions ChatCloser, feedback assistant.FeedbackWriter, historyLimit int) *Handler {
	if historyLimit <= 0 {
		historyLimit = 50
	}
	return &Handler{
		repo:         repo,
		sessions:     sessions,
		feedback:     feedback,
		historyLimit: historyLimit,
	}
}

// envelope is the body shape of every API response.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"success":false,"message":"failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Success writes a successful envelope.
func Success(w http.ResponseWriter, status int, message string, data any) {
	JSON(w, status, envelope{Success: true, Message: message, Data: data})
}

// Error writes a failed envelope.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, envelope{Success: false, Message: message})
}

// decode reads a JSON body, answering 400/413 itself on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// requireSelf checks that userID names the authenticated learner.
func requireSelf(w http.ResponseWriter, r *http.Request, userID string) bool {
	if userID == "" || userID != identity.UserIDFromContext(r.Context()) {
		Error(w, http.StatusForbidden, "forbidden")
		return false
	}
	return true
}

// ownedChat loads a chat and checks it belongs to the caller.
func (h *Handler) ownedChat(w http.ResponseWriter, r *http.Request, chatID string) (*domain.Chat, bool) {
	chat, err := h.repo.GetChat(r.Context(), chatID)
	if errors.Is(err, domain.ErrNotFound) {
		Error(w, http.StatusNotFound, "Chat not found")
		return nil, false
	}
	if err != nil {
		slog.Error("Failed to load chat", "error", err, "chat_id", chatID)
		Error(w, http.StatusInternalServerError, "Error retrieving chat")
		return nil, false
	}
	if !requireSelf(w, r, chat.UserID) {
		return nil, false
	}
	return chat, true
}

// ownedQuiz loads a quiz and checks it belongs to the caller.
func (h *Handler) ownedQuiz(w http.ResponseWriter, r *http.Request, quizID string) (*domain.Quiz, bool) {
	quiz, err := h.repo.GetQuiz(r.Context(), quizID)
	if errors.Is(err, domain.ErrNotFound) {
		Error(w, http.StatusNotFound, "Quiz not found")
		return nil, false
	}
	if err != nil {
		slog.Error("Failed to load quiz", "error", err, "quiz_id", quizID)
		Error(w, http.StatusInternalServerError, "Error retrieving quiz")
		return nil, false
	}
	if !requireSelf(w, r, quiz.UserID) {
		return nil, false
	}
	return quiz, true
}
