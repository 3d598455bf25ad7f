package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mdcat/companion/internal/domain"
	"github.com/mdcat/companion/internal/identity"
)

const maxHistoryLimit = 500

// ChatHandler handles chat endpoints.
type ChatHandler struct {
	*Handler
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(base *Handler) *ChatHandler {
	return &ChatHandler{Handler: base}
}

// RegisterRoutes registers chat routes.
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Route("/chat", func(r chi.Router) {
		r.Post("/create", h.CreateChat)
		r.Post("/message", h.SaveMessage)
		r.Get("/user/{userId}", h.ListChats)
		r.Delete("/deleteAll/{userId}", h.DeleteAllChats)
		r.Get("/{chatId}/messages", h.GetMessages)
		r.Patch("/{chatId}/rename", h.RenameChat)
		r.Delete("/{chatId}", h.DeleteChat)
	})
}

type createChatRequest struct {
	UserID   string `json:"userId"`
	ChatName string `json:"chatName"`
}

// CreateChat starts a chat seeded with the greeting message.
func (h *ChatHandler) CreateChat(w http.ResponseWriter, r *http.Request) {
	var req createChatRequest
	if !decode(w, r, &req) {
		return
	}
	if req.UserID == "" {
		req.UserID = identity.UserIDFromContext(r.Context())
	}
	if !requireSelf(w, r, req.UserID) {
		return
	}

	chat, err := h.repo.CreateChat(r.Context(), req.UserID, strings.TrimSpace(req.ChatName))
	if err != nil {
		slog.Error("Failed to create chat", "error", err, "user_id", req.UserID)
		Error(w, http.StatusInternalServerError, "Error creating new chat")
		return
	}

	slog.Info("Chat created", "user_id", req.UserID, "chat_id", chat.ID)
	Success(w, http.StatusCreated, "New chat created successfully", chat)
}

// ListChats returns the caller's chats, newest first.
func (h *ChatHandler) ListChats(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	if !requireSelf(w, r, userID) {
		return
	}

	chats, err := h.repo.ListChats(r.Context(), userID)
	if err != nil {
		slog.Error("Failed to list chats", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "Error retrieving chats")
		return
	}
	Success(w, http.StatusOK, "", chats)
}

type saveMessageRequest struct {
	ChatID  string        `json:"chatId"`
	Sender  domain.Sender `json:"sender"`
	Content string        `json:"content"`
}

// SaveMessage appends one message to a chat and returns the stored copy.
func (h *ChatHandler) SaveMessage(w http.ResponseWriter, r *http.Request) {
	var req saveMessageRequest
	if !decode(w, r, &req) {
		return
	}
	if !req.Sender.Valid() {
		Error(w, http.StatusBadRequest, "sender must be user or bot")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		Error(w, http.StatusBadRequest, "content is required")
		return
	}
	if _, ok := h.ownedChat(w, r, req.ChatID); !ok {
		return
	}

	msg, err := h.repo.SaveMessage(r.Context(), req.ChatID, req.Sender, req.Content)
	if errors.Is(err, domain.ErrNotFound) {
		Error(w, http.StatusNotFound, "Chat not found")
		return
	}
	if err != nil {
		slog.Error("Failed to save message", "error", err, "chat_id", req.ChatID)
		Error(w, http.StatusInternalServerError, "Error saving message")
		return
	}
	Success(w, http.StatusOK, "Message saved successfully", msg)
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", key)
	}
	return n, nil
}

// GetMessages returns a page of a chat's messages with its name.
func (h *ChatHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatId")
	limit, err := queryInt(r, "limit", h.historyLimit)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	skip, err := queryInt(r, "skip", 0)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	limit = min(limit, maxHistoryLimit)

	if _, ok := h.ownedChat(w, r, chatID); !ok {
		return
	}

	history, err := h.repo.GetChatMessages(r.Context(), chatID, limit, skip)
	if err != nil {
		slog.Error("Failed to load messages", "error", err, "chat_id", chatID)
		Error(w, http.StatusInternalServerError, "Error retrieving chat messages")
		return
	}
	Success(w, http.StatusOK, "", history)
}

type renameChatRequest struct {
	ChatName string `json:"chatName"`
}

// RenameChat changes a chat's display name.
func (h *ChatHandler) RenameChat(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatId")
	var req renameChatRequest
	if !decode(w, r, &req) {
		return
	}
	name := strings.TrimSpace(req.ChatName)
	if name == "" {
		Error(w, http.StatusBadRequest, "chatName is required")
		return
	}
	if _, ok := h.ownedChat(w, r, chatID); !ok {
		return
	}

	if err := h.repo.RenameChat(r.Context(), chatID, name); err != nil {
		slog.Error("Failed to rename chat", "error", err, "chat_id", chatID)
		Error(w, http.StatusInternalServerError, "Error renaming chat")
		return
	}
	Success(w, http.StatusOK, "Chat renamed successfully", map[string]string{
		"chatId":   chatID,
		"chatName": name,
	})
}

// DeleteChat removes a chat and closes its live connection.
func (h *ChatHandler) DeleteChat(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatId")
	if _, ok := h.ownedChat(w, r, chatID); !ok {
		return
	}

	if err := h.repo.DeleteChat(r.Context(), chatID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			Error(w, http.StatusNotFound, "Chat not found")
			return
		}
		slog.Error("Failed to delete chat", "error", err, "chat_id", chatID)
		Error(w, http.StatusInternalServerError, "Error deleting chat")
		return
	}
	if h.sessions != nil {
		h.sessions.CloseChat(chatID)
	}

	slog.Info("Chat deleted", "chat_id", chatID)
	Success(w, http.StatusOK, "Chat deleted successfully", nil)
}

// DeleteAllChats removes every chat of the caller.
func (h *ChatHandler) DeleteAllChats(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	if !requireSelf(w, r, userID) {
		return
	}

	chats, err := h.repo.ListChats(r.Context(), userID)
	if err != nil {
		slog.Error("Failed to list chats", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "Error deleting chats")
		return
	}

	deleted, err := h.repo.DeleteUserChats(r.Context(), userID)
	if err != nil {
		slog.Error("Failed to delete chats", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "Error deleting chats")
		return
	}
	if deleted == 0 {
		Error(w, http.StatusNotFound, "No chats found to delete for this user.")
		return
	}
	if h.sessions != nil {
		for _, c := range chats {
			h.sessions.CloseChat(c.ID)
		}
	}

	slog.Info("Chats deleted", "user_id", userID, "count", deleted)
	Success(w, http.StatusOK, fmt.Sprintf("%d chats deleted successfully.", deleted), map[string]int64{"deletedCount": deleted})
}
