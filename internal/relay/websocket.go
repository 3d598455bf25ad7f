package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/mdcat/companion/internal/assistant"
	"github.com/mdcat/companion/internal/domain"
	"github.com/mdcat/companion/internal/identity"
)

// Error frame texts sent to clients.
const (
	msgInvalidRequest = "Invalid request"
	msgEmptyQuestion  = "Question cannot be empty"
	msgUnavailable    = "Assistant is unavailable"
	msgAnswerFailed   = "Failed to generate an answer"
)

// ChatLookup resolves chat ownership.
type ChatLookup interface {
	GetChat(ctx context.Context, chatID string) (*domain.Chat, error)
}

// Options configures a WebSocketHandler.
type Options struct {
	AllowedOrigin string
	IsDev         bool
	AnswerTimeout time.Duration
	// ContextWindow caps the history forwarded to the assistant.
	ContextWindow int
	Logger        *slog.Logger
}

// WebSocketHandler handles the live chat websocket.
type WebSocketHandler struct {
	chats    ChatLookup
	answerer assistant.Answerer
	sm       *SessionManager
	opts     Options
	logger   *slog.Logger
}

// NewWebSocketHandler creates a new websocket handler. A nil answerer makes
// every question fail with an error frame.
func NewWebSocketHandler(chats ChatLookup, answerer assistant.Answerer, sm *SessionManager, opts Options) *WebSocketHandler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.AnswerTimeout <= 0 {
		opts.AnswerTimeout = 60 * time.Second
	}
	if opts.ContextWindow <= 0 {
		opts.ContextWindow = 10
	}
	return &WebSocketHandler{
		chats:    chats,
		answerer: answerer,
		sm:       sm,
		opts:     opts,
		logger:   opts.Logger,
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "message": message})
}

// ServeHTTP implements http.Handler for the websocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatId")
	userID := identity.UserIDFromContext(r.Context())
	h.logger.Info("WebSocket connection request", "user_id", userID, "chat_id", chatID, "ip", identity.IPFromRequest(r))

	chat, err := h.chats.GetChat(r.Context(), chatID)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Chat not found")
		return
	}
	if err != nil {
		h.logger.Error("Failed to load chat", "error", err, "chat_id", chatID)
		writeError(w, http.StatusInternalServerError, "failed to load chat")
		return
	}
	if chat.UserID != userID {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	if !h.checkOrigin(r) {
		writeError(w, http.StatusForbidden, "origin not allowed")
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "chat_id", chatID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "chat_id", chatID)
		}
	}()

	h.sm.Register(chatID, ws)
	defer h.sm.Unregister(chatID, ws)

	h.readLoop(r.Context(), ws, chatID)
	h.logger.Info("Chat session ended", "chat_id", chatID)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.opts.IsDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.opts.AllowedOrigin == "*" {
		return true
	}
	if origin == h.opts.AllowedOrigin {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.opts.AllowedOrigin)
	return false
}

// readLoop handles one question at a time; the next read waits until the
// current answer has been sent.
func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, chatID string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("WebSocket closed by client", "chat_id", chatID)
			} else if ctx.Err() == nil {
				h.logger.Warn("WebSocket read error", "error", err, "chat_id", chatID)
			}
			return
		}

		var req domain.ChatRequest
		if err := json.Unmarshal(data, &req); err != nil {
			h.logger.Warn("Malformed chat request", "error", err, "chat_id", chatID)
			h.reply(ctx, chatID, domain.ChatFrame{Type: domain.FrameError, Message: msgInvalidRequest})
			continue
		}

		question := strings.TrimSpace(req.Question)
		if question == "" {
			h.reply(ctx, chatID, domain.ChatFrame{Type: domain.FrameError, Message: msgEmptyQuestion})
			continue
		}

		h.answer(ctx, chatID, question, req.ChatHistory)
	}
}

func (h *WebSocketHandler) answer(ctx context.Context, chatID, question string, history []domain.Message) {
	if h.answerer == nil {
		h.reply(ctx, chatID, domain.ChatFrame{Type: domain.FrameError, Question: question, Message: msgUnavailable})
		return
	}

	h.reply(ctx, chatID, domain.ChatFrame{Type: domain.FrameProcessing, Question: question})

	if len(history) > h.opts.ContextWindow {
		history = history[len(history)-h.opts.ContextWindow:]
	}

	answerCtx, cancel := context.WithTimeout(ctx, h.opts.AnswerTimeout)
	defer cancel()

	start := time.Now()
	text, err := h.answerer.Answer(answerCtx, chatID, question, history)
	if err != nil {
		h.logger.Error("Failed to answer question", "error", err, "chat_id", chatID)
		h.reply(ctx, chatID, domain.ChatFrame{Type: domain.FrameError, Question: question, Message: msgAnswerFailed})
		return
	}
	h.logger.Debug("Answered question", "chat_id", chatID, "duration", time.Since(start))

	h.reply(ctx, chatID, domain.ChatFrame{Type: domain.FrameAnswer, Question: question, Answer: text})
}

// reply sends to whichever connection is currently active for the chat.
func (h *WebSocketHandler) reply(ctx context.Context, chatID string, frame domain.ChatFrame) {
	if err := h.sm.Send(ctx, chatID, frame); err != nil {
		h.logger.Debug("Failed to send frame", "error", err, "chat_id", chatID, "type", frame.Type)
	}
}
