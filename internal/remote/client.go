// Package remote contains HTTP clients for the companion REST API and the
// adaptive question service.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mdcat/companion/internal/domain"
)

// RequestIDHeader correlates client calls with server logs.
const RequestIDHeader = "X-Request-Id"

// StatusError is returned for a non-2xx response.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("status %d", e.StatusCode)
}

// TokenSource supplies the bearer credential for outgoing calls.
type TokenSource interface {
	Token() (string, bool)
}

// Envelope is the response body shape of the REST API.
type Envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Client talks to the companion REST API. Every failure is wrapped with
// domain.ErrPersist.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a REST client rooted at baseURL.
func NewClient(baseURL string, tokens TokenSource, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokens:     tokens,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type saveMessageRequest struct {
	ChatID  string        `json:"chatId"`
	Sender  domain.Sender `json:"sender"`
	Content string        `json:"content"`
}

// SaveMessage appends a message to a chat and returns the stored copy.
func (c *Client) SaveMessage(ctx context.Context, chatID string, sender domain.Sender, content string) (domain.Message, error) {
	var msg domain.Message
	err := c.do(ctx, http.MethodPost, "/chat/message", saveMessageRequest{ChatID: chatID, Sender: sender, Content: content}, &msg)
	if err != nil {
		return domain.Message{}, fmt.Errorf("%w: save message: %w", domain.ErrPersist, err)
	}
	return msg, nil
}

// History loads the messages of a chat.
func (c *Client) History(ctx context.Context, chatID string) (domain.ChatHistory, error) {
	var h domain.ChatHistory
	if err := c.do(ctx, http.MethodGet, "/chat/"+url.PathEscape(chatID)+"/messages", nil, &h); err != nil {
		return domain.ChatHistory{}, fmt.Errorf("%w: load history: %w", domain.ErrPersist, err)
	}
	return h, nil
}

type createChatRequest struct {
	UserID   string `json:"userId"`
	ChatName string `json:"chatName,omitempty"`
}

// CreateChat starts a new chat for userID.
func (c *Client) CreateChat(ctx context.Context, userID, name string) (domain.Chat, error) {
	var chat domain.Chat
	if err := c.do(ctx, http.MethodPost, "/chat/create", createChatRequest{UserID: userID, ChatName: name}, &chat); err != nil {
		return domain.Chat{}, fmt.Errorf("%w: create chat: %w", domain.ErrPersist, err)
	}
	return chat, nil
}

// ListChats returns the chats of userID, newest first.
func (c *Client) ListChats(ctx context.Context, userID string) ([]domain.Chat, error) {
	var chats []domain.Chat
	if err := c.do(ctx, http.MethodGet, "/chat/user/"+url.PathEscape(userID), nil, &chats); err != nil {
		return nil, fmt.Errorf("%w: list chats: %w", domain.ErrPersist, err)
	}
	return chats, nil
}

// CreateQuiz stores a finished quiz.
func (c *Client) CreateQuiz(ctx context.Context, q domain.NewQuiz) (domain.Quiz, error) {
	var quiz domain.Quiz
	if err := c.do(ctx, http.MethodPost, "/quiz/create", q, &quiz); err != nil {
		return domain.Quiz{}, fmt.Errorf("%w: create quiz: %w", domain.ErrPersist, err)
	}
	return quiz, nil
}

// DeleteQuiz removes a stored quiz.
func (c *Client) DeleteQuiz(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodDelete, "/quiz/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("%w: delete quiz: %w", domain.ErrPersist, err)
	}
	return nil
}

// ListQuizzes returns the quizzes of userID.
func (c *Client) ListQuizzes(ctx context.Context, userID string) ([]domain.Quiz, error) {
	var quizzes []domain.Quiz
	if err := c.do(ctx, http.MethodGet, "/quiz/user/"+url.PathEscape(userID), nil, &quizzes); err != nil {
		return nil, fmt.Errorf("%w: list quizzes: %w", domain.ErrPersist, err)
	}
	return quizzes, nil
}

type feedbackRequest struct {
	QuizID string `json:"quizId"`
}

type feedbackResponse struct {
	Feedback string `json:"feedback"`
}

// Feedback asks the server for written feedback on a stored quiz.
func (c *Client) Feedback(ctx context.Context, quizID string) (string, error) {
	var out feedbackResponse
	if err := c.do(ctx, http.MethodPost, "/quiz/feedback", feedbackRequest{QuizID: quizID}, &out); err != nil {
		return "", fmt.Errorf("%w: quiz feedback: %w", domain.ErrPersist, err)
	}
	return out.Feedback, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, uuid.NewString())
	if c.tokens != nil {
		if token, ok := c.tokens.Token(); ok {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var env Envelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil && resp.StatusCode < 300 {
			return fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || (len(raw) > 0 && !env.Success) {
		c.logger.Debug("REST call failed", "method", method, "path", path, "status", resp.StatusCode, "message", env.Message)
		return &StatusError{StatusCode: resp.StatusCode, Message: env.Message}
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
		}
	}
	return nil
}
