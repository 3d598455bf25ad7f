// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/mdcat/companion/internal/domain"
)

// Repository persists learners, chats and quizzes. Lookups of missing
// records return domain.ErrNotFound.
type Repository interface {
	// EnsureUser creates the learner record on first sight.
	EnsureUser(ctx context.Context, userID string) error

	// GetUser retrieves a learner by id.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// CreateChat starts a chat seeded with the greeting message.
	CreateChat(ctx context.Context, userID, chatName string) (*domain.Chat, error)

	// GetChat retrieves chat metadata without messages.
	GetChat(ctx context.Context, chatID string) (*domain.Chat, error)

	// ListChats returns a learner's chats, newest first, without messages.
	ListChats(ctx context.Context, userID string) ([]domain.Chat, error)

	// RenameChat changes a chat's display name.
	RenameChat(ctx context.Context, chatID, chatName string) error

	// DeleteChat removes a chat and its messages.
	DeleteChat(ctx context.Context, chatID string) error

	// DeleteUserChats removes every chat of a learner.
	DeleteUserChats(ctx context.Context, userID string) (int64, error)

	// SaveMessage appends a message to a chat.
	SaveMessage(ctx context.Context, chatID string, sender domain.Sender, content string) (*domain.Message, error)

	// GetChatMessages returns up to limit messages after skipping skip, oldest first.
	GetChatMessages(ctx context.Context, chatID string, limit, skip int) (*domain.ChatHistory, error)

	// CreateQuiz stores a finished quiz.
	CreateQuiz(ctx context.Context, q domain.NewQuiz) (*domain.Quiz, error)

	// GetQuiz retrieves a quiz by id.
	GetQuiz(ctx context.Context, quizID string) (*domain.Quiz, error)

	// ListQuizzes returns a learner's quizzes, newest first.
	ListQuizzes(ctx context.Context, userID string) ([]domain.Quiz, error)

	// SetQuizFeedback stores generated feedback on a quiz.
	SetQuizFeedback(ctx context.Context, quizID, feedback string) error

	// DeleteQuiz removes a quiz.
	DeleteQuiz(ctx context.Context, quizID string) error

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
