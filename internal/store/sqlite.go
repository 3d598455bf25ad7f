package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/mdcat/companion/internal/domain"
)

// DefaultChatName is used when a chat is created without a name.
const DefaultChatName = "New Chat"

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// dsnPragmas are applied by modernc.org/sqlite to every new connection.
const dsnPragmas = "_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?" + dsnPragmas
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chats (
		chat_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		chat_name TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chats_user ON chats(user_id, created_at);

	CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id TEXT NOT NULL UNIQUE,
		chat_id TEXT NOT NULL,
		sender TEXT NOT NULL,
		content TEXT NOT NULL,
		sent_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, seq);

	CREATE TABLE IF NOT EXISTS quizzes (
		quiz_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		questions_json TEXT NOT NULL,
		score INTEGER NOT NULL,
		feedback TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_quizzes_user ON quizzes(user_id, created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func deriveUsername(userID string) string {
	if len(userID) > 8 {
		return "learner-" + userID[len(userID)-8:]
	}
	return "learner-" + userID
}

// EnsureUser creates the learner record on first sight.
func (s *SQLiteStore) EnsureUser(ctx context.Context, userID string) error {
	query := `INSERT INTO users (user_id, username, created_at) VALUES (?, ?, ?)
	ON CONFLICT(user_id) DO NOTHING`
	return retryBusy(ctx, "ensure_user", func() error {
		if _, err := s.db.ExecContext(ctx, query, userID, deriveUsername(userID), time.Now().UnixMilli()); err != nil {
			return fmt.Errorf("ensure user: %w", err)
		}
		return nil
	})
}

// GetUser retrieves a learner by id.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT user_id, username, created_at FROM users WHERE user_id = ?`, userID)

	var user domain.User
	var createdAt int64
	err := row.Scan(&user.UserID, &user.Username, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}
	user.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &user, nil
}

// CreateChat starts a chat seeded with the greeting message.
func (s *SQLiteStore) CreateChat(ctx context.Context, userID, chatName string) (*domain.Chat, error) {
	if chatName == "" {
		chatName = DefaultChatName
	}
	now := time.Now().UTC().Truncate(time.Millisecond)
	chat := &domain.Chat{
		ID:        uuid.NewString(),
		UserID:    userID,
		ChatName:  chatName,
		CreatedAt: now,
		Messages: []domain.Message{{
			ID:        uuid.NewString(),
			Sender:    domain.SenderBot,
			Content:   domain.GreetingMessage,
			Timestamp: now,
		}},
	}

	err := retryBusy(ctx, "create_chat", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin create chat: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chats (chat_id, user_id, chat_name, created_at) VALUES (?, ?, ?, ?)`,
			chat.ID, userID, chatName, now.UnixMilli(),
		); err != nil {
			return fmt.Errorf("insert chat: %w", err)
		}
		greeting := chat.Messages[0]
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (message_id, chat_id, sender, content, sent_at) VALUES (?, ?, ?, ?, ?)`,
			greeting.ID, chat.ID, string(greeting.Sender), greeting.Content, now.UnixMilli(),
		); err != nil {
			return fmt.Errorf("insert greeting: %w", err)
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}
	return chat, nil
}

// GetChat retrieves chat metadata without messages.
func (s *SQLiteStore) GetChat(ctx context.Context, chatID string) (*domain.Chat, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT chat_id, user_id, chat_name, created_at FROM chats WHERE chat_id = ?`, chatID)

	var chat domain.Chat
	var createdAt int64
	err := row.Scan(&chat.ID, &chat.UserID, &chat.ChatName, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan chat row: %w", err)
	}
	chat.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &chat, nil
}

// ListChats returns a learner's chats, newest first, without messages.
func (s *SQLiteStore) ListChats(ctx context.Context, userID string) ([]domain.Chat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, user_id, chat_name, created_at FROM chats
		 WHERE user_id = ? ORDER BY created_at DESC, rowid DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query chats: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close chat rows", "error", closeErr)
		}
	}()

	chats := []domain.Chat{}
	for rows.Next() {
		var chat domain.Chat
		var createdAt int64
		if err := rows.Scan(&chat.ID, &chat.UserID, &chat.ChatName, &createdAt); err != nil {
			return nil, fmt.Errorf("scan chat row: %w", err)
		}
		chat.CreatedAt = time.UnixMilli(createdAt).UTC()
		chats = append(chats, chat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chats: %w", err)
	}
	return chats, nil
}

// RenameChat changes a chat's display name.
func (s *SQLiteStore) RenameChat(ctx context.Context, chatID, chatName string) error {
	return retryBusy(ctx, "rename_chat", func() error {
		result, err := s.db.ExecContext(ctx, `UPDATE chats SET chat_name = ? WHERE chat_id = ?`, chatName, chatID)
		if err != nil {
			return fmt.Errorf("rename chat: %w", err)
		}
		return expectRows(result, "rename chat")
	})
}

// DeleteChat removes a chat and its messages.
func (s *SQLiteStore) DeleteChat(ctx context.Context, chatID string) error {
	return retryBusy(ctx, "delete_chat", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin delete chat: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = ?`, chatID); err != nil {
			return fmt.Errorf("delete chat messages: %w", err)
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE chat_id = ?`, chatID)
		if err != nil {
			return fmt.Errorf("delete chat: %w", err)
		}
		if err := expectRows(result, "delete chat"); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// DeleteUserChats removes every chat of a learner.
func (s *SQLiteStore) DeleteUserChats(ctx context.Context, userID string) (int64, error) {
	var deleted int64
	err := retryBusy(ctx, "delete_user_chats", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin delete user chats: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM messages WHERE chat_id IN (SELECT chat_id FROM chats WHERE user_id = ?)`, userID,
		); err != nil {
			return fmt.Errorf("delete user messages: %w", err)
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE user_id = ?`, userID)
		if err != nil {
			return fmt.Errorf("delete user chats: %w", err)
		}
		if deleted, err = result.RowsAffected(); err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		return tx.Commit()
	})
	return deleted, err
}

// SaveMessage appends a message to a chat.
func (s *SQLiteStore) SaveMessage(ctx context.Context, chatID string, sender domain.Sender, content string) (*domain.Message, error) {
	if _, err := s.GetChat(ctx, chatID); err != nil {
		return nil, err
	}

	msg := &domain.Message{
		ID:        uuid.NewString(),
		Sender:    sender,
		Content:   content,
		Timestamp: time.Now().UTC().Truncate(time.Millisecond),
	}
	err := retryBusy(ctx, "save_message", func() error {
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO messages (message_id, chat_id, sender, content, sent_at) VALUES (?, ?, ?, ?, ?)`,
			msg.ID, chatID, string(sender), content, msg.Timestamp.UnixMilli(),
		); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// GetChatMessages returns up to limit messages after skipping skip, oldest first.
func (s *SQLiteStore) GetChatMessages(ctx context.Context, chatID string, limit, skip int) (*domain.ChatHistory, error) {
	chat, err := s.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, sender, content, sent_at FROM messages
		 WHERE chat_id = ? ORDER BY seq LIMIT ? OFFSET ?`, chatID, limit, skip)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	history := &domain.ChatHistory{ChatName: chat.ChatName, Messages: []domain.Message{}}
	for rows.Next() {
		var m domain.Message
		var sender string
		var sentAt int64
		if err := rows.Scan(&m.ID, &sender, &m.Content, &sentAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		m.Sender = domain.Sender(sender)
		m.Timestamp = time.UnixMilli(sentAt).UTC()
		history.Messages = append(history.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return history, nil
}

// CreateQuiz stores a finished quiz.
func (s *SQLiteStore) CreateQuiz(ctx context.Context, q domain.NewQuiz) (*domain.Quiz, error) {
	questionsJSON, err := json.Marshal(q.Questions)
	if err != nil {
		return nil, fmt.Errorf("marshal quiz questions: %w", err)
	}
	quiz := &domain.Quiz{
		ID:        uuid.NewString(),
		UserID:    q.UserID,
		Questions: q.Questions,
		Score:     q.Score,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	err = retryBusy(ctx, "create_quiz", func() error {
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO quizzes (quiz_id, user_id, questions_json, score, created_at) VALUES (?, ?, ?, ?, ?)`,
			quiz.ID, quiz.UserID, string(questionsJSON), quiz.Score, quiz.CreatedAt.UnixMilli(),
		); err != nil {
			return fmt.Errorf("insert quiz: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return quiz, nil
}

type quizScanner interface {
	Scan(dest ...any) error
}

func scanQuiz(row quizScanner) (*domain.Quiz, error) {
	var quiz domain.Quiz
	var questionsJSON string
	var createdAt int64
	if err := row.Scan(&quiz.ID, &quiz.UserID, &questionsJSON, &quiz.Score, &quiz.Feedback, &createdAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(questionsJSON), &quiz.Questions); err != nil {
		return nil, fmt.Errorf("decode quiz questions: %w", err)
	}
	quiz.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &quiz, nil
}

// GetQuiz retrieves a quiz by id.
func (s *SQLiteStore) GetQuiz(ctx context.Context, quizID string) (*domain.Quiz, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT quiz_id, user_id, questions_json, score, feedback, created_at FROM quizzes WHERE quiz_id = ?`, quizID)
	quiz, err := scanQuiz(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan quiz row: %w", err)
	}
	return quiz, nil
}

// ListQuizzes returns a learner's quizzes, newest first.
func (s *SQLiteStore) ListQuizzes(ctx context.Context, userID string) ([]domain.Quiz, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT quiz_id, user_id, questions_json, score, feedback, created_at FROM quizzes
		 WHERE user_id = ? ORDER BY created_at DESC, rowid DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query quizzes: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close quiz rows", "error", closeErr)
		}
	}()

	quizzes := []domain.Quiz{}
	for rows.Next() {
		quiz, err := scanQuiz(rows)
		if err != nil {
			return nil, fmt.Errorf("scan quiz row: %w", err)
		}
		quizzes = append(quizzes, *quiz)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quizzes: %w", err)
	}
	return quizzes, nil
}

// SetQuizFeedback stores generated feedback on a quiz.
func (s *SQLiteStore) SetQuizFeedback(ctx context.Context, quizID, feedback string) error {
	return retryBusy(ctx, "set_quiz_feedback", func() error {
		result, err := s.db.ExecContext(ctx, `UPDATE quizzes SET feedback = ? WHERE quiz_id = ?`, feedback, quizID)
		if err != nil {
			return fmt.Errorf("update quiz feedback: %w", err)
		}
		return expectRows(result, "update quiz feedback")
	})
}

// DeleteQuiz removes a quiz.
func (s *SQLiteStore) DeleteQuiz(ctx context.Context, quizID string) error {
	return retryBusy(ctx, "delete_quiz", func() error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM quizzes WHERE quiz_id = ?`, quizID)
		if err != nil {
			return fmt.Errorf("delete quiz: %w", err)
		}
		return expectRows(result, "delete quiz")
	})
}

func expectRows(result sql.Result, op string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("Statement affected 0 rows", "op", op)
		return domain.ErrNotFound
	}
	return nil
}
