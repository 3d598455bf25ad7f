// Package assistant is the gRPC client for the AI tutoring service that
// answers chat questions and writes quiz feedback.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/mdcat/companion/internal/domain"
)

// Full method names on the assistant service. Payloads are
// google.protobuf.Struct in both directions.
const (
	AnswerMethod   = "/mdcat.assistant.v1.Assistant/Answer"
	FeedbackMethod = "/mdcat.assistant.v1.Assistant/Feedback"
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")

	// ErrAssistant is returned when the service reports a failure or an
	// empty reply.
	ErrAssistant = errors.New("assistant error")
)

// Answerer produces replies for chat questions.
type Answerer interface {
	Answer(ctx context.Context, chatID, question string, history []domain.Message) (string, error)
}

// FeedbackWriter writes feedback for a finished quiz.
type FeedbackWriter interface {
	Feedback(ctx context.Context, quiz *domain.Quiz) (string, error)
}

// Config holds configuration for the gRPC client.
type Config struct {
	Address          string
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration

	// DialOptions are appended to the defaults. Tests use it to dial an
	// in-memory listener.
	DialOptions []grpc.DialOption
}

// DefaultConfig returns default configuration for addr.
func DefaultConfig(addr string) Config {
	return Config{
		Address:          addr,
		ConnectTimeout:   5 * time.Second,
		RequestTimeout:   60 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// Client calls the assistant service.
type Client struct {
	conn           *grpc.ClientConn
	requestTimeout time.Duration
	logger         *slog.Logger
}

var (
	_ Answerer       = (*Client)(nil)
	_ FeedbackWriter = (*Client)(nil)
)

// NewClient connects to the assistant service and waits until the
// connection is ready.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, cfg.DialOptions...)

	conn, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to assistant at %s: %w", cfg.Address, err)
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("assistant at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to assistant service", "address", cfg.Address)

	return &Client{conn: conn, requestTimeout: cfg.RequestTimeout, logger: logger}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Close closes the gRPC connection.
func (c *Client) Close() {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

// Answer asks the assistant to reply to question given the recent history.
func (c *Client) Answer(ctx context.Context, chatID, question string, history []domain.Message) (string, error) {
	turns := make([]any, 0, len(history))
	for _, m := range history {
		turns = append(turns, map[string]any{
			"sender":  string(m.Sender),
			"content": m.Content,
		})
	}
	return c.call(ctx, AnswerMethod, "answer", map[string]any{
		"chat_id":      chatID,
		"question":     question,
		"chat_history": turns,
	})
}

// Feedback asks the assistant to review a finished quiz.
func (c *Client) Feedback(ctx context.Context, quiz *domain.Quiz) (string, error) {
	answers := make([]any, 0, len(quiz.Questions))
	for _, q := range quiz.Questions {
		answers = append(answers, map[string]any{
			"question_id": q.QuestionID,
			"user_answer": float64(q.UserAnswer),
		})
	}
	return c.call(ctx, FeedbackMethod, "feedback", map[string]any{
		"quiz_id":   quiz.ID,
		"user_id":   quiz.UserID,
		"score":     float64(quiz.Score),
		"questions": answers,
	})
}

func (c *Client) call(ctx context.Context, method, field string, fields map[string]any) (string, error) {
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return "", fmt.Errorf("build %s request: %w", field, err)
	}

	if c.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, method, req, resp); err != nil {
		c.logger.Error("Assistant call failed", "method", method, "error", err)
		return "", fmt.Errorf("%s request failed: %w", field, err)
	}

	values := resp.GetFields()
	if msg := values["error"].GetStringValue(); msg != "" {
		return "", fmt.Errorf("%w: %s", ErrAssistant, msg)
	}
	text := strings.TrimSpace(values[field].GetStringValue())
	if text == "" {
		return "", fmt.Errorf("%w: empty %s", ErrAssistant, field)
	}
	return text, nil
}
