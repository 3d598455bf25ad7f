package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mdcat/companion/internal/domain"
)

// AdaptiveClient talks to the adaptive question service. Its responses are
// bare JSON, not wrapped in an Envelope. Every failure is wrapped with
// domain.ErrFetch.
type AdaptiveClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewAdaptiveClient creates a client rooted at baseURL, e.g. http://host/rl.
func NewAdaptiveClient(baseURL string, timeout time.Duration, logger *slog.Logger) *AdaptiveClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdaptiveClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type nextRequest struct {
	UserID         string `json:"user_id"`
	CurrentSubject string `json:"current_subject,omitempty"`
}

type updateRequest struct {
	UserID  string `json:"user_id"`
	Correct bool   `json:"correct"`
}

// Next asks for the next question for userID, optionally within subject.
func (c *AdaptiveClient) Next(ctx context.Context, userID, subject string) (domain.Question, error) {
	var q domain.Question
	if err := c.post(ctx, "/next", nextRequest{UserID: userID, CurrentSubject: subject}, &q); err != nil {
		return domain.Question{}, fmt.Errorf("%w: next question: %w", domain.ErrFetch, err)
	}
	if q.ID == "" || len(q.Options) != domain.OptionCount || q.CorrectOption < 0 || q.CorrectOption >= len(q.Options) {
		return domain.Question{}, fmt.Errorf("%w: %w: incomplete question %q", domain.ErrFetch, domain.ErrMalformedPayload, q.ID)
	}
	return q, nil
}

// ReportOutcome tells the service whether the learner got a question right.
func (c *AdaptiveClient) ReportOutcome(ctx context.Context, userID string, correct bool) error {
	if err := c.post(ctx, "/update", updateRequest{UserID: userID, Correct: correct}, nil); err != nil {
		return fmt.Errorf("%w: report outcome: %w", domain.ErrFetch, err)
	}
	return nil
}

func (c *AdaptiveClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(RequestIDHeader, uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Debug("Adaptive service call failed", "path", path, "status", resp.StatusCode)
		return &StatusError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	return nil
}
