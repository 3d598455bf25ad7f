// Package config provides application configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// ServerConfig holds configuration for the REST + websocket server.
type ServerConfig struct {
	Port          string        `env:"PORT" envDefault:"8080"`
	FrontendURL   string        `env:"FRONTEND_URL"`
	DBPath        string        `env:"DB_PATH" envDefault:"./data/companion.db"`
	AuthSecret    string        `env:"AUTH_SECRET"`
	AssistantAddr string        `env:"ASSISTANT_ADDR"`
	AnswerTimeout time.Duration `env:"ASSISTANT_ANSWER_TIMEOUT" envDefault:"60s"`
	HistoryLimit  int           `env:"CHAT_HISTORY_LIMIT" envDefault:"50"`
}

// ClientConfig holds configuration for the learner client.
type ClientConfig struct {
	APIURL         string        `env:"API_URL" envDefault:"http://localhost:8080"`
	ChatURL        string        `env:"CHAT_WS_URL" envDefault:"ws://localhost:8080/ws"`
	AdaptiveURL    string        `env:"ADAPTIVE_URL" envDefault:"http://localhost:8000/rl"`
	AuthToken      string        `env:"AUTH_TOKEN"`
	UserID         string        `env:"USER_ID"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"15s"`
	Retry          RetryConfig   `envPrefix:"RECONNECT_"`
	Chat           ChatConfig    `envPrefix:"CHAT_"`
	Quiz           QuizConfig    `envPrefix:"QUIZ_"`
}

// RetryConfig controls reconnection of the live chat channel.
// MaxAttempts of 0 retries forever.
type RetryConfig struct {
	InitialDelay time.Duration `env:"INITIAL_DELAY" envDefault:"3s"`
	MaxDelay     time.Duration `env:"MAX_DELAY" envDefault:"30s"`
	Multiplier   float64       `env:"MULTIPLIER" envDefault:"2"`
	MaxAttempts  int           `env:"MAX_ATTEMPTS" envDefault:"0"`
}

// ChatConfig controls the chat session controller.
type ChatConfig struct {
	ContextWindow int `env:"CONTEXT_WINDOW" envDefault:"10"`
}

// QuizConfig controls the quiz session controller.
type QuizConfig struct {
	QuestionSeconds int    `env:"QUESTION_SECONDS" envDefault:"60"`
	DefaultCount    int    `env:"DEFAULT_COUNT" envDefault:"5"`
	Subject         string `env:"SUBJECT"`
}

// LoadServer reads server configuration from environment variables.
func LoadServer() (*ServerConfig, error) {
	cfg := &ServerConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadClient reads client configuration from environment variables.
func LoadClient() (*ClientConfig, error) {
	cfg := &ClientConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.AuthSecret == "" && !c.IsDevelopment() {
		return fmt.Errorf("AUTH_SECRET is required outside development")
	}
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("CHAT_HISTORY_LIMIT must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *ServerConfig) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// Secret returns the signing secret, falling back to a fixed value in development.
func (c *ServerConfig) Secret() string {
	if c.AuthSecret != "" {
		return c.AuthSecret
	}
	return "dev-secret"
}

// Validate checks that all required configuration fields are set.
func (c *ClientConfig) Validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("API_URL cannot be empty")
	}
	if c.ChatURL == "" {
		return fmt.Errorf("CHAT_WS_URL cannot be empty")
	}
	if c.Retry.InitialDelay <= 0 {
		return fmt.Errorf("RECONNECT_INITIAL_DELAY must be > 0")
	}
	if c.Retry.MaxDelay < c.Retry.InitialDelay {
		return fmt.Errorf("RECONNECT_MAX_DELAY must be >= RECONNECT_INITIAL_DELAY")
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("RECONNECT_MULTIPLIER must be >= 1")
	}
	if c.Retry.MaxAttempts < 0 {
		return fmt.Errorf("RECONNECT_MAX_ATTEMPTS must be >= 0")
	}
	if c.Chat.ContextWindow < 0 {
		return fmt.Errorf("CHAT_CONTEXT_WINDOW must be >= 0")
	}
	if c.Quiz.QuestionSeconds <= 0 || c.Quiz.QuestionSeconds > 60 {
		return fmt.Errorf("QUIZ_QUESTION_SECONDS must be in (0, 60]")
	}
	return nil
}
