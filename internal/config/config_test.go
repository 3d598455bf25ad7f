package config

import (
	"testing"
	"time"
)

func TestLoadClientDefaults(t *testing.T) {
	cfg, err := LoadClient()
	if err != nil {
		t.Fatalf("LoadClient failed: %v", err)
	}
	if cfg.Retry.InitialDelay != 3*time.Second {
		t.Errorf("expected 3s initial reconnect delay, got %v", cfg.Retry.InitialDelay)
	}
	if cfg.Retry.MaxAttempts != 0 {
		t.Errorf("expected unbounded reconnect attempts, got %d", cfg.Retry.MaxAttempts)
	}
	if cfg.Chat.ContextWindow != 10 {
		t.Errorf("expected context window 10, got %d", cfg.Chat.ContextWindow)
	}
	if cfg.Quiz.QuestionSeconds != 60 {
		t.Errorf("expected 60 seconds per question, got %d", cfg.Quiz.QuestionSeconds)
	}
}

func TestLoadClientReadsNestedPrefixes(t *testing.T) {
	t.Setenv("RECONNECT_INITIAL_DELAY", "500ms")
	t.Setenv("RECONNECT_MAX_ATTEMPTS", "4")
	t.Setenv("QUIZ_SUBJECT", "biology")

	cfg, err := LoadClient()
	if err != nil {
		t.Fatalf("LoadClient failed: %v", err)
	}
	if cfg.Retry.InitialDelay != 500*time.Millisecond {
		t.Errorf("expected 500ms, got %v", cfg.Retry.InitialDelay)
	}
	if cfg.Retry.MaxAttempts != 4 {
		t.Errorf("expected 4 attempts, got %d", cfg.Retry.MaxAttempts)
	}
	if cfg.Quiz.Subject != "biology" {
		t.Errorf("expected subject biology, got %q", cfg.Quiz.Subject)
	}
}

func TestLoadClientRejectsBadRetryPolicy(t *testing.T) {
	t.Setenv("RECONNECT_INITIAL_DELAY", "10s")
	t.Setenv("RECONNECT_MAX_DELAY", "1s")

	if _, err := LoadClient(); err == nil {
		t.Fatal("expected error when max delay is below initial delay")
	}
}

func TestServerSecretRequiredOutsideDevelopment(t *testing.T) {
	t.Setenv("FRONTEND_URL", "https://mdcat.example.com")

	if _, err := LoadServer(); err == nil {
		t.Fatal("expected error without AUTH_SECRET in production")
	}

	t.Setenv("AUTH_SECRET", "s3cret")
	cfg, err := LoadServer()
	if err != nil {
		t.Fatalf("LoadServer failed: %v", err)
	}
	if cfg.IsDevelopment() {
		t.Error("expected production mode")
	}
	if cfg.Secret() != "s3cret" {
		t.Errorf("unexpected secret %q", cfg.Secret())
	}
}
