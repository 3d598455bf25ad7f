package identity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mdcat/companion/internal/domain"
)

type recordingUsers struct {
	seen []string
	err  error
}

func (r *recordingUsers) EnsureUser(_ context.Context, userID string) error {
	r.seen = append(r.seen, userID)
	return r.err
}

func TestIssueAndVerifyToken(t *testing.T) {
	secret := []byte("s3cret")
	tok, err := IssueToken(secret, "learner_1", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	got, err := VerifyToken(secret, tok)
	if err != nil {
		t.Fatalf("VerifyToken failed: %v", err)
	}
	if got != "learner_1" {
		t.Fatalf("expected learner_1, got %q", got)
	}

	if _, err := VerifyToken([]byte("other"), tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong secret, got %v", err)
	}
	if _, err := VerifyToken(secret, "learner_1"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for missing signature, got %v", err)
	}
	if _, err := VerifyToken(secret, tok[:len(tok)-4]+"AAAA"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for tampered signature, got %v", err)
	}
}

func TestIssueTokenClaims(t *testing.T) {
	secret := []byte("s3cret")
	now := time.Now()
	tok, err := issueAt(secret, "learner_1", now, 0)
	if err != nil {
		t.Fatalf("issueAt failed: %v", err)
	}

	var claims jwt.RegisteredClaims
	if _, err := jwt.ParseWithClaims(tok, &claims, func(*jwt.Token) (any, error) { return secret, nil }); err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if claims.Subject != "learner_1" {
		t.Fatalf("expected sub learner_1, got %q", claims.Subject)
	}
	if got := claims.ExpiresAt.Sub(claims.IssuedAt.Time); got != DefaultTokenTTL {
		t.Fatalf("expected default ttl %v, got %v", DefaultTokenTTL, got)
	}
}

func TestVerifyTokenRejectsExpired(t *testing.T) {
	secret := []byte("s3cret")
	tok, err := issueAt(secret, "learner_1", time.Now().Add(-8*24*time.Hour), DefaultTokenTTL)
	if err != nil {
		t.Fatalf("issueAt failed: %v", err)
	}
	if _, err := VerifyToken(secret, tok); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestVerifyTokenRejectsOtherAlgorithms(t *testing.T) {
	secret := []byte("s3cret")
	claims := jwt.RegisteredClaims{Subject: "learner_1", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if _, err := VerifyToken(secret, tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for HS512, got %v", err)
	}

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "learner_1"}).SignedString(secret)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if _, err := VerifyToken(secret, noExpiry); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken without exp, got %v", err)
	}
}

func TestIssueTokenRejectsBadUserID(t *testing.T) {
	if _, err := IssueToken([]byte("x"), "no spaces allowed", time.Hour); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestMiddleware(t *testing.T) {
	secret := []byte("s3cret")
	users := &recordingUsers{}
	var seenID string
	h := Middleware(secret, users)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chat/user/u1", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	tok, _ := IssueToken(secret, "u1", time.Hour)
	req := httptest.NewRequest(http.MethodGet, "/chat/user/u1", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if seenID != "u1" {
		t.Fatalf("expected user id in context, got %q", seenID)
	}
	if len(users.seen) != 1 || users.seen[0] != "u1" {
		t.Fatalf("expected user to be ensured, got %v", users.seen)
	}

	req = httptest.NewRequest(http.MethodGet, "/ws/chat-1?token="+tok, nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected query token to be accepted, got %d", rec.Code)
	}

	expired, _ := issueAt(secret, "u1", time.Now().Add(-2*time.Hour), time.Hour)
	req = httptest.NewRequest(http.MethodGet, "/chat/user/u1", nil)
	req.Header.Set("Authorization", "Bearer "+expired)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized || !strings.Contains(rec.Body.String(), "Session expired") {
		t.Fatalf("expected session expired 401, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestCredentials(t *testing.T) {
	var nilCreds *Credentials
	if nilCreds.Authenticated() {
		t.Fatal("nil credentials must not be authenticated")
	}
	if NewCredentials("u1", "  ").Authenticated() {
		t.Fatal("blank token must not be authenticated")
	}
	c := NewCredentials("u1", "u1.abc")
	if tok, ok := c.Token(); !ok || tok != "u1.abc" || !c.Authenticated() {
		t.Fatalf("unexpected credentials state: %q %v", tok, ok)
	}
}
