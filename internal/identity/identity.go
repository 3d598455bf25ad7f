// Package identity issues and verifies learner bearer credentials.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mdcat/companion/internal/domain"
)

// TokenQueryParam carries the credential on websocket upgrades, where
// browsers cannot set headers.
const TokenQueryParam = "token"

type contextKey int

const userIDKey contextKey = iota

var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// DefaultTokenTTL is how long an issued credential stays valid.
const DefaultTokenTTL = 7 * 24 * time.Hour

var (
	// ErrInvalidToken is returned for a malformed or forged credential.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired is returned for a well-formed credential past its expiry.
	ErrTokenExpired = errors.New("session expired")
)

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// WithUserID returns a context carrying userID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// ValidUserID reports whether id is an acceptable learner id.
func ValidUserID(id string) bool {
	return userIDPattern.MatchString(id)
}

// IssueToken returns an HS256 JWT for userID that expires after ttl. A
// non-positive ttl uses DefaultTokenTTL.
func IssueToken(secret []byte, userID string, ttl time.Duration) (string, error) {
	return issueAt(secret, userID, time.Now(), ttl)
}

func issueAt(secret []byte, userID string, now time.Time, ttl time.Duration) (string, error) {
	if !ValidUserID(userID) {
		return "", fmt.Errorf("%w: user id %q", domain.ErrValidation, userID)
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// VerifyToken returns the user id a credential was issued for.
func VerifyToken(secret []byte, token string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !ValidUserID(claims.Subject) {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// UserStore records learners seen by the server.
type UserStore interface {
	EnsureUser(ctx context.Context, userID string) error
}

func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
	}
	return r.URL.Query().Get(TokenQueryParam)
}

// Middleware rejects requests without a valid bearer credential and injects
// the learner id into the request context.
func Middleware(secret []byte, users UserStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := VerifyToken(secret, tokenFromRequest(r))
			if err != nil {
				msg := `{"success":false,"message":"Unauthorized access"}`
				if errors.Is(err, ErrTokenExpired) {
					msg = `{"success":false,"message":"Session expired, sign in again"}`
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(msg))
				return
			}

			if users != nil {
				if err := users.EnsureUser(r.Context(), userID); err != nil {
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_, _ = w.Write([]byte(`{"success":false,"message":"failed to initialize user"}`))
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// Credentials is the learner identity of a client process.
type Credentials struct {
	userID string
	token  string
}

// NewCredentials wraps a previously issued token. An empty token yields
// unauthenticated credentials.
func NewCredentials(userID, token string) *Credentials {
	return &Credentials{userID: userID, token: strings.TrimSpace(token)}
}

// Token returns the bearer token, if any.
func (c *Credentials) Token() (string, bool) {
	if c == nil || c.token == "" {
		return "", false
	}
	return c.token, true
}

// Authenticated reports whether a learner is signed in.
func (c *Credentials) Authenticated() bool {
	_, ok := c.Token()
	return ok && c.userID != ""
}

// UserID returns the learner id.
func (c *Credentials) UserID() string {
	if c == nil {
		return ""
	}
	return c.userID
}

// IPFromRequest returns a normalized remote IP for request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
