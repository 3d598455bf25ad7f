package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mdcat/companion/internal/identity"
	"github.com/mdcat/companion/internal/store"
)

// AccountHandler serves the caller's identity and server capabilities.
type AccountHandler struct {
	*Handler
}

// NewAccountHandler creates a new account handler.
func NewAccountHandler(base *Handler) *AccountHandler {
	return &AccountHandler{Handler: base}
}

// RegisterRoutes registers account routes.
func (h *AccountHandler) RegisterRoutes(r chi.Router) {
	r.Get("/me", h.GetMe)
	r.Get("/config", h.GetConfig)
}

// GetMe returns the current learner.
func (h *AccountHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.repo.GetUser(r.Context(), userID)
	if err != nil {
		slog.Error("Failed to load user", "error", err, "user_id", userID)
		Error(w, http.StatusUnauthorized, "user not found")
		return
	}
	Success(w, http.StatusOK, "", user)
}

// GetConfig reports which optional features are available.
func (h *AccountHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	Success(w, http.StatusOK, "", map[string]any{
		"feedback_enabled": h.feedback != nil,
		"history_limit":    h.historyLimit,
	})
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	repo    store.Repository
	timeout time.Duration
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(repo store.Repository, timeout time.Duration) *HealthHandler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthHandler{repo: repo, timeout: timeout}
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]interface{}{
		"status": "healthy",
		"checks": checks,
	}
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	JSON(w, statusCode, status)
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}
