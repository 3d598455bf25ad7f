package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mdcat/companion/internal/domain"
	"github.com/mdcat/companion/internal/identity"
)

// feedbackLocks prevents concurrent feedback generation for the same quiz.
var feedbackLocks sync.Map

// QuizHandler handles quiz endpoints.
type QuizHandler struct {
	*Handler
	feedbackTimeout time.Duration
}

// NewQuizHandler creates a new quiz handler.
func NewQuizHandler(base *Handler, feedbackTimeout time.Duration) *QuizHandler {
	if feedbackTimeout <= 0 {
		feedbackTimeout = 60 * time.Second
	}
	return &QuizHandler{Handler: base, feedbackTimeout: feedbackTimeout}
}

// RegisterRoutes registers quiz routes.
func (h *QuizHandler) RegisterRoutes(r chi.Router) {
	r.Route("/quiz", func(r chi.Router) {
		r.Post("/create", h.CreateQuiz)
		r.Post("/feedback", h.Feedback)
		r.Get("/user/{userId}", h.ListQuizzes)
		r.Delete("/{quizId}", h.DeleteQuiz)
	})
}

// CreateQuiz stores a finished quiz.
func (h *QuizHandler) CreateQuiz(w http.ResponseWriter, r *http.Request) {
	var req domain.NewQuiz
	if !decode(w, r, &req) {
		return
	}
	if req.UserID == "" {
		req.UserID = identity.UserIDFromContext(r.Context())
	}
	if !requireSelf(w, r, req.UserID) {
		return
	}
	if len(req.Questions) == 0 {
		Error(w, http.StatusBadRequest, "Please attempt questions first.")
		return
	}
	for _, q := range req.Questions {
		if q.QuestionID == "" || q.UserAnswer < domain.TimeoutAnswer {
			Error(w, http.StatusBadRequest, "No valid questions provided.")
			return
		}
	}
	if req.Score < 0 || req.Score > len(req.Questions) {
		Error(w, http.StatusBadRequest, "score out of range")
		return
	}

	quiz, err := h.repo.CreateQuiz(r.Context(), req)
	if err != nil {
		slog.Error("Failed to create quiz", "error", err, "user_id", req.UserID)
		Error(w, http.StatusInternalServerError, "Error creating quiz")
		return
	}

	slog.Info("Quiz created", "user_id", req.UserID, "quiz_id", quiz.ID, "score", quiz.Score, "questions", len(quiz.Questions))
	Success(w, http.StatusCreated, "Quiz created successfully", quiz)
}

// DeleteQuiz removes a stored quiz.
func (h *QuizHandler) DeleteQuiz(w http.ResponseWriter, r *http.Request) {
	quizID := chi.URLParam(r, "quizId")
	if _, ok := h.ownedQuiz(w, r, quizID); !ok {
		return
	}

	if err := h.repo.DeleteQuiz(r.Context(), quizID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			Error(w, http.StatusNotFound, "Quiz not found")
			return
		}
		slog.Error("Failed to delete quiz", "error", err, "quiz_id", quizID)
		Error(w, http.StatusInternalServerError, "Error deleting quiz")
		return
	}

	slog.Info("Quiz deleted", "quiz_id", quizID)
	Success(w, http.StatusOK, "Quiz deleted successfully", nil)
}

// ListQuizzes returns the caller's quizzes, newest first.
func (h *QuizHandler) ListQuizzes(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	if !requireSelf(w, r, userID) {
		return
	}

	quizzes, err := h.repo.ListQuizzes(r.Context(), userID)
	if err != nil {
		slog.Error("Failed to list quizzes", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "Error fetching quizzes")
		return
	}
	Success(w, http.StatusOK, "", quizzes)
}

type feedbackRequest struct {
	QuizID string `json:"quizId"`
}

// Feedback returns stored feedback for a quiz, generating it on first use.
func (h *QuizHandler) Feedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if !decode(w, r, &req) {
		return
	}
	quiz, ok := h.ownedQuiz(w, r, req.QuizID)
	if !ok {
		return
	}
	if quiz.Feedback != "" {
		Success(w, http.StatusOK, "", map[string]string{"feedback": quiz.Feedback})
		return
	}
	if h.feedback == nil {
		Error(w, http.StatusServiceUnavailable, "feedback is unavailable")
		return
	}

	lock, _ := feedbackLocks.LoadOrStore(quiz.ID, &sync.Mutex{})
	mutex := lock.(*sync.Mutex)
	if !mutex.TryLock() {
		slog.Warn("Feedback generation already in progress", "quiz_id", quiz.ID)
		Error(w, http.StatusConflict, "feedback_in_progress")
		return
	}
	defer func() {
		mutex.Unlock()
		feedbackLocks.Delete(quiz.ID)
	}()

	ctx, cancel := context.WithTimeout(r.Context(), h.feedbackTimeout)
	defer cancel()

	text, err := h.feedback.Feedback(ctx, quiz)
	if err != nil {
		slog.Error("Failed to generate feedback", "error", err, "quiz_id", quiz.ID)
		Error(w, http.StatusBadGateway, "Error generating feedback")
		return
	}

	if err := h.repo.SetQuizFeedback(r.Context(), quiz.ID, text); err != nil {
		slog.Error("Failed to store feedback", "error", err, "quiz_id", quiz.ID)
		Error(w, http.StatusInternalServerError, "Error saving feedback")
		return
	}
	Success(w, http.StatusOK, "", map[string]string{"feedback": text})
}
