package api

import (
	"errors"
	"net/http"
	"testing"

	"github.com/mdcat/companion/internal/domain"
)

func createQuiz(t *testing.T, ts *testServer, userID string) domain.Quiz {
	t.Helper()
	res := ts.call(t, userID, http.MethodPost, "/quiz/create", domain.NewQuiz{
		UserID: userID,
		Questions: []domain.AnswerRecord{
			{QuestionID: "q1", UserAnswer: 1},
			{QuestionID: "q2", UserAnswer: domain.TimeoutAnswer},
		},
		Score: 1,
	})
	if res.status != http.StatusCreated {
		t.Fatalf("Expected 201, got %d %s", res.status, res.env.Message)
	}
	var quiz domain.Quiz
	decodeData(t, res, &quiz)
	return quiz
}

func TestCreateQuizRequiresQuestions(t *testing.T) {
	ts := newTestServer(t)
	res := ts.call(t, "u1", http.MethodPost, "/quiz/create", domain.NewQuiz{UserID: "u1"})
	if res.status != http.StatusBadRequest || res.env.Message != "Please attempt questions first." {
		t.Fatalf("Unexpected response %d %q", res.status, res.env.Message)
	}

	res = ts.call(t, "u1", http.MethodPost, "/quiz/create", domain.NewQuiz{
		UserID:    "u1",
		Questions: []domain.AnswerRecord{{QuestionID: "q1", UserAnswer: 0}},
		Score:     2,
	})
	if res.status != http.StatusBadRequest {
		t.Fatalf("Expected 400 for impossible score, got %d", res.status)
	}
}

func TestQuizLifecycle(t *testing.T) {
	ts := newTestServer(t)
	quiz := createQuiz(t, ts, "u1")
	if quiz.ID == "" || quiz.Feedback != "" || len(quiz.Questions) != 2 {
		t.Fatalf("Unexpected quiz %+v", quiz)
	}

	res := ts.call(t, "u1", http.MethodGet, "/quiz/user/u1", nil)
	var quizzes []domain.Quiz
	decodeData(t, res, &quizzes)
	if len(quizzes) != 1 || quizzes[0].ID != quiz.ID {
		t.Fatalf("Unexpected quiz list %+v", quizzes)
	}

	res = ts.call(t, "u2", http.MethodDelete, "/quiz/"+quiz.ID, nil)
	if res.status != http.StatusForbidden {
		t.Fatalf("Expected 403 for foreign delete, got %d", res.status)
	}

	res = ts.call(t, "u1", http.MethodDelete, "/quiz/"+quiz.ID, nil)
	if res.status != http.StatusOK {
		t.Fatalf("Expected 200, got %d", res.status)
	}
	res = ts.call(t, "u1", http.MethodDelete, "/quiz/"+quiz.ID, nil)
	if res.status != http.StatusNotFound {
		t.Fatalf("Expected 404 after delete, got %d", res.status)
	}
}

func TestFeedbackIsGeneratedOnce(t *testing.T) {
	ts := newTestServer(t)
	quiz := createQuiz(t, ts, "u1")

	for i := 0; i < 2; i++ {
		res := ts.call(t, "u1", http.MethodPost, "/quiz/feedback", map[string]string{"quizId": quiz.ID})
		if res.status != http.StatusOK {
			t.Fatalf("Expected 200, got %d %s", res.status, res.env.Message)
		}
		var out map[string]string
		decodeData(t, res, &out)
		if out["feedback"] != "Revise genetics." {
			t.Fatalf("Unexpected feedback %v", out)
		}
	}
	if n := ts.feedback.callCount(); n != 1 {
		t.Errorf("Expected one generation, got %d", n)
	}
}

func TestFeedbackFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.feedback.mu.Lock()
	ts.feedback.err = errors.New("model down")
	ts.feedback.mu.Unlock()
	quiz := createQuiz(t, ts, "u1")

	res := ts.call(t, "u1", http.MethodPost, "/quiz/feedback", map[string]string{"quizId": quiz.ID})
	if res.status != http.StatusBadGateway {
		t.Fatalf("Expected 502, got %d", res.status)
	}

	stored, err := ts.repo.GetQuiz(t.Context(), quiz.ID)
	if err != nil {
		t.Fatalf("GetQuiz: %v", err)
	}
	if stored.Feedback != "" {
		t.Errorf("Expected no stored feedback, got %q", stored.Feedback)
	}
}
