package domain

import (
	"time"
)

// TimeoutAnswer is the answer recorded when a question expires unanswered.
const TimeoutAnswer = -1

// OptionCount is the number of options every question carries.
const OptionCount = 4

// QuestionSeconds is the default time allowed per question.
const QuestionSeconds = 60

// AllowedQuestionCounts lists the quiz lengths a learner may choose.
var AllowedQuestionCounts = []int{5, 10, 15, 20}

// ValidQuestionCount reports whether n is an allowed quiz length.
func ValidQuestionCount(n int) bool {
	for _, c := range AllowedQuestionCounts {
		if c == n {
			return true
		}
	}
	return false
}

// Question is a multiple-choice question chosen by the adaptive service.
type Question struct {
	ID            string   `json:"_id"`
	Prompt        string   `json:"question"`
	Options       []string `json:"options"`
	CorrectOption int      `json:"correctOption"`
	Difficulty    string   `json:"difficulty,omitempty"`
	Subject       string   `json:"subject,omitempty"`
}

// IsCorrect reports whether index selects the correct option.
func (q *Question) IsCorrect(index int) bool {
	return index == q.CorrectOption
}

// AnswerRecord is one entry of a quiz history.
type AnswerRecord struct {
	QuestionID string `json:"questionId"`
	UserAnswer int    `json:"userAnswer"`
}

// TimedOut reports whether the record is a timeout sentinel.
func (r AnswerRecord) TimedOut() bool {
	return r.UserAnswer == TimeoutAnswer
}

// Quiz is a completed quiz as stored by the REST API.
type Quiz struct {
	ID        string         `json:"_id"`
	UserID    string         `json:"userId"`
	Questions []AnswerRecord `json:"questions"`
	Score     int            `json:"score"`
	Feedback  string         `json:"feedBack"`
	CreatedAt time.Time      `json:"createdAt"`
}

// NewQuiz is the request body for creating a quiz.
type NewQuiz struct {
	UserID    string         `json:"userId"`
	Questions []AnswerRecord `json:"questions"`
	Score     int            `json:"score"`
}
