package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdcat/companion/internal/domain"
	"github.com/mdcat/companion/internal/identity"
	"github.com/mdcat/companion/internal/quiz"
)

func TestTokenCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"token", "--user", "learner_7", "--secret", "shh", "--ttl", "1h"})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetOut(nil) })

	require.NoError(t, rootCmd.Execute())

	userID, err := identity.VerifyToken([]byte("shh"), strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "learner_7", userID)
}

func TestLoadSessionRequiresCredentials(t *testing.T) {
	t.Setenv("USER_ID", "")
	t.Setenv("AUTH_TOKEN", "")

	cmd := &cobra.Command{}
	cmd.Flags().AddFlagSet(rootCmd.PersistentFlags())

	_, err := loadSession(cmd)
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestQuizViewRender(t *testing.T) {
	var out bytes.Buffer
	v := &quizView{out: &out, shownIndex: -1}
	q := &domain.Question{ID: "q1", Prompt: "Unit of force?", Options: []string{"Joule", "Newton", "Watt", "Pascal"}, CorrectOption: 1}

	v.render(quiz.Snapshot{Mode: quiz.ModeActive, Phase: quiz.PhaseDisplayed, QuestionCount: 5, Question: q, TimerSeconds: 60})
	assert.Contains(t, out.String(), "Question 1/5")
	assert.Contains(t, out.String(), "2) Newton")

	out.Reset()
	v.render(quiz.Snapshot{Mode: quiz.ModeActive, Phase: quiz.PhaseDisplayed, QuestionCount: 5, Question: q, TimerSeconds: 50})
	assert.Equal(t, "  50s left\n", out.String())

	out.Reset()
	v.render(quiz.Snapshot{Mode: quiz.ModeActive, Phase: quiz.PhaseAnswered, QuestionCount: 5, Question: q, Selected: 0, TimerSeconds: 48})
	assert.Contains(t, out.String(), "Incorrect, the answer was 2.")

	out.Reset()
	v.render(quiz.Snapshot{Mode: quiz.ModeComplete, QuestionCount: 5, Score: 3})
	v.render(quiz.Snapshot{Mode: quiz.ModeComplete, QuestionCount: 5, Score: 3})
	assert.Equal(t, 1, strings.Count(out.String(), "Quiz complete: 3/5."))
}

func TestDescribeErrors(t *testing.T) {
	assert.Equal(t, "still waiting for the previous answer", describeSendError(domain.ErrAwaitingReply))
	assert.Equal(t, "time is up for this question", describeQuizError(domain.ErrTimeUp))
}
