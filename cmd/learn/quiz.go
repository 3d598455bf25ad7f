package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mdcat/companion/internal/domain"
	"github.com/mdcat/companion/internal/quiz"
	"github.com/mdcat/companion/internal/remote"
)

var quizCmd = &cobra.Command{
	Use:   "quiz",
	Short: "Take a timed adaptive quiz",
	Long: `Take a timed adaptive quiz.

Answer with the option number. Commands:
  n  next question (after answering)
  r  retry after an error, or restart a finished quiz
  f  feedback on a finished quiz
  q  abandon the quiz (asks for confirmation)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSession(cmd)
		if err != nil {
			return err
		}
		count, _ := cmd.Flags().GetInt("count")
		if !cmd.Flags().Changed("count") {
			count = s.cfg.Quiz.DefaultCount
		}
		subject, _ := cmd.Flags().GetString("subject")
		if subject == "" {
			subject = s.cfg.Quiz.Subject
		}
		return runQuiz(cmd, s, count, subject)
	},
}

func init() {
	quizCmd.Flags().IntP("count", "n", 5, "Number of questions (5, 10, 15 or 20)")
	quizCmd.Flags().String("subject", "", "Limit questions to one subject")
}

func runQuiz(cmd *cobra.Command, s *session, count int, subject string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	adaptive := remote.NewAdaptiveClient(s.cfg.AdaptiveURL, s.cfg.RequestTimeout, s.logger)
	c := quiz.NewController(s.creds.UserID(), adaptive, s.api, quiz.Options{
		Subject:         subject,
		QuestionSeconds: s.cfg.Quiz.QuestionSeconds,
		Logger:          s.logger,
	})
	defer c.Close()

	view := &quizView{out: out, shownIndex: -1}
	lines := readLines(ctx, cmd.InOrStdin())

	if err := c.HandleSetupComplete(ctx, count); err != nil && !errors.Is(err, domain.ErrFetch) {
		return err
	}
	view.render(c.Snapshot())

	confirming := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.Changes():
			view.render(c.Snapshot())
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if confirming {
				confirming = false
				err := c.Abandon(ctx, func() bool { return line == "y" || line == "yes" })
				switch {
				case errors.Is(err, domain.ErrAbandonDeclined):
					fmt.Fprintln(out, "Continuing.")
				case err != nil:
					fmt.Fprintf(out, "! %v\n", err)
				default:
					fmt.Fprintln(out, "Quiz abandoned.")
					return nil
				}
				continue
			}
			if done := handleQuizInput(cmd, s, c, view, line, &confirming); done {
				return nil
			}
		}
	}
}

// handleQuizInput applies one input line and reports whether to exit.
func handleQuizInput(cmd *cobra.Command, s *session, c *quiz.Controller, view *quizView, line string, confirming *bool) bool {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	snap := c.Snapshot()

	var err error
	switch line {
	case "":
		return false
	case "q":
		if snap.Mode == quiz.ModeSetup {
			return true
		}
		fmt.Fprint(out, "Abandon this quiz? [y/N] ")
		*confirming = true
		return false
	case "n":
		err = c.Next(ctx)
	case "r":
		if snap.Mode == quiz.ModeComplete {
			view.shownIndex = -1
			err = c.Restart(ctx)
		} else {
			err = c.Retry(ctx)
		}
	case "f":
		if snap.Mode != quiz.ModeComplete || snap.QuizID == "" {
			fmt.Fprintln(out, "! feedback is available once the quiz is saved")
			return false
		}
		fmt.Fprintln(out, "Generating feedback...")
		text, ferr := s.api.Feedback(ctx, snap.QuizID)
		if ferr != nil {
			err = ferr
			break
		}
		fmt.Fprintln(out, text)
	default:
		n, convErr := strconv.Atoi(line)
		if convErr != nil {
			fmt.Fprintln(out, "! enter an option number or a command")
			return false
		}
		err = c.SelectAnswer(n - 1)
	}

	if err != nil {
		fmt.Fprintf(out, "! %s\n", describeQuizError(err))
	}
	view.render(c.Snapshot())
	return false
}

func describeQuizError(err error) string {
	switch {
	case errors.Is(err, domain.ErrTimeUp):
		return "time is up for this question"
	case errors.Is(err, domain.ErrAlreadyAnswered):
		return "already answered, press n for the next question"
	case errors.Is(err, domain.ErrValidation):
		return "no such option"
	case errors.Is(err, domain.ErrInvalidTransition):
		return "not possible right now"
	default:
		return err.Error()
	}
}

// quizView prints what changed since the last render.
type quizView struct {
	out        io.Writer
	shownIndex int
	shownID    string
	lastPhase  quiz.Phase
	lastTimer  int
	lastError  string
	finished   bool
}

func (v *quizView) render(s quiz.Snapshot) {
	if s.Mode == quiz.ModeError && s.Error != v.lastError {
		fmt.Fprintf(v.out, "! %s (r to retry, q to abandon)\n", s.Error)
	}
	v.lastError = s.Error

	if s.Mode == quiz.ModeComplete {
		if !v.finished {
			fmt.Fprintf(v.out, "\nQuiz complete: %d/%d. (f feedback, r restart, q quit)\n", s.Score, s.QuestionCount)
			v.finished = true
		}
		return
	}
	v.finished = false
	if s.Mode != quiz.ModeActive || s.Question == nil {
		return
	}

	if s.QuestionIndex != v.shownIndex || s.Question.ID != v.shownID {
		v.shownIndex, v.shownID = s.QuestionIndex, s.Question.ID
		fmt.Fprintf(v.out, "\nQuestion %d/%d", s.QuestionIndex+1, s.QuestionCount)
		if s.Question.Subject != "" {
			fmt.Fprintf(v.out, " [%s]", s.Question.Subject)
		}
		fmt.Fprintf(v.out, "\n%s\n", s.Question.Prompt)
		for i, opt := range s.Question.Options {
			fmt.Fprintf(v.out, "  %d) %s\n", i+1, opt)
		}
		v.lastPhase = s.Phase
		v.lastTimer = s.TimerSeconds
		return
	}

	if s.Phase == quiz.PhaseDisplayed && s.TimerSeconds != v.lastTimer {
		if s.TimerSeconds%10 == 0 || s.TimerSeconds <= 5 {
			fmt.Fprintf(v.out, "  %ds left\n", s.TimerSeconds)
		}
		v.lastTimer = s.TimerSeconds
	}

	if s.Phase != v.lastPhase {
		switch s.Phase {
		case quiz.PhaseAnswered:
			if s.Question.IsCorrect(s.Selected) {
				fmt.Fprintln(v.out, "Correct! (n for next)")
			} else {
				fmt.Fprintf(v.out, "Incorrect, the answer was %d. (n for next)\n", s.Question.CorrectOption+1)
			}
		case quiz.PhaseTimedOut:
			fmt.Fprintln(v.out, "Time's up!")
		}
		v.lastPhase = s.Phase
	}
}
