// Package quiz runs timed adaptive quizzes: questions come one at a time
// from the adaptive service and the finished run is stored through the REST
// API.
package quiz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mdcat/companion/internal/domain"
)

// NoSelection is the Selected value before an option is chosen.
const NoSelection = -1

// QuestionSource is the adaptive question service.
type QuestionSource interface {
	Next(ctx context.Context, userID, subject string) (domain.Question, error)
	ReportOutcome(ctx context.Context, userID string, correct bool) error
}

// QuizStore persists finished quizzes.
type QuizStore interface {
	CreateQuiz(ctx context.Context, q domain.NewQuiz) (domain.Quiz, error)
	DeleteQuiz(ctx context.Context, id string) error
}

// Mode is the top-level state of a quiz session.
type Mode int

const (
	ModeSetup Mode = iota
	ModeActive
	ModeError
	ModeComplete
)

func (m Mode) String() string {
	switch m {
	case ModeSetup:
		return "setup"
	case ModeActive:
		return "active"
	case ModeError:
		return "error"
	case ModeComplete:
		return "complete"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Phase is the step of the question cycle while the session is active.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseLoading
	PhaseDisplayed
	PhaseAnswered
	PhaseTimedOut
	PhaseSaving
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseLoading:
		return "loading"
	case PhaseDisplayed:
		return "displayed"
	case PhaseAnswered:
		return "answered"
	case PhaseTimedOut:
		return "timed-out"
	case PhaseSaving:
		return "saving"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

type retryOp int

const (
	retryNone retryOp = iota
	retryFetch
	retryPersist
)

// Snapshot is a copy of the session state.
type Snapshot struct {
	Mode          Mode
	Phase         Phase
	QuestionIndex int
	QuestionCount int
	Score         int
	TimerSeconds  int
	Question      *domain.Question
	Selected      int
	History       []domain.AnswerRecord
	QuizID        string
	Error         string
}

// Options configures a Controller.
type Options struct {
	// Subject scopes questions to one subject when set.
	Subject         string
	QuestionSeconds int
	// TickInterval is the length of one countdown second.
	TickInterval time.Duration
	NewTicker    TickerFunc
	Logger       *slog.Logger
}

// Controller is the state machine of one learner's quiz session.
type Controller struct {
	userID    string
	subject   string
	source    QuestionSource
	store     QuizStore
	seconds   int
	interval  time.Duration
	newTicker TickerFunc
	logger    *slog.Logger

	mu           sync.Mutex
	mode         Mode
	phase        Phase
	index        int
	count        int
	score        int
	timerSeconds int
	current      *domain.Question
	selected     int
	history      []domain.AnswerRecord
	quizID       string
	lastError    string
	resolved     bool
	timer        *Timer
	op           uint64
	abandonedOp  uint64
	retry        retryOp
	pendingQuiz  domain.NewQuiz
	closed       bool

	changes chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewController creates a controller in setup mode.
func NewController(userID string, source QuestionSource, store QuizStore, opts Options) *Controller {
	if opts.QuestionSeconds <= 0 {
		opts.QuestionSeconds = domain.QuestionSeconds
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	if opts.NewTicker == nil {
		opts.NewTicker = NewRealTicker
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		userID:       userID,
		subject:      opts.Subject,
		source:       source,
		store:        store,
		seconds:      opts.QuestionSeconds,
		interval:     opts.TickInterval,
		newTicker:    opts.NewTicker,
		logger:       opts.Logger.With("user_id", userID),
		count:        domain.AllowedQuestionCounts[0],
		timerSeconds: opts.QuestionSeconds,
		selected:     NoSelection,
		changes:      make(chan struct{}, 1),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Changes signals that the snapshot may have changed. Signals coalesce.
func (c *Controller) Changes() <-chan struct{} {
	return c.changes
}

func (c *Controller) notify() {
	select {
	case c.changes <- struct{}{}:
	default:
	}
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		Mode:          c.mode,
		Phase:         c.phase,
		QuestionIndex: c.index,
		QuestionCount: c.count,
		Score:         c.score,
		TimerSeconds:  c.timerSeconds,
		Selected:      c.selected,
		History:       append([]domain.AnswerRecord(nil), c.history...),
		QuizID:        c.quizID,
		Error:         c.lastError,
	}
	if c.current != nil {
		q := *c.current
		q.Options = append([]string(nil), c.current.Options...)
		s.Question = &q
	}
	return s
}

// HandleSetupComplete starts a run of count questions and loads the first.
func (c *Controller) HandleSetupComplete(ctx context.Context, count int) error {
	if !domain.ValidQuestionCount(count) {
		return fmt.Errorf("%w: question count must be one of %v", domain.ErrValidation, domain.AllowedQuestionCounts)
	}
	c.mu.Lock()
	if c.closed || c.mode != ModeSetup {
		c.mu.Unlock()
		return domain.ErrInvalidTransition
	}
	c.count = count
	c.mode = ModeActive
	c.phase = PhaseLoading
	op := c.beginLocked()
	c.mu.Unlock()
	c.notify()

	c.logger.Info("Quiz started", "question_count", count, "subject", c.subject)
	return c.fetch(ctx, op)
}

// SelectAnswer records index as the answer to the displayed question.
func (c *Controller) SelectAnswer(index int) error {
	c.mu.Lock()
	if c.mode != ModeActive || c.current == nil {
		c.mu.Unlock()
		return domain.ErrInvalidTransition
	}
	switch c.phase {
	case PhaseTimedOut:
		c.mu.Unlock()
		return domain.ErrTimeUp
	case PhaseAnswered:
		c.mu.Unlock()
		return domain.ErrAlreadyAnswered
	case PhaseDisplayed:
	default:
		c.mu.Unlock()
		return domain.ErrInvalidTransition
	}
	if c.resolved {
		c.mu.Unlock()
		return domain.ErrAlreadyAnswered
	}
	if index < 0 || index >= len(c.current.Options) {
		c.mu.Unlock()
		return fmt.Errorf("%w: option %d out of range", domain.ErrValidation, index)
	}

	c.resolved = true
	c.stopTimerLocked()
	c.selected = index
	c.history = append(c.history, domain.AnswerRecord{QuestionID: c.current.ID, UserAnswer: index})
	if c.current.IsCorrect(index) {
		c.score++
	}
	c.phase = PhaseAnswered
	c.mu.Unlock()
	c.notify()
	return nil
}

// Next advances past an answered question.
func (c *Controller) Next(ctx context.Context) error {
	c.mu.Lock()
	if c.mode != ModeActive || c.phase != PhaseAnswered {
		c.mu.Unlock()
		return domain.ErrInvalidTransition
	}
	op := c.op
	c.mu.Unlock()
	return c.advance(ctx, op)
}

// Retry re-issues the operation that put the session into error mode.
func (c *Controller) Retry(ctx context.Context) error {
	c.mu.Lock()
	if c.mode != ModeError {
		c.mu.Unlock()
		return domain.ErrInvalidTransition
	}
	retry := c.retry
	c.retry = retryNone
	c.lastError = ""
	c.mode = ModeActive
	op := c.beginLocked()
	req := c.pendingQuiz
	if retry == retryPersist {
		c.phase = PhaseSaving
	} else {
		c.phase = PhaseLoading
	}
	c.mu.Unlock()
	c.notify()

	if retry == retryPersist {
		return c.persist(ctx, op, req)
	}
	return c.fetch(ctx, op)
}

// Abandon leaves the quiz once confirm approves it. A quiz already stored on
// the server is deleted first; if that fails the session is left untouched.
// A save still in flight is discarded when it lands.
func (c *Controller) Abandon(ctx context.Context, confirm func() bool) error {
	c.mu.Lock()
	if c.mode == ModeSetup {
		c.mu.Unlock()
		return domain.ErrInvalidTransition
	}
	c.mu.Unlock()

	if confirm == nil || !confirm() {
		return domain.ErrAbandonDeclined
	}

	c.mu.Lock()
	if c.mode == ModeSetup {
		c.mu.Unlock()
		return domain.ErrInvalidTransition
	}
	quizID := c.quizID
	if quizID == "" {
		if c.mode == ModeActive && c.phase == PhaseSaving {
			c.abandonedOp = c.op
		}
		c.resetLocked()
		c.mu.Unlock()
		c.notify()
		c.logger.Info("Quiz abandoned")
		return nil
	}
	c.mu.Unlock()

	if err := c.store.DeleteQuiz(ctx, quizID); err != nil {
		c.logger.Error("Failed to delete abandoned quiz", "quiz_id", quizID, "error", err)
		if !errors.Is(err, domain.ErrPersist) {
			err = fmt.Errorf("%w: %w", domain.ErrPersist, err)
		}
		return err
	}

	c.mu.Lock()
	if c.quizID == quizID {
		c.resetLocked()
	}
	c.mu.Unlock()
	c.notify()
	c.logger.Info("Quiz abandoned", "quiz_id", quizID)
	return nil
}

// Restart begins a fresh run with the same question count after completion.
func (c *Controller) Restart(ctx context.Context) error {
	c.mu.Lock()
	if c.mode != ModeComplete {
		c.mu.Unlock()
		return domain.ErrInvalidTransition
	}
	count := c.count
	c.resetLocked()
	c.mu.Unlock()
	return c.HandleSetupComplete(ctx, count)
}

// Close stops the timer, abandons in-flight work and waits for background
// advances to finish.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.op++
	c.stopTimerLocked()
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

// beginLocked starts a new async operation, invalidating older ones.
func (c *Controller) beginLocked() uint64 {
	c.op++
	return c.op
}

func (c *Controller) resetLocked() {
	c.op++
	c.stopTimerLocked()
	c.mode = ModeSetup
	c.phase = PhaseIdle
	c.index = 0
	c.score = 0
	c.timerSeconds = c.seconds
	c.current = nil
	c.selected = NoSelection
	c.history = nil
	c.quizID = ""
	c.lastError = ""
	c.resolved = false
	c.retry = retryNone
	c.pendingQuiz = domain.NewQuiz{}
}

func (c *Controller) stopTimerLocked() {
	c.timer.Stop()
	c.timer = nil
}

func (c *Controller) fetch(ctx context.Context, op uint64) error {
	q, err := c.source.Next(ctx, c.userID, c.subject)

	c.mu.Lock()
	if c.op != op {
		c.mu.Unlock()
		return domain.ErrSessionReset
	}
	if err != nil {
		if !errors.Is(err, domain.ErrFetch) {
			err = fmt.Errorf("%w: %w", domain.ErrFetch, err)
		}
		c.mode = ModeError
		c.phase = PhaseIdle
		c.retry = retryFetch
		c.lastError = err.Error()
		index := c.index
		c.mu.Unlock()
		c.notify()
		c.logger.Warn("Failed to fetch question", "question_index", index, "error", err)
		return err
	}

	c.current = &q
	c.selected = NoSelection
	c.resolved = false
	c.phase = PhaseDisplayed
	c.timerSeconds = c.seconds
	c.timer = StartTimer(c.seconds, c.interval, c.newTicker, c.onTick, c.onExpire)
	c.mu.Unlock()
	c.notify()
	return nil
}

func (c *Controller) onTick(t *Timer, remaining int) {
	c.mu.Lock()
	if c.timer != t {
		c.mu.Unlock()
		return
	}
	c.timerSeconds = remaining
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) onExpire(t *Timer) {
	c.mu.Lock()
	if c.timer != t || c.closed || c.resolved || c.phase != PhaseDisplayed {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.resolved = true
	c.timerSeconds = 0
	c.phase = PhaseTimedOut
	c.history = append(c.history, domain.AnswerRecord{QuestionID: c.current.ID, UserAnswer: domain.TimeoutAnswer})
	op := c.op
	c.wg.Add(1)
	c.mu.Unlock()
	c.notify()

	go func() {
		defer c.wg.Done()
		if err := c.source.ReportOutcome(c.ctx, c.userID, false); err != nil {
			c.logger.Warn("Failed to report timed out question", "error", err)
		}
		if err := c.advance(c.ctx, op); err != nil && !errors.Is(err, domain.ErrSessionReset) {
			c.logger.Debug("Advance after timeout failed", "error", err)
		}
	}()
}

// advance moves to the next question, or stores the quiz after the last one.
func (c *Controller) advance(ctx context.Context, op uint64) error {
	c.mu.Lock()
	if c.op != op || c.mode != ModeActive {
		c.mu.Unlock()
		return domain.ErrSessionReset
	}
	c.stopTimerLocked()
	if c.index+1 >= c.count {
		c.phase = PhaseSaving
		c.pendingQuiz = domain.NewQuiz{
			UserID:    c.userID,
			Questions: append([]domain.AnswerRecord(nil), c.history...),
			Score:     c.score,
		}
		req := c.pendingQuiz
		next := c.beginLocked()
		c.mu.Unlock()
		c.notify()
		return c.persist(ctx, next, req)
	}

	c.index++
	c.phase = PhaseLoading
	c.current = nil
	c.selected = NoSelection
	next := c.beginLocked()
	c.mu.Unlock()
	c.notify()
	return c.fetch(ctx, next)
}

func (c *Controller) persist(ctx context.Context, op uint64, req domain.NewQuiz) error {
	quiz, err := c.store.CreateQuiz(ctx, req)

	c.mu.Lock()
	if c.op != op {
		orphan := err == nil && op == c.abandonedOp
		c.mu.Unlock()
		if orphan {
			c.discard(ctx, quiz.ID)
		}
		return domain.ErrSessionReset
	}
	if err != nil {
		if !errors.Is(err, domain.ErrPersist) {
			err = fmt.Errorf("%w: %w", domain.ErrPersist, err)
		}
		c.mode = ModeError
		c.phase = PhaseIdle
		c.retry = retryPersist
		c.lastError = err.Error()
		c.mu.Unlock()
		c.notify()
		c.logger.Error("Failed to store quiz", "error", err)
		return err
	}

	c.index = c.count
	c.mode = ModeComplete
	c.phase = PhaseIdle
	c.current = nil
	c.quizID = quiz.ID
	c.mu.Unlock()
	c.notify()
	c.logger.Info("Quiz completed", "quiz_id", quiz.ID, "score", req.Score, "question_count", len(req.Questions))
	return nil
}

// discard deletes a quiz whose save completed after the session was
// abandoned.
func (c *Controller) discard(ctx context.Context, quizID string) {
	if err := c.store.DeleteQuiz(context.WithoutCancel(ctx), quizID); err != nil {
		c.logger.Error("Failed to delete abandoned quiz", "quiz_id", quizID, "error", err)
		return
	}
	c.logger.Info("Deleted quiz saved after abandon", "quiz_id", quizID)
}
