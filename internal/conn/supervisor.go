package conn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	"github.com/mdcat/companion/internal/domain"
)

// ErrRetriesExhausted is carried by the final EventFailed once the retry
// policy gives up.
var ErrRetriesExhausted = errors.New("reconnect attempts exhausted")

const eventBufferSize = 64

// Supervisor owns at most one live connection and keeps it open until Close.
type Supervisor struct {
	dialer Dialer
	policy RetryPolicy
	logger *slog.Logger
	events chan Event

	mu        sync.Mutex
	sessionID string
	status    Status
	conn      Conn
	gen       uint64
	cancel    context.CancelFunc

	writeMu sync.Mutex
	wg      sync.WaitGroup
}

// NewSupervisor creates a supervisor. A nil logger uses slog.Default().
func NewSupervisor(dialer Dialer, policy RetryPolicy, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		dialer: dialer,
		policy: policy,
		logger: logger,
		events: make(chan Event, eventBufferSize),
	}
}

// Events returns the stream of connection events. It is never closed.
func (s *Supervisor) Events() <-chan Event {
	return s.events
}

// Status returns the current connection status.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Generation returns the generation of the current Open call. Events with a
// different generation belong to a connection that has since been replaced.
func (s *Supervisor) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// SessionID returns the session the supervisor was last opened for.
func (s *Supervisor) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Open starts connecting to sessionID in the background. Any connection that
// is already open is closed first. EventOpened signals completion.
func (s *Supervisor) Open(sessionID string) {
	s.mu.Lock()
	prev, prevCancel := s.releaseLocked()
	s.gen++
	gen := s.gen
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.sessionID = sessionID
	s.status = StatusConnecting
	s.mu.Unlock()

	closeConn(prev, prevCancel, "session reopened")

	s.logger.Info("Opening chat connection", "session_id", sessionID, "generation", gen)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx, gen, sessionID)
	}()
}

// Close releases the connection and suppresses reconnection. It is safe to
// call more than once.
func (s *Supervisor) Close() {
	s.mu.Lock()
	prev, prevCancel := s.releaseLocked()
	if prevCancel != nil {
		s.gen++
	}
	sessionID := s.sessionID
	s.mu.Unlock()

	if prevCancel == nil {
		return
	}
	closeConn(prev, prevCancel, "session ended")
	s.wg.Wait()
	s.logger.Info("Chat connection closed", "session_id", sessionID)
}

// Send writes payload to the live connection. Concurrent sends are written
// in the order they acquire the writer.
func (s *Supervisor) Send(ctx context.Context, payload []byte) error {
	s.mu.Lock()
	c := s.conn
	status := s.status
	s.mu.Unlock()

	if c == nil || status != StatusConnected {
		return domain.ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := c.Write(ctx, payload); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrNotConnected, err)
	}
	return nil
}

// releaseLocked detaches the current connection. Caller holds s.mu.
func (s *Supervisor) releaseLocked() (Conn, context.CancelFunc) {
	c, cancel := s.conn, s.cancel
	s.conn = nil
	s.cancel = nil
	s.status = StatusDisconnected
	return c, cancel
}

func closeConn(c Conn, cancel context.CancelFunc, reason string) {
	if c != nil {
		if err := c.Close(websocket.StatusNormalClosure, reason); err != nil {
			slog.Debug("Failed to close chat connection", "error", err)
		}
	}
	if cancel != nil {
		cancel()
	}
}

func (s *Supervisor) run(ctx context.Context, gen uint64, sessionID string) {
	attempt := 0
	wait := s.policy.NewBackOff()
	for {
		c, err := s.dialer.Dial(ctx, sessionID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !s.setStatus(gen, StatusErrored) {
				return
			}
			s.logger.Warn("Chat connection failed", "session_id", sessionID, "attempt", attempt+1, "error", err)
			s.emit(ctx, Event{Type: EventFailed, Generation: gen, SessionID: sessionID, Err: err})
		} else {
			if !s.attach(gen, c) {
				closeConn(c, nil, "superseded")
				return
			}
			attempt = 0
			wait.Reset()
			s.logger.Info("Chat connection established", "session_id", sessionID)
			s.emit(ctx, Event{Type: EventOpened, Generation: gen, SessionID: sessionID})

			readErr := s.readLoop(ctx, gen, sessionID, c)
			if !s.detach(gen, c) {
				return
			}
			closeConn(c, nil, "connection lost")
			code, reason := closeDetails(readErr)
			s.logger.Info("Chat connection dropped", "session_id", sessionID, "code", int(code), "reason", reason)
			s.emit(ctx, Event{Type: EventClosed, Generation: gen, SessionID: sessionID, Code: code, Reason: reason})
		}

		delay := wait.NextBackOff()
		if delay == backoff.Stop {
			s.setStatus(gen, StatusErrored)
			s.logger.Error("Giving up on chat connection", "session_id", sessionID, "attempts", attempt)
			s.emit(ctx, Event{Type: EventFailed, Generation: gen, SessionID: sessionID, Err: ErrRetriesExhausted})
			return
		}
		attempt++

		s.logger.Info("Reconnecting chat", "session_id", sessionID, "attempt", attempt, "delay", delay)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if !s.setStatus(gen, StatusConnecting) {
			return
		}
	}
}

func (s *Supervisor) readLoop(ctx context.Context, gen uint64, sessionID string, c Conn) error {
	for {
		data, err := c.Read(ctx)
		if err != nil {
			return err
		}
		s.emit(ctx, Event{Type: EventReceived, Generation: gen, SessionID: sessionID, Payload: data})
	}
}

func (s *Supervisor) attach(gen uint64, c Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.cancel == nil {
		return false
	}
	s.conn = c
	s.status = StatusConnected
	return true
}

func (s *Supervisor) detach(gen uint64, c Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.conn != c {
		return false
	}
	s.conn = nil
	s.status = StatusDisconnected
	return true
}

func (s *Supervisor) setStatus(gen uint64, status Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.cancel == nil {
		return false
	}
	s.status = status
	return true
}

func (s *Supervisor) emit(ctx context.Context, ev Event) {
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}
