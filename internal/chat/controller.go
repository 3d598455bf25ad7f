// Package chat keeps the message list of one chat session in sync with the
// REST API and the live assistant connection.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mdcat/companion/internal/conn"
	"github.com/mdcat/companion/internal/domain"
)

// DefaultContextWindow is the number of prior messages sent with a question.
const DefaultContextWindow = 10

const (
	errConnection   = "Connection error occurred"
	errSendFailed   = "Failed to send message"
	errLoadHistory  = "Failed to load chat history"
	errSaveResponse = "failed to save bot response"
	errUnknown      = "Unknown error"
)

// MessageAPI persists and loads chat messages.
type MessageAPI interface {
	SaveMessage(ctx context.Context, chatID string, sender domain.Sender, content string) (domain.Message, error)
	History(ctx context.Context, chatID string) (domain.ChatHistory, error)
}

// Transport is the live connection used to ask the assistant. It is
// implemented by *conn.Supervisor.
type Transport interface {
	Open(sessionID string)
	Close()
	Send(ctx context.Context, payload []byte) error
	Events() <-chan conn.Event
	Generation() uint64
}

// State is a snapshot of the controller's observable flags.
type State struct {
	Connected       bool
	WaitingForReply bool
	Processing      bool
	Error           string
	ChatName        string
}

// Options configures a Controller.
type Options struct {
	// ContextWindow is how many prior messages accompany a question.
	ContextWindow int
	Logger        *slog.Logger
}

// Controller drives one chat session.
type Controller struct {
	chatID    string
	api       MessageAPI
	transport Transport
	store     *MessageStore
	window    int
	logger    *slog.Logger

	mu      sync.Mutex
	state   State
	sending bool
	epoch   uint64

	changes chan struct{}

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once
}

// NewController creates a controller for chatID. Call Start to connect.
func NewController(chatID string, api MessageAPI, transport Transport, opts Options) *Controller {
	if opts.ContextWindow <= 0 {
		opts.ContextWindow = DefaultContextWindow
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		chatID:    chatID,
		api:       api,
		transport: transport,
		store:     NewMessageStore(),
		window:    opts.ContextWindow,
		logger:    opts.Logger.With("chat_id", chatID),
		changes:   make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start opens the connection and begins processing its events.
func (c *Controller) Start() {
	c.startOnce.Do(func() {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.loop()
		}()
		c.transport.Open(c.chatID)
	})
}

// Close stops event processing and releases the connection.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.transport.Close()
		c.cancel()
		c.wg.Wait()
	})
}

// ChatID returns the session the controller drives.
func (c *Controller) ChatID() string {
	return c.chatID
}

// State returns a snapshot of the current flags.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Messages returns a copy of the message list.
func (c *Controller) Messages() []domain.Message {
	return c.store.Messages()
}

// ChatName returns the name reported by the last history load.
func (c *Controller) ChatName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.ChatName
}

// Changes signals that State or Messages may have changed. Signals coalesce.
func (c *Controller) Changes() <-chan struct{} {
	return c.changes
}

func (c *Controller) notify() {
	select {
	case c.changes <- struct{}{}:
	default:
	}
}

// SendMessage persists text as a user message and asks the assistant about
// it. The reply arrives asynchronously.
func (c *Controller) SendMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("%w: message is empty", domain.ErrValidation)
	}

	c.mu.Lock()
	if !c.state.Connected {
		c.mu.Unlock()
		return domain.ErrNotConnected
	}
	if c.state.WaitingForReply || c.sending {
		c.mu.Unlock()
		return domain.ErrAwaitingReply
	}
	c.sending = true
	epoch := c.epoch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.epoch == epoch {
			c.sending = false
		}
		c.mu.Unlock()
	}()

	prior := c.store.Recent(c.window)
	tentative, err := c.store.AddTentative(domain.Message{
		Sender:    domain.SenderUser,
		Content:   text,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrAwaitingReply, err)
	}
	c.notify()

	saved, err := c.api.SaveMessage(ctx, c.chatID, domain.SenderUser, text)
	if err != nil {
		_ = c.store.Rollback(tentative)
		if !c.sameEpoch(epoch) {
			return domain.ErrSessionReset
		}
		c.setError(errSendFailed)
		c.logger.Error("Failed to save user message", "error", err)
		if !errors.Is(err, domain.ErrPersist) {
			err = fmt.Errorf("%w: %w", domain.ErrPersist, err)
		}
		return err
	}
	if err := c.store.Confirm(tentative, saved); err != nil {
		return domain.ErrSessionReset
	}
	c.notify()

	payload, err := json.Marshal(domain.ChatRequest{
		ChatID:      c.chatID,
		Question:    text,
		ChatHistory: prior,
	})
	if err != nil {
		return fmt.Errorf("encode chat request: %w", err)
	}

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return domain.ErrSessionReset
	}
	c.state.WaitingForReply = true
	c.state.Processing = false
	c.state.Error = ""
	c.mu.Unlock()
	c.notify()

	if err := c.transport.Send(ctx, payload); err != nil {
		c.mu.Lock()
		if c.epoch == epoch {
			c.state.WaitingForReply = false
			c.state.Error = errSendFailed
		}
		c.mu.Unlock()
		c.notify()
		c.logger.Warn("Failed to send question", "error", err)
		return err
	}
	return nil
}

// Refresh drops local state, abandons any pending reply, reloads history and
// reopens the connection.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	c.epoch++
	epoch := c.epoch
	c.sending = false
	c.state.Connected = false
	c.state.WaitingForReply = false
	c.state.Processing = false
	c.state.Error = ""
	c.mu.Unlock()
	c.store.Reset()
	c.notify()

	c.transport.Close()
	err := c.loadHistory(ctx, epoch)
	c.transport.Open(c.chatID)
	return err
}

func (c *Controller) loop() {
	events := c.transport.Events()
	for {
		select {
		case <-c.ctx.Done():
			return
		case ev := <-events:
			if ev.Generation != c.transport.Generation() {
				c.logger.Debug("Dropping stale connection event", "event", ev.Type.String(), "generation", ev.Generation)
				continue
			}
			c.handleEvent(ev)
		}
	}
}

func (c *Controller) handleEvent(ev conn.Event) {
	switch ev.Type {
	case conn.EventOpened:
		c.mu.Lock()
		c.state.Connected = true
		c.state.Error = ""
		epoch := c.epoch
		c.mu.Unlock()
		c.notify()
		if err := c.loadHistory(c.ctx, epoch); err != nil {
			c.logger.Warn("Failed to load chat history", "error", err)
		}

	case conn.EventClosed, conn.EventFailed:
		c.mu.Lock()
		c.state.Connected = false
		c.state.WaitingForReply = false
		c.state.Processing = false
		if ev.Type == conn.EventFailed {
			c.state.Error = errConnection
			if errors.Is(ev.Err, conn.ErrRetriesExhausted) {
				c.state.Error = errConnection + ": " + ev.Err.Error()
			}
		}
		c.mu.Unlock()
		c.notify()

	case conn.EventReceived:
		c.handleFrame(ev.Payload)
	}
}

func (c *Controller) handleFrame(payload []byte) {
	var frame domain.ChatFrame
	if err := json.Unmarshal(payload, &frame); err != nil || frame.Type == "" {
		c.logger.Warn("Malformed chat frame", "payload", string(payload))
		c.finishReply(domain.ErrMalformedPayload.Error())
		return
	}

	switch frame.Type {
	case domain.FrameProcessing:
		c.mu.Lock()
		c.state.Processing = true
		c.mu.Unlock()
		c.notify()

	case domain.FrameAnswer:
		answer := strings.TrimSpace(frame.Answer)
		if answer == "" {
			c.finishReply(domain.ErrMalformedPayload.Error())
			return
		}
		c.mu.Lock()
		epoch := c.epoch
		c.mu.Unlock()

		saved, err := c.api.SaveMessage(c.ctx, c.chatID, domain.SenderBot, answer)
		if !c.sameEpoch(epoch) {
			return
		}
		if err != nil {
			c.logger.Error("Failed to save bot response", "error", err)
			c.finishReply(errSaveResponse)
			return
		}
		c.store.Append(saved)
		c.finishReply("")

	case domain.FrameError:
		msg := frame.Message
		if msg == "" {
			msg = errUnknown
		}
		c.finishReply(msg)

	default:
		c.logger.Warn("Unknown chat frame type", "type", string(frame.Type))
	}
}

// finishReply clears the waiting flags, recording errMsg if non-empty.
func (c *Controller) finishReply(errMsg string) {
	c.mu.Lock()
	c.state.WaitingForReply = false
	c.state.Processing = false
	if errMsg != "" {
		c.state.Error = errMsg
	}
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) loadHistory(ctx context.Context, epoch uint64) error {
	version := c.store.Version()
	history, err := c.api.History(ctx, c.chatID)
	if err != nil {
		c.mu.Lock()
		if c.epoch == epoch {
			c.state.Error = errLoadHistory
		}
		c.mu.Unlock()
		c.notify()
		return fmt.Errorf("load history: %w", err)
	}
	if !c.sameEpoch(epoch) {
		return nil
	}
	// A send or answer landed while loading; the local list is newer.
	if !c.store.ReplaceIf(version, history.Messages) {
		c.logger.Debug("Skipping stale history snapshot")
	}
	c.mu.Lock()
	c.state.ChatName = history.ChatName
	c.mu.Unlock()
	c.notify()
	return nil
}

func (c *Controller) sameEpoch(epoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch == epoch
}

func (c *Controller) setError(msg string) {
	c.mu.Lock()
	c.state.Error = msg
	c.mu.Unlock()
	c.notify()
}
