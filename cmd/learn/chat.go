package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mdcat/companion/internal/chat"
	"github.com/mdcat/companion/internal/conn"
	"github.com/mdcat/companion/internal/domain"
)

var chatCmd = &cobra.Command{
	Use:   "chat <chat-id>",
	Short: "Chat with the assistant",
	Long: `Chat with the assistant over the live connection.

Type a question and press enter. Commands:
  /refresh  reload history and reconnect
  /quit     leave the chat`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSession(cmd)
		if err != nil {
			return err
		}
		return runChat(cmd, s, args[0])
	},
}

func runChat(cmd *cobra.Command, s *session, chatID string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	sup := conn.NewSupervisor(conn.NewWebSocketDialer(s.cfg.ChatURL, s.creds), s.retryPolicy(), s.logger)
	c := chat.NewController(chatID, s.api, sup, chat.Options{
		ContextWindow: s.cfg.Chat.ContextWindow,
		Logger:        s.logger,
	})
	defer c.Close()
	c.Start()

	view := &chatView{out: out, printed: map[string]bool{}}
	fmt.Fprintln(out, "Connecting...")

	lines := readLines(ctx, cmd.InOrStdin())
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.Changes():
			view.render(c)
		case line, ok := <-lines:
			if !ok || line == "/quit" {
				return nil
			}
			switch line {
			case "":
				continue
			case "/refresh":
				view.reset()
				if err := c.Refresh(ctx); err != nil {
					fmt.Fprintf(out, "! refresh failed: %v\n", err)
				}
				continue
			}
			if err := c.SendMessage(ctx, line); err != nil {
				fmt.Fprintf(out, "! %s\n", describeSendError(err))
			}
		}
	}
}

func describeSendError(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotConnected):
		return "not connected yet, try again in a moment"
	case errors.Is(err, domain.ErrAwaitingReply):
		return "still waiting for the previous answer"
	case errors.Is(err, domain.ErrValidation):
		return "message cannot be empty"
	case errors.Is(err, domain.ErrSessionReset):
		return "chat was refreshed before the message was sent"
	default:
		return err.Error()
	}
}

// chatView prints what changed since the last render.
type chatView struct {
	out        io.Writer
	printed    map[string]bool
	named      bool
	connected  bool
	processing bool
	lastError  string
}

func (v *chatView) reset() {
	v.printed = map[string]bool{}
	v.lastError = ""
}

func (v *chatView) render(c *chat.Controller) {
	st := c.State()

	if !v.named && st.ChatName != "" {
		fmt.Fprintf(v.out, "== %s ==\n", st.ChatName)
		v.named = true
	}
	if st.Connected != v.connected {
		if st.Connected {
			fmt.Fprintln(v.out, "[connected]")
		} else {
			fmt.Fprintln(v.out, "[disconnected, reconnecting...]")
		}
		v.connected = st.Connected
	}

	for _, m := range c.Messages() {
		if m.Pending || m.ID == "" || v.printed[m.ID] {
			continue
		}
		v.printed[m.ID] = true
		who := "you"
		if m.Sender == domain.SenderBot {
			who = "assistant"
		}
		fmt.Fprintf(v.out, "%s> %s\n", who, strings.TrimSpace(m.Content))
	}

	if st.Processing && !v.processing {
		fmt.Fprintln(v.out, "[assistant is thinking...]")
	}
	v.processing = st.Processing

	if st.Error != v.lastError {
		if st.Error != "" {
			fmt.Fprintf(v.out, "! %s\n", st.Error)
		}
		v.lastError = st.Error
	}
}
