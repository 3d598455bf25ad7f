package domain

import (
	"time"
)

// Sender identifies who authored a chat message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Valid reports whether s is a known sender.
func (s Sender) Valid() bool {
	return s == SenderUser || s == SenderBot
}

// Message is a single entry of a chat conversation.
type Message struct {
	ID        string    `json:"_id,omitempty"`
	Sender    Sender    `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	// Pending is set on a locally appended user message until the remote
	// store confirms it. It never leaves the process.
	Pending bool `json:"-"`
}

// Chat is one conversation with the assistant.
type Chat struct {
	ID        string    `json:"_id"`
	UserID    string    `json:"userId"`
	ChatName  string    `json:"chatName"`
	Messages  []Message `json:"messages,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// RecentMessages returns the last n messages of the chat.
func (c *Chat) RecentMessages(n int) []Message {
	if n >= len(c.Messages) {
		return c.Messages
	}
	return c.Messages[len(c.Messages)-n:]
}

// ChatHistory is the payload of the chat history endpoint.
type ChatHistory struct {
	ChatName string    `json:"chatName"`
	Messages []Message `json:"messages"`
}

// GreetingMessage is the bot message every new chat starts with.
const GreetingMessage = "Hello! How can I help you?"
