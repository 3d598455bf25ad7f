package domain

// FrameType is the discriminator of a server-to-client chat frame.
type FrameType string

const (
	FrameProcessing FrameType = "processing"
	FrameAnswer     FrameType = "answer"
	FrameError      FrameType = "error"
)

// ChatRequest is the frame a client sends over the chat websocket.
type ChatRequest struct {
	ChatID      string    `json:"chatId"`
	Question    string    `json:"question"`
	ChatHistory []Message `json:"chatHistory"`
}

// ChatFrame is a server-to-client chat frame.
type ChatFrame struct {
	Type     FrameType `json:"type"`
	Question string    `json:"question,omitempty"`
	Answer   string    `json:"answer,omitempty"`
	Message  string    `json:"message,omitempty"`
}
