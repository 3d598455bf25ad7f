// Package conn supervises one live websocket connection per chat session,
// reopening it when it drops.
package conn

import (
	"fmt"

	"github.com/coder/websocket"
)

// EventType enumerates supervisor events.
type EventType int

const (
	EventOpened EventType = iota
	EventClosed
	EventFailed
	EventReceived
)

func (t EventType) String() string {
	switch t {
	case EventOpened:
		return "opened"
	case EventClosed:
		return "closed"
	case EventFailed:
		return "failed"
	case EventReceived:
		return "received"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// Event is emitted by the supervisor in the order things happen on the wire.
type Event struct {
	Type EventType
	// Generation identifies the Open call that produced the event.
	Generation uint64
	SessionID  string

	Code    websocket.StatusCode // EventClosed
	Reason  string               // EventClosed
	Err     error                // EventFailed
	Payload []byte               // EventReceived
}

// Status is the connection state of a session.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusErrored
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusErrored:
		return "errored"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}
