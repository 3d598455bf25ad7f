package conn

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/coder/websocket"
)

// Conn is one physical bidirectional connection.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, payload []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Dialer opens a connection for a session id.
type Dialer interface {
	Dial(ctx context.Context, sessionID string) (Conn, error)
}

// TokenSource supplies the bearer credential attached to the handshake.
type TokenSource interface {
	Token() (string, bool)
}

// WebSocketDialer dials `<BaseURL>/<sessionID>` over websocket.
type WebSocketDialer struct {
	BaseURL    string
	Tokens     TokenSource
	HTTPClient *http.Client
	ReadLimit  int64
}

// NewWebSocketDialer creates a dialer rooted at baseURL (ws:// or wss://).
func NewWebSocketDialer(baseURL string, tokens TokenSource) *WebSocketDialer {
	return &WebSocketDialer{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		Tokens:    tokens,
		ReadLimit: 1 << 20,
	}
}

// Dial implements Dialer.
func (d *WebSocketDialer) Dial(ctx context.Context, sessionID string) (Conn, error) {
	u := d.BaseURL + "/" + url.PathEscape(sessionID)

	header := http.Header{}
	if d.Tokens != nil {
		if token, ok := d.Tokens.Token(); ok {
			header.Set("Authorization", "Bearer "+token)
		}
	}

	ws, resp, err := websocket.Dial(ctx, u, &websocket.DialOptions{
		HTTPHeader: header,
		HTTPClient: d.HTTPClient,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u, err)
	}
	if d.ReadLimit > 0 {
		ws.SetReadLimit(d.ReadLimit)
	}
	return &wsConn{ws: ws}, nil
}

// wsConn adapts websocket.Conn to Conn using text frames.
type wsConn struct {
	ws *websocket.Conn
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.ws.Read(ctx)
	return data, err
}

func (c *wsConn) Write(ctx context.Context, payload []byte) error {
	return c.ws.Write(ctx, websocket.MessageText, payload)
}

func (c *wsConn) Close(code websocket.StatusCode, reason string) error {
	return c.ws.Close(code, reason)
}

// closeDetails extracts the close code and reason from a read error.
func closeDetails(err error) (websocket.StatusCode, string) {
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Reason
	}
	return websocket.StatusAbnormalClosure, ""
}
