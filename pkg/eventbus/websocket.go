package eventbus

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const defaultWriteTimeout = 10 * time.Second

// WebSocketEndpoint delivers events as JSON text frames over an established
// websocket connection. Writes are serialized.
type WebSocketEndpoint struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool
}

// NewWebSocketEndpoint wraps an open connection
func NewWebSocketEndpoint(conn *websocket.Conn, writeTimeout time.Duration) *WebSocketEndpoint {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &WebSocketEndpoint{conn: conn, writeTimeout: writeTimeout}
}

// DialWebSocket connects to an agent's websocket listener
func DialWebSocket(ctx context.Context, url string, header http.Header) (*WebSocketEndpoint, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial %s: %s: %w", url, resp.Status, err)
		}
		return nil, fmt.Errorf("websocket dial %s: %w", url, err)
	}
	return NewWebSocketEndpoint(conn, 0), nil
}

// Deliver writes event as a JSON frame
func (w *WebSocketEndpoint) Deliver(ctx context.Context, event Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return websocket.ErrCloseSent
	}

	deadline := time.Now().Add(w.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := w.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return w.conn.WriteJSON(event)
}

// Close sends a close frame and closes the connection
func (w *WebSocketEndpoint) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return w.conn.Close()
}
