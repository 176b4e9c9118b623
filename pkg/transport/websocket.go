package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// Subprotocol is the fixed sub-protocol identifier negotiated during the
// websocket handshake. One payload travels per frame.
const Subprotocol = "mcp"

// WebSocketTransport frames messages one-per-frame over a websocket
// connection. Both ends use the same type; only connection setup differs.
type WebSocketTransport struct {
	callbacks

	conn      *websocket.Conn
	sessionID string

	writeMu   sync.Mutex
	started   bool
	done      chan struct{}
	closeOnce sync.Once
}

// DialWebSocket connects to a websocket peer, negotiating the fixed
// sub-protocol.
func DialWebSocket(ctx context.Context, rawURL string) (*WebSocketTransport, error) {
	dialer := websocket.Dialer{Subprotocols: []string{Subprotocol}}
	conn, resp, err := dialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	if conn.Subprotocol() != Subprotocol {
		conn.Close()
		return nil, fmt.Errorf("peer did not accept subprotocol %q", Subprotocol)
	}
	return newWebSocketTransport(conn, ""), nil
}

// UpgradeWebSocket upgrades an inbound HTTP request to a websocket
// transport, enforcing the fixed sub-protocol. Each accepted connection is
// assigned a session id by the caller, usually a uuid.
func UpgradeWebSocket(w http.ResponseWriter, r *http.Request, sessionID string) (*WebSocketTransport, error) {
	upgrader := websocket.Upgrader{Subprotocols: []string{Subprotocol}}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket upgrade failed: %w", err)
	}
	return newWebSocketTransport(conn, sessionID), nil
}

func newWebSocketTransport(conn *websocket.Conn, sessionID string) *WebSocketTransport {
	return &WebSocketTransport{
		conn:      conn,
		sessionID: sessionID,
		done:      make(chan struct{}),
	}
}

// Start launches the frame read loop.
func (t *WebSocketTransport) Start(ctx context.Context) error {
	if t.started {
		return ErrStarted
	}
	t.started = true

	go func() {
		defer t.Close()
		for {
			_, data, err := t.conn.ReadMessage()
			if err != nil {
				select {
				case <-t.done:
				default:
					if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
						t.reportError(err)
					}
				}
				return
			}
			t.deliver(data)
		}
	}()
	return nil
}

// Send writes one payload as a single text frame.
func (t *WebSocketTransport) Send(ctx context.Context, data []byte) error {
	select {
	case <-t.done:
		return ErrClosed
	default:
	}
	if !t.started {
		return ErrNotStarted
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// Close shuts the connection down and fires the close handler once.
func (t *WebSocketTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)

		t.writeMu.Lock()
		_ = t.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		t.writeMu.Unlock()

		err = t.conn.Close()
		t.reportClose()
	})
	return err
}

// SessionID identifies the accepted connection, or "" on the dialing side.
func (t *WebSocketTransport) SessionID() string { return t.sessionID }
