// Package wstransport provides a WebSocket implementation of the cdp.Transport
// contract, the framing a real DevTools endpoint speaks.
package wstransport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport carries whole protocol messages as WebSocket text frames. The
// websocket package allows one concurrent writer, so writes are serialized
// here; reads happen only from the connection's single receiver goroutine.
type Transport struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// Dial connects to a WebSocket endpoint, typically a page target's
// webSocketDebuggerUrl.
func Dial(ctx context.Context, url string) (*Transport, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return New(conn), nil
}

// New wraps an already-established WebSocket connection, e.g. one accepted
// server-side by an upgrader.
func New(conn *websocket.Conn) *Transport {
	return &Transport{conn: conn}
}

// Send writes one message as a single text frame. A deadline on the ctx
// becomes the write deadline.
func (t *Transport) Send(ctx context.Context, msg []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, msg)
}

// Receive blocks for the next frame. It returns an error once the peer or
// Close severs the connection.
func (t *Transport) Receive() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	return data, err
}

// Close performs a best-effort close handshake and tears the socket down.
func (t *Transport) Close() error {
	t.writeMu.Lock()
	deadline := time.Now().Add(time.Second)
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	t.writeMu.Unlock()
	return t.conn.Close()
}
