package cdp_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/previewpanel/cdp"
	"github.com/previewpanel/cdp/wstransport"
)

// fakeTarget is a WebSocket server that behaves like a page target: it
// answers every command with an echo of its params and emits a load event
// after each Page.navigate. The returned sever func closes every upgraded
// connection; httptest's CloseClientConnections cannot, because it stops
// tracking a connection once it is hijacked for the WebSocket upgrade.
func fakeTarget(t *testing.T) (*httptest.Server, func()) {
	t.Helper()
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	var mu sync.Mutex
	var conns []*websocket.Conn
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		mu.Lock()
		conns = append(conns, conn)
		mu.Unlock()

		for {
			var cmd struct {
				ID     *int64          `json:"id"`
				Method string          `json:"method"`
				Params json.RawMessage `json:"params"`
			}
			if err := conn.ReadJSON(&cmd); err != nil {
				return
			}

			switch cmd.Method {
			case "test.fail":
				if err := conn.WriteJSON(map[string]any{
					"id":    cmd.ID,
					"error": map[string]any{"code": -32000, "message": "told to fail"},
				}); err != nil {
					return
				}
			default:
				if err := conn.WriteJSON(map[string]any{
					"id":     cmd.ID,
					"result": map[string]any{"echo": json.RawMessage(orNull(cmd.Params))},
				}); err != nil {
					return
				}
			}

			if cmd.Method == "Page.navigate" {
				if err := conn.WriteJSON(map[string]any{"method": "Page.loadEventFired"}); err != nil {
					return
				}
			}
		}
	}))
	sever := func() {
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			c.Close()
		}
	}
	return srv, sever
}

func orNull(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("null")
	}
	return raw
}

func dialTarget(t *testing.T, srv *httptest.Server) *cdp.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	tr, err := wstransport.Dial(context.Background(), url)
	require.NoError(t, err)
	conn := cdp.NewConn(tr, nil)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestConnOverWebSocket_CallAndEvent(t *testing.T) {
	srv, _ := fakeTarget(t)
	defer srv.Close()

	conn := dialTarget(t, srv)

	loaded := make(chan struct{}, 1)
	conn.On("Page.loadEventFired", func(json.RawMessage) {
		loaded <- struct{}{}
	})

	raw, err := conn.Call(context.Background(), "Page.navigate", map[string]string{"url": "http://x"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"echo":{"url":"http://x"}}`, string(raw))

	select {
	case <-loaded:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for load event")
	}
}

func TestConnOverWebSocket_ProtocolError(t *testing.T) {
	srv, _ := fakeTarget(t)
	defer srv.Close()

	conn := dialTarget(t, srv)

	_, err := conn.Call(context.Background(), "test.fail", nil)
	require.Error(t, err)

	var perr *cdp.ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "told to fail", perr.Message)
}

func TestConnOverWebSocket_ServerGone(t *testing.T) {
	srv, sever := fakeTarget(t)
	conn := dialTarget(t, srv)

	// Stopping the server severs the channel; the connection must reach its
	// terminal state and fail further sends fast.
	sever()
	srv.Close()

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connection did not close after server went away")
	}

	_, err := conn.Send(context.Background(), "Page.enable", nil)
	assert.ErrorIs(t, err, cdp.ErrClosed)
}
