package wstransport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoServer upgrades each request and echoes every frame back.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestTransport_RoundTrip(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	tr, err := Dial(context.Background(), wsURL(srv))
	require.NoError(t, err)
	defer tr.Close()

	msg := []byte(`{"id":1,"method":"Page.enable"}`)
	require.NoError(t, tr.Send(context.Background(), msg))

	got, err := tr.Receive()
	require.NoError(t, err)
	assert.Equal(t, msg, got)
}

func TestTransport_MessageBoundaries(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	tr, err := Dial(context.Background(), wsURL(srv))
	require.NoError(t, err)
	defer tr.Close()

	first := []byte(`{"id":1,"method":"Page.enable"}`)
	second := []byte(`{"id":2,"method":"Page.reload"}`)
	require.NoError(t, tr.Send(context.Background(), first))
	require.NoError(t, tr.Send(context.Background(), second))

	got, err := tr.Receive()
	require.NoError(t, err)
	assert.Equal(t, first, got)

	got, err = tr.Receive()
	require.NoError(t, err)
	assert.Equal(t, second, got)
}

func TestTransport_ReceiveAfterClose(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	tr, err := Dial(context.Background(), wsURL(srv))
	require.NoError(t, err)

	require.NoError(t, tr.Close())

	_, err = tr.Receive()
	require.Error(t, err)
}

func TestTransport_SendDeadline(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	tr, err := Dial(context.Background(), wsURL(srv))
	require.NoError(t, err)
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, tr.Send(ctx, []byte(`{"id":1,"method":"Page.enable"}`)))
}

func TestDial_Refused(t *testing.T) {
	_, err := Dial(context.Background(), "ws://127.0.0.1:1/devtools/page/dead")
	require.Error(t, err)
}
