package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// These tests dial a real gorilla/websocket server, exercising the full
// opening handshake and client driver against an independent server-side
// implementation rather than a hand-rolled test double.

func newGorillaEchoServer(t *testing.T) *httptest.Server {
	upgrader := gorilla.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, payload); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestDialAndEchoAgainstGorillaServer(t *testing.T) {
	srv := newGorillaEchoServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Dial(ctx, wsURL(srv.URL), ConnOptions{})
	require.NoError(t, err)
	defer client.conn.Close()

	require.NoError(t, client.Send(ctx, KindText, []byte("ping over the wire")))

	msg, err := client.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, KindText, msg.Kind)
	require.Equal(t, "ping over the wire", string(msg.Payload))
}

func TestDialAndEchoBinaryMessageAgainstGorillaServer(t *testing.T) {
	srv := newGorillaEchoServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Dial(ctx, wsURL(srv.URL), ConnOptions{})
	require.NoError(t, err)
	defer client.conn.Close()

	payload := []byte{0, 1, 2, 3, 4, 250, 251, 252, 253, 254, 255}
	require.NoError(t, client.Send(ctx, KindBinary, payload))

	msg, err := client.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, KindBinary, msg.Kind)
	require.Equal(t, payload, msg.Payload)
}

func TestDialAndCloseHandshakeAgainstGorillaServer(t *testing.T) {
	srv := newGorillaEchoServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Dial(ctx, wsURL(srv.URL), ConnOptions{})
	require.NoError(t, err)

	require.NoError(t, client.Close(ctx))
}

func TestDialAndFragmentedMessageAgainstGorillaServer(t *testing.T) {
	// A small write buffer forces gorilla to flush a continuation frame
	// every few bytes instead of coalescing the whole message into one
	// frame at Close, which is what this test needs to exercise the
	// client's reassembly path against an independent peer's fragmented
	// wire encoding.
	upgrader := gorilla.Upgrader{WriteBufferSize: 8}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		mt, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		require.Equal(t, gorilla.TextMessage, mt)

		wc, err := conn.NextWriter(gorilla.TextMessage)
		if err != nil {
			return
		}
		wc.Write(payload)
		wc.Close()
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Dial(ctx, wsURL(srv.URL), ConnOptions{})
	require.NoError(t, err)
	defer client.conn.Close()

	require.NoError(t, client.Send(ctx, KindText, []byte("a message long enough to span two fragments")))

	msg, err := client.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, "a message long enough to span two fragments", string(msg.Payload))
}
