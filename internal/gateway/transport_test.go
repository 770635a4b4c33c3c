// ABOUTME: Tests for the gorilla/websocket transport adapter.

package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestWebSocketTransport_Roundtrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// Echo one message back, then hang up
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, msg)
	}))
	defer srv.Close()

	tr, err := DialWebSocket(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"))
	require.NoError(t, err)
	defer tr.Close()

	require.NoError(t, tr.Send([]byte(`{"type":"req"}`)))

	select {
	case ev := <-tr.Events():
		frame, ok := ev.(FrameReceived)
		require.True(t, ok, "expected a frame, got %T", ev)
		require.Equal(t, `{"type":"req"}`, string(frame.Data))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for echoed frame")
	}
}

func TestWebSocketTransport_CloseUnblocksReadLoop(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// Flood the client with more frames than its event buffer holds
		for i := 0; i < 64; i++ {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(`{}`)); err != nil {
				return
			}
		}
		// Keep the connection open until the client closes it
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	tr, err := DialWebSocket(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"))
	require.NoError(t, err)

	// Never consume an event: the buffer fills and the read loop blocks.
	// Close must still unblock it and end the stream.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, tr.Close())

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-tr.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("event stream never closed after Close")
		}
	}
}
