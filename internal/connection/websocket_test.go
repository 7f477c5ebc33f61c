package connection

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

// echoDevice answers every message by echoing it back.
func echoDevice(t *testing.T) *httptest.Server {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
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

func TestWebSocketRoundTrip(t *testing.T) {
	srv := echoDevice(t)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, err := DialWebSocket(context.Background(), url, time.Second)
	require.NoError(t, err)
	rec := newRecorder()
	ws.AddListener(rec)

	require.NoError(t, ws.Write([]byte("alp://ared/3/512\n")))
	require.Eventually(t, func() bool { return rec.String() == "alp://ared/3/512\n" }, time.Second, 5*time.Millisecond)

	require.NoError(t, ws.Close())
	assert.ErrorIs(t, ws.Write([]byte("x")), ErrClosed)
}

func TestWebSocketServerGone(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// Hang up after the first message.
		conn.ReadMessage()
		conn.Close()
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, err := DialWebSocket(context.Background(), url, time.Second)
	require.NoError(t, err)
	defer ws.Close()
	rec := newRecorder()
	ws.AddListener(rec)

	require.NoError(t, ws.Write([]byte("bye\n")))
	require.Eventually(t, func() bool { return rec.lostCount() == 1 }, time.Second, 5*time.Millisecond)
}
