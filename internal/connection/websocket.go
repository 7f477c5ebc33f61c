package connection

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/shaunagostinho/ardulink-go/internal/observability"
)

const wsWriteTimeout = 5 * time.Second

// WebSocket talks to a device exposed through a websocket bridge. Every
// message in either direction carries raw protocol bytes.
type WebSocket struct {
	url       string
	conn      *websocket.Conn
	listeners Listeners
	log       zerolog.Logger

	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// DialWebSocket connects to url (ws:// or wss://).
func DialWebSocket(ctx context.Context, url string, timeout time.Duration) (*WebSocket, error) {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = timeout
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket: failed to connect to %s: %w", url, err)
	}
	w := &WebSocket{
		url:  url,
		conn: conn,
		log:  observability.Component("websocket").With().Str("url", url).Logger(),
	}
	w.log.Info().Msg("connected")
	go w.readLoop()
	return w, nil
}

func (w *WebSocket) readLoop() {
	for {
		_, data, err := w.conn.ReadMessage()
		if w.closed.Load() {
			return
		}
		if err != nil {
			w.log.Warn().Err(err).Msg("receive failed")
			w.listeners.Lost(fmt.Errorf("websocket %s: %w", w.url, err))
			return
		}
		if len(data) > 0 {
			w.listeners.Deliver(data)
		}
	}
}

func (w *WebSocket) Write(p []byte) error {
	if w.closed.Load() {
		return ErrClosed
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := w.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return fmt.Errorf("%w: websocket %s: %w", ErrWrite, w.url, err)
	}
	return nil
}

func (w *WebSocket) AddListener(l Listener)    { w.listeners.Add(l) }
func (w *WebSocket) RemoveListener(l Listener) { w.listeners.Remove(l) }

func (w *WebSocket) Close() error {
	w.closeOnce.Do(func() {
		w.closed.Store(true)
		w.writeMu.Lock()
		w.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		w.writeMu.Unlock()
		w.closeErr = w.conn.Close()
		w.listeners.Clear()
		w.log.Debug().Msg("closed")
	})
	return w.closeErr
}
