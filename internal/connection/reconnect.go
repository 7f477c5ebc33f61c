package connection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/shaunagostinho/ardulink-go/internal/observability"
)

// Dialer opens a fresh connection.
type Dialer func(ctx context.Context) (Connection, error)

// Backoff delays between redial attempts.
const (
	InitialBackoff = 1 * time.Second
	MaxBackoff     = 60 * time.Second
)

// Reconnecting keeps a connection alive across transport failures. When
// the current connection reports ConnectionLost, listeners are told, the
// dead connection is closed and Reconnecting redials with exponential
// backoff until it succeeds or Close is called. Writes while disconnected
// fail with ErrWrite.
type Reconnecting struct {
	name      string
	dial      Dialer
	listeners Listeners
	log       zerolog.Logger
	initial   time.Duration
	max       time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	current Connection
	closed  bool
}

// NewReconnecting dials once and fails if that first attempt fails.
func NewReconnecting(ctx context.Context, name string, dial Dialer) (*Reconnecting, error) {
	return newReconnecting(ctx, name, dial, InitialBackoff, MaxBackoff)
}

func newReconnecting(ctx context.Context, name string, dial Dialer, initial, max time.Duration) (*Reconnecting, error) {
	conn, err := dial(ctx)
	if err != nil {
		return nil, err
	}
	rctx, cancel := context.WithCancel(context.Background())
	r := &Reconnecting{
		name:    name,
		dial:    dial,
		log:     observability.Component("reconnect").With().Str("conn", name).Logger(),
		initial: initial,
		max:     max,
		ctx:     rctx,
		cancel:  cancel,
	}
	r.current = conn
	conn.AddListener(&forwarder{r: r, conn: conn})
	return r, nil
}

// forwarder relays one underlying connection's events.
type forwarder struct {
	r    *Reconnecting
	conn Connection
}

func (f *forwarder) Received(data []byte) { f.r.listeners.Deliver(data) }

func (f *forwarder) ConnectionLost(err error) {
	f.r.listeners.Lost(err)
	// The dead connection is closed from the redial goroutine: Close waits
	// for this callback to return.
	go f.r.redial(f.conn)
}

func (f *forwarder) Reconnected() {}

func (r *Reconnecting) redial(dead Connection) {
	r.mu.Lock()
	if r.current == dead {
		r.current = nil
	}
	r.mu.Unlock()
	dead.Close()

	delay := r.initial
	attempt := 0
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-time.After(delay):
		}

		attempt++
		conn, err := r.dial(r.ctx)
		if err != nil {
			r.log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("redial failed")
			delay *= 2
			if delay > r.max {
				delay = r.max
			}
			continue
		}

		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			conn.Close()
			return
		}
		r.current = conn
		r.mu.Unlock()
		conn.AddListener(&forwarder{r: r, conn: conn})
		r.log.Info().Int("attempt", attempt).Msg("reconnected")
		r.listeners.Reconnected()
		return
	}
}

func (r *Reconnecting) Write(p []byte) error {
	r.mu.Lock()
	closed, conn := r.closed, r.current
	r.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if conn == nil {
		return fmt.Errorf("%w: %s: not connected", ErrWrite, r.name)
	}
	return conn.Write(p)
}

func (r *Reconnecting) AddListener(l Listener)    { r.listeners.Add(l) }
func (r *Reconnecting) RemoveListener(l Listener) { r.listeners.Remove(l) }

func (r *Reconnecting) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	conn := r.current
	r.current = nil
	r.mu.Unlock()

	r.cancel()
	r.listeners.Clear()
	if conn != nil {
		return conn.Close()
	}
	return nil
}
