// Package link turns a raw device connection into a typed, event driven
// handle: received frames are decoded and dispatched to per-pin, reply and
// lifecycle listeners, and commands are encoded and written.
package link

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/shaunagostinho/ardulink-go/internal/connection"
	"github.com/shaunagostinho/ardulink-go/internal/frame"
	"github.com/shaunagostinho/ardulink-go/internal/observability"
	"github.com/shaunagostinho/ardulink-go/internal/pin"
	"github.com/shaunagostinho/ardulink-go/internal/proto"
)

// ErrClosed is returned by operations on a closed Link.
var ErrClosed = errors.New("link closed")

// DefaultProbeInterval is how often WaitForReady re-sends its probe.
const DefaultProbeInterval = 500 * time.Millisecond

// Option configures a Link.
type Option func(*Link)

// WithProbeInterval overrides DefaultProbeInterval.
func WithProbeInterval(d time.Duration) Option {
	return func(l *Link) {
		if d > 0 {
			l.probeInterval = d
		}
	}
}

// Link owns one Connection and one Protocol.
//
// Frames are decoded and dispatched one at a time on the connection's
// delivery goroutine, in arrival order. Listeners are called with the
// listener set locked: they may call Send and the other command methods,
// but must not add or remove listeners or call Close from inside a
// callback. Doing so deadlocks; a listener that wants to close the link
// must do it from another goroutine.
type Link struct {
	id            string
	conn          connection.Connection
	proto         proto.Protocol
	log           zerolog.Logger
	probeInterval time.Duration
	rx            *receiver

	closed atomic.Bool

	recvMu  sync.Mutex
	buf     frame.Buffer
	recvErr error

	mu             sync.RWMutex
	pinListeners   map[pin.Pin][]PinListener
	replyListeners []ReplyListener
	connListeners  []ConnectionListener
}

// New wraps conn. The Link takes ownership of conn and closes it on Close.
func New(conn connection.Connection, p proto.Protocol, opts ...Option) *Link {
	id := uuid.NewString()
	l := &Link{
		id:            id,
		conn:          conn,
		proto:         p,
		log:           observability.Component("link").With().Str("link", id).Logger(),
		probeInterval: DefaultProbeInterval,
		pinListeners:  make(map[pin.Pin][]PinListener),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.rx = &receiver{l: l}
	conn.AddListener(l.rx)
	return l
}

// receiver is the Link's single registration on the connection.
type receiver struct{ l *Link }

func (r *receiver) Received(data []byte)     { r.l.received(data) }
func (r *receiver) ConnectionLost(err error) { r.l.fireLost(err) }
func (r *receiver) Reconnected()             { r.l.reconnected() }

func (l *Link) ID() string                        { return l.id }
func (l *Link) Protocol() proto.Protocol          { return l.proto }
func (l *Link) Connection() connection.Connection { return l.conn }

// Err returns the decode error that stopped the receive path, if any.
func (l *Link) Err() error {
	l.recvMu.Lock()
	defer l.recvMu.Unlock()
	return l.recvErr
}

func (l *Link) received(data []byte) {
	l.recvMu.Lock()
	defer l.recvMu.Unlock()
	if l.recvErr != nil || l.closed.Load() {
		return
	}

	l.buf.Append(data)
	for {
		f, ok := l.buf.Next(l.proto.Delimiter())
		if !ok {
			return
		}
		observability.RecordFrame(observability.DirectionIn)
		msg, err := l.proto.Decode(f)
		if err != nil {
			observability.RecordDecodeError()
			l.recvErr = fmt.Errorf("link %s: %w", l.id, err)
			l.buf.Reset()
			l.log.Error().Err(err).Msg("receive path stopped")
			l.fireLost(l.recvErr)
			return
		}
		l.dispatch(msg)
	}
}

func (l *Link) dispatch(msg proto.FromDevice) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	switch m := msg.(type) {
	case proto.PinChanged:
		for _, pl := range l.pinListeners[m.Pin] {
			pl.PinChanged(m)
		}
	case proto.Reply:
		for _, rl := range l.replyListeners {
			rl.ReplyReceived(m)
		}
	case proto.Ready:
		l.log.Debug().Msg("device ready")
		for _, cl := range l.connListeners {
			cl.ConnectionReady()
		}
	case proto.Unrecognized:
		// Decode reports these as errors; nothing to dispatch.
	}
}

func (l *Link) fireLost(err error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, cl := range l.connListeners {
		cl.ConnectionLost(err)
	}
}

// A fresh transport starts a fresh byte stream.
func (l *Link) reconnected() {
	l.recvMu.Lock()
	l.buf.Reset()
	l.recvErr = nil
	l.recvMu.Unlock()

	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, cl := range l.connListeners {
		cl.Reconnected()
	}
}

// Send encodes msg and writes it. Encoding errors wrap
// proto.ErrInvalidArgument and nothing is written; transport errors wrap
// connection.ErrWrite.
func (l *Link) Send(msg proto.ToDevice) error {
	if l.closed.Load() {
		return ErrClosed
	}
	data, err := l.proto.Encode(msg)
	if err != nil {
		return err
	}
	if err := l.conn.Write(data); err != nil {
		observability.RecordWriteError()
		return fmt.Errorf("link %s: %w", l.id, err)
	}
	observability.RecordFrame(observability.DirectionOut)
	return nil
}

func (l *Link) SwitchDigitalPin(p pin.Pin, on bool) error {
	return l.Send(proto.DigitalWrite(p, on))
}

func (l *Link) SwitchAnalogPin(p pin.Pin, value int) error {
	return l.Send(proto.AnalogWrite(p, value))
}

func (l *Link) StartListening(p pin.Pin) error {
	return l.Send(proto.StartListening{Pin: p})
}

func (l *Link) StopListening(p pin.Pin) error {
	return l.Send(proto.StopListening{Pin: p})
}

func (l *Link) SendCustom(command string, args ...string) error {
	return l.Send(proto.Custom{Command: command, Args: args})
}

func (l *Link) SendTone(p pin.Pin, hertz int, d time.Duration) error {
	return l.Send(proto.Tone{Pin: p, Hertz: hertz, Duration: d})
}

func (l *Link) SendNoTone(p pin.Pin) error {
	return l.Send(proto.NoTone{Pin: p})
}

// AddPinListener registers pl for events of exactly p.
func (l *Link) AddPinListener(p pin.Pin, pl PinListener) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed.Load() {
		return ErrClosed
	}
	for _, x := range l.pinListeners[p] {
		if x == pl {
			return nil
		}
	}
	l.pinListeners[p] = append(l.pinListeners[p], pl)
	return nil
}

// RemovePinListener unregisters pl. Unknown listeners are ignored.
func (l *Link) RemovePinListener(p pin.Pin, pl PinListener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	list := l.pinListeners[p]
	for i, x := range list {
		if x == pl {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(l.pinListeners, p)
	} else {
		l.pinListeners[p] = list
	}
}

func (l *Link) AddReplyListener(rl ReplyListener) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed.Load() {
		return ErrClosed
	}
	l.replyListeners = addOnce(l.replyListeners, rl)
	return nil
}

func (l *Link) RemoveReplyListener(rl ReplyListener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.replyListeners = remove(l.replyListeners, rl)
}

func (l *Link) AddConnectionListener(cl ConnectionListener) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed.Load() {
		return ErrClosed
	}
	l.connListeners = addOnce(l.connListeners, cl)
	return nil
}

func (l *Link) RemoveConnectionListener(cl ConnectionListener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connListeners = remove(l.connListeners, cl)
}

// Close deregisters all listeners and closes the connection. Later calls
// return nil; Send and the Add methods return ErrClosed afterwards.
func (l *Link) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	l.conn.RemoveListener(l.rx)

	l.mu.Lock()
	l.pinListeners = make(map[pin.Pin][]PinListener)
	l.replyListeners = nil
	l.connListeners = nil
	l.mu.Unlock()

	err := l.conn.Close()
	l.log.Debug().Msg("closed")
	return err
}

// Closed reports whether Close was called.
func (l *Link) Closed() bool { return l.closed.Load() }

func addOnce[T comparable](list []T, v T) []T {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}

func remove[T comparable](list []T, v T) []T {
	for i, x := range list {
		if x == v {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}
