package link

import (
	"github.com/shaunagostinho/ardulink-go/internal/proto"
)

// PinListener is told about value changes of the pin it was registered for.
type PinListener interface {
	PinChanged(e proto.PinChanged)
}

// ReplyListener receives every reply. Matching replies to requests by id
// is up to the listener.
type ReplyListener interface {
	ReplyReceived(r proto.Reply)
}

// ConnectionListener follows the device lifecycle. Readiness is inferred
// from the device's ready frame, loss and reconnection come from the
// transport or from a fatal decode error.
type ConnectionListener interface {
	ConnectionReady()
	ConnectionLost(err error)
	Reconnected()
}

type pinFunc struct{ fn func(proto.PinChanged) }

func (p *pinFunc) PinChanged(e proto.PinChanged) { p.fn(e) }

// OnPinChanged adapts fn to a PinListener. Every call returns a distinct
// listener.
func OnPinChanged(fn func(e proto.PinChanged)) PinListener { return &pinFunc{fn: fn} }

type replyFunc struct{ fn func(proto.Reply) }

func (r *replyFunc) ReplyReceived(e proto.Reply) { r.fn(e) }

// OnReply adapts fn to a ReplyListener.
func OnReply(fn func(r proto.Reply)) ReplyListener { return &replyFunc{fn: fn} }

// ConnectionEvents implements ConnectionListener with optional callbacks.
// Register it by pointer.
type ConnectionEvents struct {
	OnReady       func()
	OnLost        func(err error)
	OnReconnected func()
}

func (c *ConnectionEvents) ConnectionReady() {
	if c.OnReady != nil {
		c.OnReady()
	}
}

func (c *ConnectionEvents) ConnectionLost(err error) {
	if c.OnLost != nil {
		c.OnLost(err)
	}
}

func (c *ConnectionEvents) Reconnected() {
	if c.OnReconnected != nil {
		c.OnReconnected()
	}
}
