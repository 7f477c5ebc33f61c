package proto

import (
	"time"

	"github.com/shaunagostinho/ardulink-go/internal/pin"
)

// MessageID is an optional correlation identifier. The zero value means
// "no id".
type MessageID struct {
	Value uint64
	Valid bool
}

// WithID returns a set MessageID.
func WithID(v uint64) MessageID { return MessageID{Value: v, Valid: true} }

// ToDevice is a command sent to the device. The set of implementations is
// closed; see the variants below.
type ToDevice interface {
	toDevice()
}

// PinWrite sets a pin. Digital pins take 0 or 1, analog pins a
// non-negative PWM value.
type PinWrite struct {
	Pin   pin.Pin
	Value int
	ID    MessageID
}

// StartListening asks the device to report changes of Pin.
type StartListening struct {
	Pin pin.Pin
	ID  MessageID
}

// StopListening asks the device to stop reporting changes of Pin.
type StopListening struct {
	Pin pin.Pin
	ID  MessageID
}

// Custom carries an application specific command.
type Custom struct {
	Command string
	Args    []string
	ID      MessageID
}

// NoOp is a harmless message the device answers to. It is used as the
// readiness probe.
type NoOp struct {
	ID MessageID
}

// Tone starts a tone on Pin. A zero Duration plays until NoTone.
type Tone struct {
	Pin      pin.Pin
	Hertz    int
	Duration time.Duration
	ID       MessageID
}

// NoTone stops a tone on Pin.
type NoTone struct {
	Pin pin.Pin
	ID  MessageID
}

func (PinWrite) toDevice()       {}
func (StartListening) toDevice() {}
func (StopListening) toDevice()  {}
func (Custom) toDevice()         {}
func (NoOp) toDevice()           {}
func (Tone) toDevice()           {}
func (NoTone) toDevice()         {}

// DigitalWrite is shorthand for a PinWrite on a digital pin.
func DigitalWrite(p pin.Pin, on bool) PinWrite {
	v := 0
	if on {
		v = 1
	}
	return PinWrite{Pin: p, Value: v}
}

// AnalogWrite is shorthand for a PinWrite on an analog pin.
func AnalogWrite(p pin.Pin, value int) PinWrite {
	return PinWrite{Pin: p, Value: value}
}

// FromDevice is a message received from the device.
type FromDevice interface {
	fromDevice()
}

// PinChanged reports a new value of a listened pin.
type PinChanged struct {
	Pin   pin.Pin
	Value int
}

// State reports a digital value as a bool.
func (e PinChanged) State() bool { return e.Value != 0 }

// Reply acknowledges a message that carried an id.
type Reply struct {
	OK bool
	ID MessageID
}

// Ready is sent by the device once it finished booting.
type Ready struct{}

// Unrecognized holds a frame that matched no known pattern. It is never a
// valid message; Decode returns it together with ErrUnrecognized.
type Unrecognized struct {
	Raw []byte
}

func (PinChanged) fromDevice()   {}
func (Reply) fromDevice()        {}
func (Ready) fromDevice()        {}
func (Unrecognized) fromDevice() {}
