// Package connection provides byte transports for devices: serial ports,
// TCP sockets, websockets, an in-process virtual device and a recording
// stub for tests.
//
// Received bytes are pushed to registered listeners from a goroutine owned
// by the connection. Listener sets are guarded so that a listener removed
// by RemoveListener never fires after the call returns. Listeners must not
// add or remove listeners on the same connection from inside a callback.
package connection

import (
	"errors"
	"sync"
)

var (
	// ErrClosed is returned by Write after Close.
	ErrClosed = errors.New("connection closed")

	// ErrWrite wraps transport failures reported by Write.
	ErrWrite = errors.New("write failed")
)

// Connection is a raw byte channel to a device.
type Connection interface {
	// Write sends p. Transport failures are returned as errors wrapping
	// ErrWrite; callers decide whether to retry.
	Write(p []byte) error
	AddListener(l Listener)
	RemoveListener(l Listener)
	// Close releases the transport. It is idempotent.
	Close() error
}

// Listener receives raw byte chunks. Chunk boundaries are arbitrary.
type Listener interface {
	Received(data []byte)
}

// StateListener is implemented by listeners that want to hear about
// receive-side failures and recoveries.
type StateListener interface {
	ConnectionLost(err error)
	Reconnected()
}

type funcListener struct {
	fn func([]byte)
}

func (f *funcListener) Received(data []byte) { f.fn(data) }

// OnReceive adapts fn to a Listener. Each call returns a distinct listener
// that can later be passed to RemoveListener.
func OnReceive(fn func(data []byte)) Listener {
	return &funcListener{fn: fn}
}

// Listeners is a listener set shared by the Connection implementations.
// The zero value is ready to use.
type Listeners struct {
	mu   sync.RWMutex
	list []Listener
}

// Add registers l. Adding a registered listener again is a no-op.
func (ls *Listeners) Add(l Listener) {
	if l == nil {
		return
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	for _, x := range ls.list {
		if x == l {
			return
		}
	}
	ls.list = append(ls.list, l)
}

// Remove unregisters l. Removing an unknown listener is a no-op. When
// Remove returns, l is not running and will not be called again.
func (ls *Listeners) Remove(l Listener) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	for i, x := range ls.list {
		if x == l {
			ls.list = append(ls.list[:i:i], ls.list[i+1:]...)
			return
		}
	}
}

// Clear removes all listeners.
func (ls *Listeners) Clear() {
	ls.mu.Lock()
	ls.list = nil
	ls.mu.Unlock()
}

// Len reports the number of registered listeners.
func (ls *Listeners) Len() int {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	return len(ls.list)
}

// Deliver passes data to every listener in registration order. The set
// stays read-locked meanwhile, so a listener must not call Add, Remove or
// Clear, directly or through Close.
func (ls *Listeners) Deliver(data []byte) {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	for _, l := range ls.list {
		l.Received(data)
	}
}

// Lost notifies every StateListener of a receive-side failure.
func (ls *Listeners) Lost(err error) {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	for _, l := range ls.list {
		if sl, ok := l.(StateListener); ok {
			sl.ConnectionLost(err)
		}
	}
}

// Reconnected notifies every StateListener of a recovered transport.
func (ls *Listeners) Reconnected() {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	for _, l := range ls.list {
		if sl, ok := l.(StateListener); ok {
			sl.Reconnected()
		}
	}
}
