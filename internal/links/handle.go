package links

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shaunagostinho/ardulink-go/internal/link"
	"github.com/shaunagostinho/ardulink-go/internal/pin"
	"github.com/shaunagostinho/ardulink-go/internal/proto"
)

// ErrHandleClosed is returned by a Handle after its Close.
var ErrHandleClosed = errors.New("link handle closed")

// Handle is one user's reference to a shared link. Closing the handle
// releases the reference; it never closes the link while other handles
// are open.
//
// StartListening and StopListening are counted across all handles of a
// link: the device is told to stop reporting a pin only when no handle is
// listening to it any more. Closing a handle stops whatever it started.
type Handle struct {
	cache  *Cache
	entry  *entry
	closed atomic.Bool

	mu        sync.Mutex
	listening map[pin.Pin]bool
	pins      []pinRegistration
}

type pinRegistration struct {
	pin      pin.Pin
	listener link.PinListener
}

func newHandle(c *Cache, e *entry) *Handle {
	return &Handle{cache: c, entry: e, listening: make(map[pin.Pin]bool)}
}

// Link returns the shared link. Two handles from equivalent addresses
// return the same *link.Link.
func (h *Handle) Link() *link.Link { return h.entry.link }

// Key is the canonical cache key of the link.
func (h *Handle) Key() string { return h.entry.key }

func (h *Handle) Send(msg proto.ToDevice) error {
	if h.closed.Load() {
		return ErrHandleClosed
	}
	return h.entry.link.Send(msg)
}

func (h *Handle) SwitchDigitalPin(p pin.Pin, on bool) error {
	return h.Send(proto.DigitalWrite(p, on))
}

func (h *Handle) SwitchAnalogPin(p pin.Pin, value int) error {
	return h.Send(proto.AnalogWrite(p, value))
}

func (h *Handle) SendCustom(command string, args ...string) error {
	return h.Send(proto.Custom{Command: command, Args: args})
}

// WaitForReady waits for the shared link's device. See link.Link.WaitForReady.
func (h *Handle) WaitForReady(ctx context.Context, timeout time.Duration, mode link.Mode) bool {
	if h.closed.Load() {
		return false
	}
	return h.entry.link.WaitForReady(ctx, timeout, mode)
}

// AddPinListener registers l on the shared link. It is removed again when
// the handle is closed.
func (h *Handle) AddPinListener(p pin.Pin, l link.PinListener) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed.Load() {
		return ErrHandleClosed
	}
	if err := h.entry.link.AddPinListener(p, l); err != nil {
		return err
	}
	h.pins = append(h.pins, pinRegistration{pin: p, listener: l})
	return nil
}

func (h *Handle) RemovePinListener(p pin.Pin, l link.PinListener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, r := range h.pins {
		if r.pin == p && r.listener == l {
			h.pins = append(h.pins[:i:i], h.pins[i+1:]...)
			break
		}
	}
	h.entry.link.RemovePinListener(p, l)
}

// StartListening asks the device to report p unless another handle of the
// same link already did. Repeated calls on one handle count once.
func (h *Handle) StartListening(p pin.Pin) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed.Load() {
		return ErrHandleClosed
	}
	if h.listening[p] {
		return nil
	}
	if err := h.entry.startListening(p); err != nil {
		return err
	}
	h.listening[p] = true
	return nil
}

// StopListening undoes StartListening. The device is told only when this
// was the last handle listening to p.
func (h *Handle) StopListening(p pin.Pin) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed.Load() {
		return ErrHandleClosed
	}
	if !h.listening[p] {
		return nil
	}
	delete(h.listening, p)
	return h.entry.stopListening(p)
}

// Close releases the handle. Later calls return nil. Like link.Link.Close
// it must not be called from inside a listener callback.
func (h *Handle) Close() error {
	h.mu.Lock()
	if !h.closed.CompareAndSwap(false, true) {
		h.mu.Unlock()
		return nil
	}
	var errs []error
	for p := range h.listening {
		if err := h.entry.stopListening(p); err != nil && !errors.Is(err, link.ErrClosed) {
			errs = append(errs, err)
		}
	}
	h.listening = nil
	for _, r := range h.pins {
		h.entry.link.RemovePinListener(r.pin, r.listener)
	}
	h.pins = nil
	h.mu.Unlock()

	h.cache.release(h.entry)
	return errors.Join(errs...)
}

func (e *entry) startListening(p pin.Pin) error {
	e.listenMu.Lock()
	defer e.listenMu.Unlock()
	if e.listening[p] == 0 {
		if err := e.link.StartListening(p); err != nil {
			return err
		}
	}
	e.listening[p]++
	return nil
}

func (e *entry) stopListening(p pin.Pin) error {
	e.listenMu.Lock()
	defer e.listenMu.Unlock()
	switch e.listening[p] {
	case 0:
		return nil
	case 1:
		delete(e.listening, p)
		return e.link.StopListening(p)
	default:
		e.listening[p]--
		return nil
	}
}
