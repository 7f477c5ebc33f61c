package main

import (
	"errors"
	"sync"

	"github.com/shaunagostinho/ardulink-go/internal/link"
	"github.com/shaunagostinho/ardulink-go/internal/links"
	"github.com/shaunagostinho/ardulink-go/internal/pin"
)

// device is the handle the server and the MQTT bridge drive. Listening on
// a pin also routes its events to every sink; stopping removes them again.
type device struct {
	*links.Handle

	mu    sync.Mutex
	sinks []link.PinListener
	on    map[pin.Pin]bool
}

func newDevice(h *links.Handle) *device {
	return &device{Handle: h, on: make(map[pin.Pin]bool)}
}

// addSink must be called before the first StartListening.
func (d *device) addSink(l link.PinListener) {
	d.mu.Lock()
	d.sinks = append(d.sinks, l)
	d.mu.Unlock()
}

func (d *device) StartListening(p pin.Pin) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.on[p] {
		return nil
	}
	for _, s := range d.sinks {
		if err := d.Handle.AddPinListener(p, s); err != nil {
			d.removeSinks(p)
			return err
		}
	}
	if err := d.Handle.StartListening(p); err != nil {
		d.removeSinks(p)
		return err
	}
	d.on[p] = true
	return nil
}

func (d *device) StopListening(p pin.Pin) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	err := d.Handle.StopListening(p)
	if errors.Is(err, links.ErrHandleClosed) {
		return err
	}
	d.removeSinks(p)
	delete(d.on, p)
	return err
}

func (d *device) removeSinks(p pin.Pin) {
	for _, s := range d.sinks {
		d.Handle.RemovePinListener(p, s)
	}
}
