package connection

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/shaunagostinho/ardulink-go/internal/frame"
	"github.com/shaunagostinho/ardulink-go/internal/observability"
	"github.com/shaunagostinho/ardulink-go/internal/pin"
	"github.com/shaunagostinho/ardulink-go/internal/proto"
)

// VirtualConfig tunes the simulated device.
type VirtualConfig struct {
	// BootDelay is how long the device takes before announcing ready.
	BootDelay time.Duration
	// Tick is the interval between simulated analog readings.
	Tick time.Duration
}

const virtualQueueSize = 64

// Virtual is an in-process simulated device. It decodes the commands it
// receives, answers messages carrying an id with an ok reply, announces
// readiness after BootDelay, and streams values for listened pins: analog
// pins follow a noisy sine wave, digital pins echo what was last written.
// Output is delivered from the device's own goroutine.
type Virtual struct {
	proto     proto.Protocol
	cfg       VirtualConfig
	listeners Listeners
	log       zerolog.Logger

	mu        sync.Mutex
	in        frame.Buffer
	listening map[pin.Pin]bool
	values    map[pin.Pin]int
	t         float64 // virtual time accumulator
	closed    bool

	out  chan []byte
	quit chan struct{}
	done chan struct{}
}

// NewVirtual boots a simulated device speaking p.
func NewVirtual(p proto.Protocol, cfg VirtualConfig) *Virtual {
	if cfg.Tick <= 0 {
		cfg.Tick = 100 * time.Millisecond
	}
	v := &Virtual{
		proto:     p,
		cfg:       cfg,
		log:       observability.Component("virtual"),
		listening: make(map[pin.Pin]bool),
		values:    make(map[pin.Pin]int),
		out:       make(chan []byte, virtualQueueSize),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go v.run()
	return v
}

func (v *Virtual) run() {
	defer close(v.done)

	boot := time.NewTimer(v.cfg.BootDelay)
	defer boot.Stop()
	ticker := time.NewTicker(v.cfg.Tick)
	defer ticker.Stop()

	booted := false
	for {
		select {
		case <-v.quit:
			return
		case <-boot.C:
			booted = true
			v.emit(proto.Ready{})
			v.log.Debug().Msg("booted")
		case data := <-v.out:
			v.listeners.Deliver(data)
		case <-ticker.C:
			if booted {
				v.simulate()
			}
		}
	}
}

// simulate advances virtual time and reports analog pins that changed.
func (v *Virtual) simulate() {
	v.mu.Lock()
	v.t += v.cfg.Tick.Seconds()
	var changed []proto.PinChanged
	for p := range v.listening {
		if !p.IsAnalog() {
			continue
		}
		phase := v.t*0.3 + float64(p.Index)
		val := int(512 + 400*math.Sin(phase) + rand.Float64()*8)
		if val < 0 {
			val = 0
		}
		if val > 1023 {
			val = 1023
		}
		if v.values[p] != val {
			v.values[p] = val
			changed = append(changed, proto.PinChanged{Pin: p, Value: val})
		}
	}
	v.mu.Unlock()

	for _, c := range changed {
		v.emit(c)
	}
}

// emit encodes msg and queues it. Called with v.mu not held.
func (v *Virtual) emit(msg proto.FromDevice) {
	data, err := v.proto.EncodeEvent(msg)
	if err != nil {
		v.log.Error().Err(err).Msg("encode failed")
		return
	}
	select {
	case v.out <- data:
	case <-v.quit:
	default:
		v.log.Warn().Msg("output queue full, dropping event")
	}
}

func (v *Virtual) Write(p []byte) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrClosed
	}
	v.in.Append(p)
	var cmds []proto.ToDevice
	for {
		f, ok := v.in.Next(v.proto.Delimiter())
		if !ok {
			break
		}
		cmd, err := v.proto.DecodeCommand(f)
		if err != nil {
			v.log.Warn().Err(err).Msg("ignoring command")
			continue
		}
		cmds = append(cmds, cmd)
	}
	v.mu.Unlock()

	for _, cmd := range cmds {
		v.handle(cmd)
	}
	return nil
}

func (v *Virtual) handle(cmd proto.ToDevice) {
	var (
		id     proto.MessageID
		events []proto.FromDevice
	)
	v.mu.Lock()
	switch c := cmd.(type) {
	case proto.PinWrite:
		id = c.ID
		v.values[c.Pin] = c.Value
		if v.listening[c.Pin] {
			events = append(events, proto.PinChanged{Pin: c.Pin, Value: c.Value})
		}
	case proto.StartListening:
		id = c.ID
		v.listening[c.Pin] = true
		events = append(events, proto.PinChanged{Pin: c.Pin, Value: v.values[c.Pin]})
	case proto.StopListening:
		id = c.ID
		delete(v.listening, c.Pin)
	case proto.Custom:
		id = c.ID
	case proto.Tone:
		id = c.ID
	case proto.NoTone:
		id = c.ID
	case proto.NoOp:
		id = c.ID
	}
	v.mu.Unlock()

	for _, e := range events {
		v.emit(e)
	}
	if id.Valid {
		v.emit(proto.Reply{OK: true, ID: id})
	}
}

func (v *Virtual) AddListener(l Listener)    { v.listeners.Add(l) }
func (v *Virtual) RemoveListener(l Listener) { v.listeners.Remove(l) }

// Close stops the device. It waits for the device goroutine so no listener
// is called after Close returns.
func (v *Virtual) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	v.mu.Unlock()

	close(v.quit)
	<-v.done
	v.listeners.Clear()
	return nil
}
