package mqtt

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/shaunagostinho/ardulink-go/internal/observability"
	"github.com/shaunagostinho/ardulink-go/internal/pin"
	"github.com/shaunagostinho/ardulink-go/internal/proto"
)

// PinWriter is the part of a link the bridge drives.
type PinWriter interface {
	SwitchDigitalPin(p pin.Pin, on bool) error
	SwitchAnalogPin(p pin.Pin, value int) error
	StartListening(p pin.Pin) error
	StopListening(p pin.Pin) error
}

// Topic layout below the prefix:
//
//	<pin>/value/get                     published pin values
//	<pin>/value/set                     pin writes
//	system/listening/<pin>/value/set    start (true) or stop (false) reporting
const (
	valueGet     = "value/get"
	valueSet     = "value/set"
	listeningSet = "system/listening"
)

// QueueSize is how many pin events wait for the broker before new ones are
// dropped.
const QueueSize = 256

var errPayload = errors.New("bad payload")

// Bridge publishes pin events and applies pin commands.
//
// Events are queued by PinChanged and published by a goroutine started in
// Start, so a slow or absent broker never stalls the link delivering them.
type Bridge struct {
	api    ClientAPI
	dev    PinWriter
	prefix string
	log    zerolog.Logger

	events   chan proto.PinChanged
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewBridge binds dev to api under prefix.
func NewBridge(api ClientAPI, dev PinWriter, prefix string) *Bridge {
	return &Bridge{
		api:    api,
		dev:    dev,
		prefix: strings.TrimSuffix(prefix, "/"),
		log:    observability.Component("mqtt"),
		events: make(chan proto.PinChanged, QueueSize),
		done:   make(chan struct{}),
	}
}

func (b *Bridge) setTopic() string       { return b.prefix + "/+/" + valueSet }
func (b *Bridge) listeningTopic() string { return b.prefix + "/" + listeningSet + "/+/" + valueSet }

// ValueTopic is where events of p are published.
func (b *Bridge) ValueTopic(p pin.Pin) string {
	return b.prefix + "/" + p.String() + "/" + valueGet
}

// Start begins publishing queued events and subscribes to the command
// topics.
func (b *Bridge) Start() error {
	b.wg.Add(1)
	go b.publishLoop()
	if err := b.api.Subscribe(b.setTopic(), b.onSet); err != nil {
		return fmt.Errorf("mqtt: subscribe %s: %w", b.setTopic(), err)
	}
	if err := b.api.Subscribe(b.listeningTopic(), b.onListening); err != nil {
		return fmt.Errorf("mqtt: subscribe %s: %w", b.listeningTopic(), err)
	}
	return nil
}

// Stop drops the subscriptions and waits for the publisher to exit.
// Events still queued are discarded.
func (b *Bridge) Stop() error {
	err := errors.Join(
		b.api.Unsubscribe(b.setTopic()),
		b.api.Unsubscribe(b.listeningTopic()),
	)
	b.stopOnce.Do(func() { close(b.done) })
	b.wg.Wait()
	return err
}

// PinChanged queues e for publishing. It makes the bridge a link pin
// listener and never blocks: when the queue is full the event is dropped.
func (b *Bridge) PinChanged(e proto.PinChanged) {
	select {
	case b.events <- e:
	default:
		b.log.Warn().Str("pin", e.Pin.String()).Msg("publish queue full, dropping event")
	}
}

func (b *Bridge) publishLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		case e := <-b.events:
			topic := b.ValueTopic(e.Pin)
			if err := b.api.Publish(topic, []byte(strconv.Itoa(e.Value)), false); err != nil {
				b.log.Warn().Err(err).Str("topic", topic).Msg("publish failed")
			}
		}
	}
}

func (b *Bridge) onSet(_ paho.Client, msg Message) {
	p, err := b.pinFrom(msg.Topic(), "")
	if err != nil {
		b.log.Warn().Err(err).Str("topic", msg.Topic()).Msg("ignoring command")
		return
	}
	if err := b.applyValue(p, string(msg.Payload())); err != nil {
		b.log.Warn().Err(err).Str("pin", p.String()).Msg("write failed")
	}
}

func (b *Bridge) onListening(_ paho.Client, msg Message) {
	p, err := b.pinFrom(msg.Topic(), listeningSet+"/")
	if err != nil {
		b.log.Warn().Err(err).Str("topic", msg.Topic()).Msg("ignoring command")
		return
	}
	on, err := parseBool(string(msg.Payload()))
	if err != nil {
		b.log.Warn().Err(err).Str("pin", p.String()).Msg("ignoring command")
		return
	}
	if on {
		err = b.dev.StartListening(p)
	} else {
		err = b.dev.StopListening(p)
	}
	if err != nil {
		b.log.Warn().Err(err).Str("pin", p.String()).Bool("listen", on).Msg("listening change failed")
	}
}

// pinFrom extracts <pin> from <prefix>/<infix><pin>/value/set.
func (b *Bridge) pinFrom(topic, infix string) (pin.Pin, error) {
	rest, ok := strings.CutPrefix(topic, b.prefix+"/"+infix)
	if !ok {
		return pin.Pin{}, fmt.Errorf("topic outside %s", b.prefix)
	}
	name, ok := strings.CutSuffix(rest, "/"+valueSet)
	if !ok || strings.Contains(name, "/") {
		return pin.Pin{}, fmt.Errorf("unexpected topic layout")
	}
	return pin.Parse(name)
}

func (b *Bridge) applyValue(p pin.Pin, payload string) error {
	payload = strings.TrimSpace(payload)
	if p.IsDigital() {
		on, err := parseBool(payload)
		if err != nil {
			return err
		}
		return b.dev.SwitchDigitalPin(p, on)
	}
	n, err := strconv.Atoi(payload)
	if err != nil {
		return fmt.Errorf("%w: %q is not a number", errPayload, payload)
	}
	return b.dev.SwitchAnalogPin(p, n)
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "on", "high":
		return true, nil
	case "0", "false", "off", "low":
		return false, nil
	}
	return false, fmt.Errorf("%w: %q is not a switch state", errPayload, s)
}
