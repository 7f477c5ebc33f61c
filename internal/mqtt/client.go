// Package mqtt bridges a link to an MQTT broker: pin events are published
// and pin writes are accepted from subscribed topics.
package mqtt

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/shaunagostinho/ardulink-go/internal/observability"
)

// ClientAPI is the broker surface the bridge needs. It lets tests run the
// bridge without a live broker.
type ClientAPI interface {
	Subscribe(topic string, cb Handler) error
	Unsubscribe(topic string) error
	Publish(topic string, payload []byte, retain bool) error
}

// PublishTimeout bounds how long Publish waits for the broker to
// acknowledge a message.
const PublishTimeout = 5 * time.Second

// ErrTimeout is returned when the broker does not answer in time.
var ErrTimeout = errors.New("mqtt: timed out")

// Message is re-exported for handlers.
type Message = paho.Message

// Handler is the subscription callback signature.
type Handler = paho.MessageHandler

// Options configures a Client.
type Options struct {
	Broker   string // tcp://, mqtt://, ssl://, tls://, ws:// or wss://
	ClientID string // random when empty
	Username string
	Password string
	QoS      byte
}

// Client is a connected paho client.
type Client struct {
	cli paho.Client
	qos byte
	log zerolog.Logger
}

// Connect dials the broker and waits for the session.
func Connect(o Options) (*Client, error) {
	u, err := url.Parse(o.Broker)
	if err != nil {
		return nil, fmt.Errorf("mqtt: bad broker url %q: %w", o.Broker, err)
	}
	server := u.Host
	switch u.Scheme {
	case "mqtt", "tcp":
		server = "tcp://" + server
	case "ssl", "tls":
		server = "ssl://" + server
	case "ws", "wss":
		server = u.Scheme + "://" + server + u.Path
	default:
		return nil, fmt.Errorf("mqtt: unsupported broker scheme %q", u.Scheme)
	}

	log := observability.Component("mqtt")
	id := o.ClientID
	if id == "" {
		id = "ardulink-" + uuid.NewString()[:8]
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(server)
	opts.SetClientID(id)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.OnConnect = func(paho.Client) { log.Info().Str("broker", server).Msg("connected") }
	opts.OnConnectionLost = func(_ paho.Client, err error) { log.Error().Err(err).Msg("connection lost") }

	username, password := o.Username, o.Password
	if u.User != nil {
		username = u.User.Username()
		password, _ = u.User.Password()
	}
	if username != "" {
		opts.SetUsername(username)
		opts.SetPassword(password)
	}
	if u.Scheme == "ssl" || u.Scheme == "tls" || u.Scheme == "wss" {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	cli := paho.NewClient(opts)
	if t := cli.Connect(); t.Wait() && t.Error() != nil {
		return nil, fmt.Errorf("mqtt: connect %s: %w", server, t.Error())
	}
	return &Client{cli: cli, qos: o.QoS, log: log}, nil
}

func (c *Client) Subscribe(topic string, cb Handler) error {
	t := c.cli.Subscribe(topic, c.qos, cb)
	if t.Wait() && t.Error() != nil {
		return t.Error()
	}
	c.log.Info().Str("topic", topic).Msg("subscribed")
	return nil
}

// Publish sends payload and waits at most PublishTimeout for the broker.
func (c *Client) Publish(topic string, payload []byte, retain bool) error {
	t := c.cli.Publish(topic, c.qos, retain, payload)
	if !t.WaitTimeout(PublishTimeout) {
		return fmt.Errorf("mqtt: publish %s: %w", topic, ErrTimeout)
	}
	return t.Error()
}

func (c *Client) Unsubscribe(topic string) error {
	t := c.cli.Unsubscribe(topic)
	if t.Wait() && t.Error() != nil {
		return t.Error()
	}
	c.log.Info().Str("topic", topic).Msg("unsubscribed")
	return nil
}

// Close disconnects, giving in-flight messages a moment to drain.
func (c *Client) Close() {
	c.cli.Disconnect(250)
}
