package linkmanager

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/shaunagostinho/ardulink-go/internal/connection"
	"github.com/shaunagostinho/ardulink-go/internal/link"
	"github.com/shaunagostinho/ardulink-go/internal/proto"
)

// Attribute names shared by the builtin factories.
const (
	AttrProto     = "proto"
	AttrReconnect = "reconnect"
	AttrTimeout   = "timeout"
)

func protoAttribute() Attribute {
	return Attribute{
		Name:        AttrProto,
		Description: "wire protocol",
		Default:     "alp",
		Choices:     proto.Names,
	}
}

func reconnectAttribute() Attribute {
	return Attribute{
		Name:        AttrReconnect,
		Kind:        Bool,
		Description: "redial with backoff when the transport fails",
		Default:     "false",
	}
}

func timeoutAttribute() Attribute {
	return Attribute{
		Name:        AttrTimeout,
		Kind:        Duration,
		Description: "connect timeout",
		Default:     "5s",
	}
}

// Builtin returns a registry with the serial, tcp, ws and virtual
// factories. serial is the default.
func Builtin() *Registry {
	r := NewRegistry()
	for _, f := range []Factory{serialFactory(), tcpFactory(), wsFactory(), virtualFactory()} {
		if err := r.Register(f); err != nil {
			panic(err)
		}
	}
	if err := r.SetDefault("serial"); err != nil {
		panic(err)
	}
	return r
}

func serialFactory() Factory {
	return Factory{
		Name:    "serial",
		Aliases: []string{"serial-jssc"},
		Attributes: []Attribute{
			{Name: "port", Description: "serial device", Choices: connection.SerialPorts, AllowOther: true},
			{Name: "baudrate", Kind: Int, Description: "line speed", Default: "115200"},
			{Name: "reset", Kind: Bool, Description: "pulse DTR after opening", Default: "false"},
			protoAttribute(),
			reconnectAttribute(),
		},
		Open: func(ctx context.Context, cfg Config) (*link.Link, error) {
			sc := connection.SerialConfig{
				Port:        cfg.String("port"),
				BaudRate:    cfg.Int("baudrate"),
				ResetOnOpen: cfg.Bool("reset"),
			}
			if sc.Port == "" {
				return nil, fmt.Errorf("%w: serial: no port given and none detected", ErrAddress)
			}
			return open(ctx, cfg, "serial:"+sc.Port, func(context.Context) (connection.Connection, error) {
				c, err := connection.OpenSerial(sc)
				if err != nil {
					return nil, err
				}
				return c, nil
			})
		},
	}
}

func tcpFactory() Factory {
	return Factory{
		Name: "tcp",
		Attributes: []Attribute{
			{Name: "host", Description: "device bridge host", Default: "127.0.0.1"},
			{Name: "port", Kind: Int, Description: "device bridge port", Default: "4478"},
			timeoutAttribute(),
			protoAttribute(),
			reconnectAttribute(),
		},
		Open: func(ctx context.Context, cfg Config) (*link.Link, error) {
			addr := net.JoinHostPort(cfg.String("host"), strconv.Itoa(cfg.Int("port")))
			timeout := cfg.Duration(AttrTimeout)
			return open(ctx, cfg, "tcp:"+addr, func(ctx context.Context) (connection.Connection, error) {
				c, err := connection.DialTCP(ctx, addr, timeout)
				if err != nil {
					return nil, err
				}
				return c, nil
			})
		},
	}
}

func wsFactory() Factory {
	return Factory{
		Name:    "ws",
		Aliases: []string{"websocket"},
		Attributes: []Attribute{
			{Name: "url", Description: "websocket endpoint, ws:// or wss://"},
			timeoutAttribute(),
			protoAttribute(),
			reconnectAttribute(),
		},
		Open: func(ctx context.Context, cfg Config) (*link.Link, error) {
			url := cfg.String("url")
			if url == "" {
				return nil, fmt.Errorf("%w: ws: url is required", ErrAddress)
			}
			timeout := cfg.Duration(AttrTimeout)
			return open(ctx, cfg, "ws:"+url, func(ctx context.Context) (connection.Connection, error) {
				c, err := connection.DialWebSocket(ctx, url, timeout)
				if err != nil {
					return nil, err
				}
				return c, nil
			})
		},
	}
}

func virtualFactory() Factory {
	return Factory{
		Name:    "virtual",
		Aliases: []string{"demo"},
		Attributes: []Attribute{
			{Name: "bootdelay", Kind: Duration, Description: "time until the ready frame", Default: "500ms"},
			{Name: "tick", Kind: Duration, Description: "simulated sample interval", Default: "100ms"},
			protoAttribute(),
		},
		Open: func(ctx context.Context, cfg Config) (*link.Link, error) {
			p, err := protocol(cfg)
			if err != nil {
				return nil, err
			}
			v := connection.NewVirtual(p, connection.VirtualConfig{
				BootDelay: cfg.Duration("bootdelay"),
				Tick:      cfg.Duration("tick"),
			})
			return link.New(v, p), nil
		},
	}
}

func protocol(cfg Config) (proto.Protocol, error) {
	name := cfg.String(AttrProto)
	p, ok := proto.ByName(name)
	if !ok {
		return nil, fmt.Errorf("%w: unknown protocol %q", ErrAddress, name)
	}
	return p, nil
}

// open dials once, optionally behind a reconnecting wrapper, and wraps the
// connection in a link.
func open(ctx context.Context, cfg Config, name string, dial connection.Dialer) (*link.Link, error) {
	p, err := protocol(cfg)
	if err != nil {
		return nil, err
	}
	var conn connection.Connection
	if cfg.Bool(AttrReconnect) {
		conn, err = connection.NewReconnecting(ctx, name, dial)
	} else {
		conn, err = dial(ctx)
	}
	if err != nil {
		return nil, err
	}
	return link.New(conn, p), nil
}
