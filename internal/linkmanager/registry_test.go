package linkmanager

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaunagostinho/ardulink-go/internal/connection"
	"github.com/shaunagostinho/ardulink-go/internal/link"
	"github.com/shaunagostinho/ardulink-go/internal/pin"
	"github.com/shaunagostinho/ardulink-go/internal/proto"
)

func dummyFactory(name string) Factory {
	return Factory{
		Name: name,
		Attributes: []Attribute{
			{Name: "a", Choices: func() []string { return []string{"aVal1", "aVal2"} }},
			{Name: "b", Kind: Int, Default: "42"},
			{Name: "c"},
			protoAttribute(),
		},
		Open: func(ctx context.Context, cfg Config) (*link.Link, error) {
			return link.New(connection.NewStub(), proto.ALP{}), nil
		},
	}
}

func TestParseAddress(t *testing.T) {
	addr, err := ParseAddress("ardulink://Dummy?a=&b=42")
	require.NoError(t, err)
	assert.Equal(t, "dummy", addr.Name)
	assert.Equal(t, map[string]string{"a": "", "b": "42"}, addr.Params)
	assert.Equal(t, "ardulink://dummy?a=&b=42", addr.String())

	addr, err = ParseAddress("ardulink://serial")
	require.NoError(t, err)
	assert.Empty(t, addr.Params)
}

func TestParseAddressInvalid(t *testing.T) {
	for _, s := range []string{
		"",
		"dummy",
		"http://dummy",
		"ardulink://",
		"ardulink://dummy/extra",
		"ardulink://dummy:80",
		"ardulink://dummy?a=1&a=2",
		"ardulink://dummy#frag",
	} {
		_, err := ParseAddress(s)
		assert.ErrorIs(t, err, ErrAddress, s)
	}
}

func TestConfigureAppliesDefaults(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(dummyFactory("dummy")))

	f, cfg, err := r.Resolve("ardulink://dummy?a=&b=42")
	require.NoError(t, err)
	assert.Equal(t, "dummy", f.Name)
	assert.Equal(t, "aVal1", cfg.String("a"))
	assert.Equal(t, 42, cfg.Int("b"))
	assert.Equal(t, "", cfg.String("c"))
	assert.Equal(t, "alp", cfg.String(AttrProto))
	assert.Equal(t, "dummy?a=aVal1&b=42&c=&proto=alp", cfg.Key())

	_, bare, err := r.Resolve("ardulink://dummy")
	require.NoError(t, err)
	assert.Equal(t, cfg.Key(), bare.Key())
}

func TestConfigureNormalizes(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Factory{
		Name: "typed",
		Attributes: []Attribute{
			{Name: "n", Kind: Int},
			{Name: "on", Kind: Bool, Default: "false"},
			{Name: "every", Kind: Duration, Default: "1s"},
		},
		Open: func(context.Context, Config) (*link.Link, error) { return nil, nil },
	}))

	_, cfg, err := r.Configure("typed", map[string]string{"n": " 007 ", "on": "TRUE", "every": "1500ms"})
	require.NoError(t, err)
	assert.Equal(t, "7", cfg.String("n"))
	assert.True(t, cfg.Bool("on"))
	assert.Equal(t, 1500*time.Millisecond, cfg.Duration("every"))
	assert.Equal(t, "typed?every=1.5s&n=7&on=true", cfg.Key())
}

func TestConfigureRejects(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(dummyFactory("dummy")))

	for name, attrs := range map[string]map[string]string{
		"unknown attribute": {"zzz": "1"},
		"not an int":        {"b": "forty"},
		"bad choice":        {"a": "aVal3"},
		"bad proto":         {AttrProto: "firmata"},
	} {
		_, _, err := r.Configure("dummy", attrs)
		assert.ErrorIs(t, err, ErrAddress, name)
	}

	_, _, err := r.Configure("nope", nil)
	assert.ErrorIs(t, err, ErrAddress)
}

func TestRegisterConflicts(t *testing.T) {
	r := NewRegistry()
	f := dummyFactory("dummy")
	f.Aliases = []string{"dummy-alias"}
	require.NoError(t, r.Register(f))

	assert.Error(t, r.Register(dummyFactory("DUMMY")))
	assert.Error(t, r.Register(dummyFactory("dummy-alias")))
	assert.Error(t, r.Register(dummyFactory("default")))
	assert.Error(t, r.Register(Factory{Name: "noopen"}))
	assert.Error(t, r.Register(Factory{
		Name:       "dup",
		Attributes: []Attribute{{Name: "x"}, {Name: "x"}},
		Open:       func(context.Context, Config) (*link.Link, error) { return nil, nil },
	}))

	got, err := r.Lookup("Dummy-Alias")
	require.NoError(t, err)
	assert.Equal(t, "dummy", got.Name)
}

func TestDefaultResolution(t *testing.T) {
	r := NewRegistry()
	_, err := r.Lookup(DefaultName)
	assert.ErrorIs(t, err, ErrAddress)

	require.NoError(t, r.Register(dummyFactory("dummy")))
	require.NoError(t, r.Register(dummyFactory("dummy2")))
	f, err := r.Lookup(DefaultName)
	require.NoError(t, err)
	assert.Equal(t, "dummy", f.Name, "first registered")

	require.NoError(t, r.SetDefault("dummy2"))
	f, err = r.Lookup("DEFAULT")
	require.NoError(t, err)
	assert.Equal(t, "dummy2", f.Name)

	assert.ErrorIs(t, r.SetDefault("missing"), ErrAddress)
	assert.Equal(t, []string{"dummy", "dummy2"}, r.Names())
}

func TestBuiltin(t *testing.T) {
	r := Builtin()
	assert.Equal(t, []string{"serial", "tcp", "virtual", "ws"}, r.Names())

	f, err := r.Lookup(DefaultName)
	require.NoError(t, err)
	assert.Equal(t, "serial", f.Name)

	_, cfg, err := r.Resolve("ardulink://tcp?host=device.local")
	require.NoError(t, err)
	assert.Equal(t, "tcp?host=device.local&port=4478&proto=alp&reconnect=false&timeout=5s", cfg.Key())

	_, _, err = r.Resolve("ardulink://ws")
	require.NoError(t, err, "url is free text and validated on open")
}

func TestBuiltinWebSocketNeedsURL(t *testing.T) {
	f, cfg, err := Builtin().Resolve("ardulink://websocket")
	require.NoError(t, err)
	_, err = f.Open(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrAddress)
}

func TestBuiltinVirtual(t *testing.T) {
	f, cfg, err := Builtin().Resolve("ardulink://demo?bootdelay=10ms&tick=5ms")
	require.NoError(t, err)
	assert.Equal(t, "virtual", f.Name)

	l, err := f.Open(context.Background(), cfg)
	require.NoError(t, err)
	defer l.Close()
	assert.True(t, l.WaitForReady(context.Background(), time.Second, link.ReadyMessageOnly))
}

func TestConfigURIRoundTrip(t *testing.T) {
	r := Builtin()
	_, cfg, err := r.Resolve("ardulink://virtual?tick=250ms")
	require.NoError(t, err)

	_, again, err := r.Resolve(cfg.URI())
	require.NoError(t, err)
	assert.Equal(t, cfg.Key(), again.Key())
	assert.Equal(t, cfg.Values(), again.Values())
}

func TestBuiltinTCPOpen(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	written := make(chan string, 4)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		line, err := bufio.NewReader(conn).ReadString('\n')
		if err != nil {
			return
		}
		written <- line
		conn.Write([]byte("alp://ared/3/512\n"))
		// Hold the connection until the client hangs up.
		io.Copy(io.Discard, conn)
	}()

	f, cfg, err := Builtin().Resolve(fmt.Sprintf("ardulink://tcp?host=127.0.0.1&port=%d", port))
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("tcp?host=127.0.0.1&port=%d&proto=alp&reconnect=false&timeout=5s", port), cfg.Key())

	l, err := f.Open(context.Background(), cfg)
	require.NoError(t, err)
	defer l.Close()

	got := make(chan proto.PinChanged, 1)
	require.NoError(t, l.AddPinListener(pin.AnalogPin(3), link.OnPinChanged(func(e proto.PinChanged) { got <- e })))
	require.NoError(t, l.StartListening(pin.AnalogPin(3)))

	select {
	case line := <-written:
		assert.Equal(t, "alp://srla/3\n", line)
	case <-time.After(time.Second):
		t.Fatal("device got nothing")
	}
	select {
	case e := <-got:
		assert.Equal(t, proto.PinChanged{Pin: pin.AnalogPin(3), Value: 512}, e)
	case <-time.After(time.Second):
		t.Fatal("no pin event")
	}
}
