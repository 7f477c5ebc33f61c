package link

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaunagostinho/ardulink-go/internal/connection"
	"github.com/shaunagostinho/ardulink-go/internal/pin"
	"github.com/shaunagostinho/ardulink-go/internal/proto"
)

func newTestLink(t *testing.T, opts ...Option) (*Link, *connection.Stub) {
	t.Helper()
	stub := connection.NewStub()
	l := New(stub, proto.ALP{}, opts...)
	t.Cleanup(func() { l.Close() })
	return l, stub
}

type pinEvents struct {
	mu     sync.Mutex
	events []proto.PinChanged
}

func (p *pinEvents) PinChanged(e proto.PinChanged) {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
}

func (p *pinEvents) all() []proto.PinChanged {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]proto.PinChanged(nil), p.events...)
}

func TestAnalogEventReachesListener(t *testing.T) {
	l, stub := newTestLink(t)
	a3 := &pinEvents{}
	require.NoError(t, l.AddPinListener(pin.AnalogPin(3), a3))

	stub.Inject([]byte("alp://ared/3/512\n"))

	assert.Equal(t, []proto.PinChanged{{Pin: pin.AnalogPin(3), Value: 512}}, a3.all())
}

func TestFramesSplitAcrossChunks(t *testing.T) {
	l, stub := newTestLink(t)
	d2 := &pinEvents{}
	require.NoError(t, l.AddPinListener(pin.DigitalPin(2), d2))

	for _, chunk := range []string{"alp://dr", "ed/2/1\nalp://dred/", "2/0\nalp://dred/2/1", "\n"} {
		stub.Inject([]byte(chunk))
	}

	var values []int
	for _, e := range d2.all() {
		values = append(values, e.Value)
	}
	assert.Equal(t, []int{1, 0, 1}, values)
}

func TestEventsForOtherPinsAreDropped(t *testing.T) {
	l, stub := newTestLink(t)
	a3 := &pinEvents{}
	d3 := &pinEvents{}
	require.NoError(t, l.AddPinListener(pin.AnalogPin(3), a3))
	require.NoError(t, l.AddPinListener(pin.DigitalPin(3), d3))

	stub.Inject([]byte("alp://dred/3/1\nalp://ared/5/10\n"))

	assert.Empty(t, a3.all())
	assert.Len(t, d3.all(), 1)
}

func TestRemovePinListener(t *testing.T) {
	l, stub := newTestLink(t)
	first := &pinEvents{}
	second := &pinEvents{}
	p := pin.AnalogPin(1)
	require.NoError(t, l.AddPinListener(p, first))
	require.NoError(t, l.AddPinListener(p, second))

	l.RemovePinListener(p, first)
	l.RemovePinListener(p, first)
	l.RemovePinListener(p, &pinEvents{})
	stub.Inject([]byte("alp://ared/1/7\n"))

	assert.Empty(t, first.all())
	assert.Len(t, second.all(), 1)
}

func TestStartListeningWritesExactBytes(t *testing.T) {
	l, stub := newTestLink(t)

	require.NoError(t, l.StartListening(pin.DigitalPin(7)))

	assert.Equal(t, "alp://srld/7\n", stub.Written())
}

func TestConvenienceCommands(t *testing.T) {
	l, stub := newTestLink(t)

	require.NoError(t, l.SwitchDigitalPin(pin.DigitalPin(12), true))
	require.NoError(t, l.SwitchAnalogPin(pin.AnalogPin(9), 128))
	require.NoError(t, l.StopListening(pin.AnalogPin(0)))
	require.NoError(t, l.SendCustom("led", "on", "3"))
	require.NoError(t, l.SendTone(pin.AnalogPin(2), 440, 0))
	require.NoError(t, l.SendNoTone(pin.AnalogPin(2)))

	assert.Equal(t, strings.Join([]string{
		"alp://ppsw/12/1",
		"alp://ppin/9/128",
		"alp://spla/0",
		"alp://cust/led/on/3",
		"alp://tone/2/440/-1",
		"alp://notn/2",
	}, "\n")+"\n", stub.Written())
}

func TestSendInvalidWritesNothing(t *testing.T) {
	l, stub := newTestLink(t)

	err := l.SwitchAnalogPin(pin.AnalogPin(-1), 3)
	assert.ErrorIs(t, err, proto.ErrInvalidArgument)
	assert.Empty(t, stub.Writes())
}

func TestSendTransportFailure(t *testing.T) {
	l, stub := newTestLink(t)
	stub.FailWrites(true)

	err := l.StartListening(pin.DigitalPin(7))
	assert.ErrorIs(t, err, connection.ErrWrite)
}

func TestReplyListener(t *testing.T) {
	l, stub := newTestLink(t)
	var got []proto.Reply
	require.NoError(t, l.AddReplyListener(OnReply(func(r proto.Reply) { got = append(got, r) })))

	stub.Inject([]byte("alp://rply/ok?id=7\nalp://rply/ko?id=8\n"))

	assert.Equal(t, []proto.Reply{
		{OK: true, ID: proto.WithID(7)},
		{OK: false, ID: proto.WithID(8)},
	}, got)
}

func TestReadyAndLifecycleEvents(t *testing.T) {
	l, stub := newTestLink(t)
	var seen []string
	require.NoError(t, l.AddConnectionListener(&ConnectionEvents{
		OnReady:       func() { seen = append(seen, "ready") },
		OnLost:        func(error) { seen = append(seen, "lost") },
		OnReconnected: func() { seen = append(seen, "reconnected") },
	}))

	stub.Inject([]byte("alp://ready/\n"))
	stub.Lose(errors.New("unplugged"))
	stub.Recover()

	assert.Equal(t, []string{"ready", "lost", "reconnected"}, seen)
}

func TestDecodeErrorStopsReceivePath(t *testing.T) {
	l, stub := newTestLink(t)
	a0 := &pinEvents{}
	require.NoError(t, l.AddPinListener(pin.AnalogPin(0), a0))
	var lost error
	require.NoError(t, l.AddConnectionListener(&ConnectionEvents{OnLost: func(err error) { lost = err }}))

	stub.Inject([]byte("garbage\nalp://ared/0/1\n"))

	require.Error(t, lost)
	assert.ErrorIs(t, l.Err(), proto.ErrUnrecognized)
	assert.Empty(t, a0.all())

	stub.Inject([]byte("alp://ared/0/2\n"))
	assert.Empty(t, a0.all())

	// A new transport resumes decoding.
	stub.Recover()
	assert.NoError(t, l.Err())
	stub.Inject([]byte("alp://ared/0/3\n"))
	assert.Len(t, a0.all(), 1)
}

func TestClose(t *testing.T) {
	l, stub := newTestLink(t)
	a0 := &pinEvents{}
	require.NoError(t, l.AddPinListener(pin.AnalogPin(0), a0))

	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	assert.True(t, l.Closed())
	assert.Equal(t, 1, stub.CloseCount())
	assert.Equal(t, 0, stub.ListenerCount())
	assert.ErrorIs(t, l.StartListening(pin.AnalogPin(0)), ErrClosed)
	assert.ErrorIs(t, l.AddPinListener(pin.AnalogPin(0), a0), ErrClosed)
	assert.ErrorIs(t, l.AddReplyListener(OnReply(func(proto.Reply) {})), ErrClosed)
	assert.ErrorIs(t, l.AddConnectionListener(&ConnectionEvents{}), ErrClosed)
}

func TestLinkIDsAreUnique(t *testing.T) {
	a, _ := newTestLink(t)
	b, _ := newTestLink(t)
	assert.NotEmpty(t, a.ID())
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestWaitForReadyAnyMessage(t *testing.T) {
	l, stub := newTestLink(t, WithProbeInterval(10*time.Millisecond))
	stub.OnWrite(func(p []byte) {
		go stub.Inject([]byte("alp://rply/ok?id=0\n"))
	})

	assert.True(t, l.WaitForReady(context.Background(), time.Second, AnyMessageReceived))
	assert.Equal(t, 1, stub.ListenerCount(), "temporary listener left behind")
}

func TestWaitForReadyIgnoresOtherFramesInReadyOnlyMode(t *testing.T) {
	l, stub := newTestLink(t, WithProbeInterval(10*time.Millisecond))
	stub.OnWrite(func(p []byte) {
		go stub.Inject([]byte("alp://rply/ok?id=0\n"))
	})

	start := time.Now()
	assert.False(t, l.WaitForReady(context.Background(), 80*time.Millisecond, ReadyMessageOnly))
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestWaitForReadyReadyFrame(t *testing.T) {
	l, stub := newTestLink(t, WithProbeInterval(10*time.Millisecond))
	go func() {
		time.Sleep(30 * time.Millisecond)
		stub.Inject([]byte("alp://ready/\n"))
	}()

	assert.True(t, l.WaitForReady(context.Background(), time.Second, ReadyMessageOnly))
}

func TestWaitForReadyReprobes(t *testing.T) {
	l, stub := newTestLink(t, WithProbeInterval(10*time.Millisecond))

	assert.False(t, l.WaitForReady(context.Background(), 55*time.Millisecond, AnyMessageReceived))

	probes := stub.Writes()
	require.GreaterOrEqual(t, len(probes), 3)
	for _, p := range probes {
		assert.Equal(t, "alp://notn/0?id=0\n", string(p))
	}
}

func TestWaitForReadyTimesOutWhenProbeFails(t *testing.T) {
	l, stub := newTestLink(t, WithProbeInterval(10*time.Millisecond))
	stub.FailWrites(true)

	assert.False(t, l.WaitForReady(context.Background(), 30*time.Millisecond, AnyMessageReceived))
}

func TestWaitForReadyCancelled(t *testing.T) {
	l, stub := newTestLink(t, WithProbeInterval(10*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	assert.False(t, l.WaitForReady(ctx, 10*time.Second, AnyMessageReceived))
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 1, stub.ListenerCount())

	// Listeners are gone: a late ready frame does not reach anything.
	stub.Inject([]byte("alp://ready/\n"))
}

func TestWaitForReadyOnClosedLink(t *testing.T) {
	l, _ := newTestLink(t)
	require.NoError(t, l.Close())
	assert.False(t, l.WaitForReady(context.Background(), time.Second, AnyMessageReceived))
}

func TestWaitForReadyAgainstVirtualDevice(t *testing.T) {
	v := connection.NewVirtual(proto.ALP{}, connection.VirtualConfig{BootDelay: 20 * time.Millisecond})
	l := New(v, proto.ALP{}, WithProbeInterval(10*time.Millisecond))
	defer l.Close()

	assert.True(t, l.WaitForReady(context.Background(), time.Second, ReadyMessageOnly))

	d4 := &pinEvents{}
	require.NoError(t, l.AddPinListener(pin.DigitalPin(4), d4))
	require.NoError(t, l.SwitchDigitalPin(pin.DigitalPin(4), true))
	require.NoError(t, l.StartListening(pin.DigitalPin(4)))
	require.Eventually(t, func() bool {
		for _, e := range d4.all() {
			if e.Value == 1 {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestCloseFromListenerGoroutine(t *testing.T) {
	l, stub := newTestLink(t)
	require.NoError(t, l.AddPinListener(pin.DigitalPin(2), OnPinChanged(func(proto.PinChanged) {
		go l.Close()
	})))

	stub.Inject([]byte("alp://dred/2/1\n"))

	require.Eventually(t, l.Closed, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return stub.CloseCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, stub.ListenerCount())
}
