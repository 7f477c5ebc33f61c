package link

import (
	"context"
	"time"

	"github.com/shaunagostinho/ardulink-go/internal/connection"
	"github.com/shaunagostinho/ardulink-go/internal/proto"
)

// Mode selects what WaitForReady accepts as a sign of life.
type Mode int

const (
	// AnyMessageReceived accepts any received byte.
	AnyMessageReceived Mode = iota
	// ReadyMessageOnly accepts only the device's ready frame.
	ReadyMessageOnly
)

func (m Mode) String() string {
	if m == ReadyMessageOnly {
		return "ready-message-only"
	}
	return "any-message-received"
}

// probeID is the correlation id carried by the readiness probe.
const probeID = 0

// WaitForReady blocks until the device signals readiness (or, in
// AnyMessageReceived mode, sends anything), until timeout elapses, or until
// ctx is done. It reports whether the device answered.
//
// A probe the device answers to is re-sent every probe interval, because a
// booting device may miss the first one. The probe is sent in both modes;
// in ReadyMessageOnly mode its reply does not count. Both temporary
// listeners are removed before WaitForReady returns.
func (l *Link) WaitForReady(ctx context.Context, timeout time.Duration, mode Mode) bool {
	signal := make(chan struct{}, 1)
	notify := func() {
		select {
		case signal <- struct{}{}:
		default:
		}
	}

	bytesListener := connection.OnReceive(func([]byte) {
		if mode == AnyMessageReceived {
			notify()
		}
	})
	readyListener := &ConnectionEvents{OnReady: notify}

	if err := l.AddConnectionListener(readyListener); err != nil {
		return false
	}
	defer l.RemoveConnectionListener(readyListener)
	l.conn.AddListener(bytesListener)
	defer l.conn.RemoveListener(bytesListener)

	start := time.Now()
	for {
		l.probe()

		remaining := timeout - time.Since(start)
		if remaining <= 0 {
			return false
		}
		slice := l.probeInterval
		if remaining < slice {
			slice = remaining
		}

		timer := time.NewTimer(slice)
		select {
		case <-signal:
			timer.Stop()
			l.log.Debug().Dur("after", time.Since(start)).Str("mode", mode.String()).Msg("device answered")
			return true
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}

		if time.Since(start) >= timeout {
			l.log.Warn().Dur("timeout", timeout).Str("mode", mode.String()).Msg("device did not answer")
			return false
		}
	}
}

// probe is best effort; failures are ignored.
func (l *Link) probe() {
	if err := l.Send(proto.NoOp{ID: proto.WithID(probeID)}); err != nil {
		l.log.Debug().Err(err).Msg("probe not sent")
	}
}
