package connection

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/shaunagostinho/ardulink-go/internal/observability"
)

// DialTCP connects to a device bridge speaking the protocol over a plain
// TCP socket.
func DialTCP(ctx context.Context, addr string, timeout time.Duration) (*Stream, error) {
	d := net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcp: failed to connect to %s: %w", addr, err)
	}
	log := observability.Component("tcp")
	log.Info().Str("addr", addr).Msg("connected")
	return NewStream("tcp:"+addr, conn), nil
}
