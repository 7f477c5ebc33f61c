package connection

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/shaunagostinho/ardulink-go/internal/observability"
)

const readBufferSize = 256

// Stream adapts any io.ReadWriteCloser. One goroutine reads from it and
// delivers chunks to the listeners. A Read that returns (0, nil), as a
// serial port does on read timeout, is simply retried.
type Stream struct {
	name      string
	rwc       io.ReadWriteCloser
	listeners Listeners
	log       zerolog.Logger

	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

// NewStream starts reading from rwc. name only appears in logs and errors.
func NewStream(name string, rwc io.ReadWriteCloser) *Stream {
	s := &Stream{
		name: name,
		rwc:  rwc,
		log:  observability.Component("stream").With().Str("conn", name).Logger(),
		done: make(chan struct{}),
	}
	go s.readLoop()
	return s
}

func (s *Stream) readLoop() {
	defer close(s.done)
	buf := make([]byte, readBufferSize)
	for {
		n, err := s.rwc.Read(buf)
		if s.closed.Load() {
			return
		}
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.listeners.Deliver(chunk)
		}
		if err != nil {
			s.log.Warn().Err(err).Msg("receive failed")
			s.listeners.Lost(fmt.Errorf("%s: %w", s.name, err))
			return
		}
	}
}

func (s *Stream) Write(p []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.rwc.Write(p); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrWrite, s.name, err)
	}
	return nil
}

func (s *Stream) AddListener(l Listener)    { s.listeners.Add(l) }
func (s *Stream) RemoveListener(l Listener) { s.listeners.Remove(l) }

// Close closes the underlying transport once. When it returns no listener
// is running or will be called again.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.closeErr = s.rwc.Close()
		s.listeners.Clear()
		s.log.Debug().Msg("closed")
	})
	return s.closeErr
}

// Done is closed when the read goroutine has exited.
func (s *Stream) Done() <-chan struct{} { return s.done }
