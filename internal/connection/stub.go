package connection

import (
	"sync"
)

// Stub is an in-memory Connection. It records writes, lets tests inject
// device bytes, and counts Close calls. Delivery happens on the goroutine
// calling Inject.
type Stub struct {
	listeners Listeners

	mu         sync.Mutex
	writes     [][]byte
	closeCount int
	failWrites bool
	onWrite    func(p []byte)
}

// NewStub returns an open stub.
func NewStub() *Stub { return &Stub{} }

func (s *Stub) Write(p []byte) error {
	s.mu.Lock()
	if s.closeCount > 0 {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.failWrites {
		s.mu.Unlock()
		return ErrWrite
	}
	s.writes = append(s.writes, append([]byte(nil), p...))
	hook := s.onWrite
	s.mu.Unlock()

	if hook != nil {
		hook(p)
	}
	return nil
}

func (s *Stub) AddListener(l Listener)    { s.listeners.Add(l) }
func (s *Stub) RemoveListener(l Listener) { s.listeners.Remove(l) }

// Close counts every call so tests can assert it happened exactly once.
func (s *Stub) Close() error {
	s.mu.Lock()
	s.closeCount++
	s.mu.Unlock()
	s.listeners.Clear()
	return nil
}

// Inject delivers data as if the device had sent it.
func (s *Stub) Inject(data []byte) { s.listeners.Deliver(data) }

// Lose reports a receive-side failure to state listeners.
func (s *Stub) Lose(err error) { s.listeners.Lost(err) }

// Recover reports a recovered transport to state listeners.
func (s *Stub) Recover() { s.listeners.Reconnected() }

// FailWrites makes subsequent writes fail with ErrWrite.
func (s *Stub) FailWrites(fail bool) {
	s.mu.Lock()
	s.failWrites = fail
	s.mu.Unlock()
}

// OnWrite installs a hook called after every successful write.
func (s *Stub) OnWrite(fn func(p []byte)) {
	s.mu.Lock()
	s.onWrite = fn
	s.mu.Unlock()
}

// Writes returns copies of all written chunks in order.
func (s *Stub) Writes() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.writes))
	copy(out, s.writes)
	return out
}

// Written returns all written bytes as one string.
func (s *Stub) Written() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for _, w := range s.writes {
		n += len(w)
	}
	buf := make([]byte, 0, n)
	for _, w := range s.writes {
		buf = append(buf, w...)
	}
	return string(buf)
}

// CloseCount reports how often Close was called.
func (s *Stub) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCount
}

// ListenerCount reports the number of registered listeners.
func (s *Stub) ListenerCount() int { return s.listeners.Len() }
