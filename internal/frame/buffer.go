// Package frame extracts delimiter-terminated frames from a byte stream.
package frame

import "bytes"

// Buffer accumulates raw bytes and hands out complete frames.
// It is not safe for concurrent use.
type Buffer struct {
	data []byte
}

// Append adds p to the tail of the buffer. p is copied.
func (b *Buffer) Append(p []byte) {
	b.data = append(b.data, p...)
}

// Next removes and returns the bytes preceding the first occurrence of
// delim. The delimiter itself is consumed. If delim is not buffered yet,
// Next returns false and leaves the buffer untouched. A delimiter at
// position 0 yields an empty, non-nil frame.
func (b *Buffer) Next(delim []byte) ([]byte, bool) {
	if len(delim) == 0 {
		panic("frame: empty delimiter")
	}
	i := bytes.Index(b.data, delim)
	if i < 0 {
		return nil, false
	}
	out := make([]byte, i)
	copy(out, b.data[:i])

	rest := b.data[i+len(delim):]
	if len(rest) == 0 {
		b.data = b.data[:0]
	} else {
		b.data = append(b.data[:0], rest...)
	}
	return out, true
}

// Len reports the number of buffered bytes.
func (b *Buffer) Len() int { return len(b.data) }

// Reset discards everything buffered.
func (b *Buffer) Reset() { b.data = b.data[:0] }
