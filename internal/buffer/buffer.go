// Package buffer implements the bounded byte ring used on both sides of a
// connection: a fixed-capacity queue of octets with coalesce-on-read,
// scatter I/O against a net.Conn, and watermark queries.
package buffer

import (
	"io"
	"time"
)

// DefaultCapacity is the ring size used for a connection's client and
// server buffers unless overridden.
const DefaultCapacity = 4096

// Buffer is a fixed-capacity ring of bytes. It is not safe for concurrent
// use: callers must serialize access (the connection's decision goroutine
// is the only owner in this module).
type Buffer struct {
	data []byte
	head int // index of the first valid byte
	len  int // number of valid bytes currently stored

	txBytes uint64
	rxBytes uint64

	lastRecv time.Time

	scratch []byte // reused by Coalesce when the content wraps
}

// New allocates a Buffer with the given capacity. A capacity <= 0 uses
// DefaultCapacity.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{data: make([]byte, capacity)}
}

// Cap returns the buffer's fixed capacity.
func (b *Buffer) Cap() int { return len(b.data) }

// Len returns the number of bytes currently stored.
func (b *Buffer) Len() int { return b.len }

// Room returns the number of bytes that can still be pushed before the
// buffer is full. Room() + Len() == Cap() always holds.
func (b *Buffer) Room() int { return len(b.data) - b.len }

// TxBytes returns the total bytes ever sent from this buffer via Send.
func (b *Buffer) TxBytes() uint64 { return b.txBytes }

// RxBytes returns the total bytes ever received into this buffer via Recv
// or Push.
func (b *Buffer) RxBytes() uint64 { return b.rxBytes }

// LastRecv returns the timestamp of the most recent successful Recv/Push,
// used for the access-log duration calculation (max of both sides' last
// activity minus the connection's established timestamp).
func (b *Buffer) LastRecv() time.Time { return b.lastRecv }

func (b *Buffer) tailIndex() int {
	idx := b.head + b.len
	if idx >= len(b.data) {
		idx -= len(b.data)
	}
	return idx
}

// Push copies up to Room() bytes from p into the buffer and returns the
// number of bytes copied. It never blocks and never returns an error: a
// partial push simply means the caller holds onto the remainder.
func (b *Buffer) Push(p []byte) int {
	n := len(p)
	if room := b.Room(); n > room {
		n = room
	}
	if n == 0 {
		return 0
	}

	tail := b.tailIndex()
	first := len(b.data) - tail
	if first > n {
		first = n
	}
	copy(b.data[tail:], p[:first])
	if rest := n - first; rest > 0 {
		copy(b.data[0:], p[first:n])
	}

	b.len += n
	b.rxBytes += uint64(n)
	b.lastRecv = now()
	return n
}

// Pop discards up to n bytes from the front of the buffer and returns the
// number actually removed (capped at Len()).
func (b *Buffer) Pop(n int) int {
	if n > b.len {
		n = b.len
	}
	if n <= 0 {
		return 0
	}
	b.head += n
	if b.head >= len(b.data) {
		b.head -= len(b.data)
	}
	b.len -= n
	return n
}

// Reset discards all buffered content.
func (b *Buffer) Reset() {
	b.head = 0
	b.len = 0
}

// Coalesce returns a read-only view of the buffer's current content as one
// contiguous slice of length Len(). When the content wraps around the end
// of the ring it is linearized into an internal scratch slice; the
// returned slice is only valid until the next mutating call.
func (b *Buffer) Coalesce() []byte {
	if b.len == 0 {
		return nil
	}
	if b.head+b.len <= len(b.data) {
		return b.data[b.head : b.head+b.len]
	}
	if cap(b.scratch) < b.len {
		b.scratch = make([]byte, b.len)
	}
	b.scratch = b.scratch[:b.len]
	first := len(b.data) - b.head
	copy(b.scratch, b.data[b.head:])
	copy(b.scratch[first:], b.data[:b.len-first])
	return b.scratch
}

// Recv reads from r into the buffer's free space. It returns the number of
// bytes received (0 for a peer-closed read) and the read error, if any.
// Callers classify the error with package neterr to distinguish temporary
// conditions from permanent ones.
func (b *Buffer) Recv(r io.Reader) (int, error) {
	room := b.Room()
	if room == 0 {
		return 0, nil
	}
	tmp := make([]byte, room)
	n, err := r.Read(tmp)
	if n > 0 {
		b.Push(tmp[:n])
	}
	return n, err
}

// Send drains from the front of the buffer into w. Partial writes are
// expected and legal: only the bytes actually written are popped.
func (b *Buffer) Send(w io.Writer) (int, error) {
	if b.len == 0 {
		return 0, nil
	}
	payload := b.Coalesce()
	n, err := w.Write(payload)
	if n > 0 {
		b.Pop(n)
		b.txBytes += uint64(n)
	}
	return n, err
}

// now is a var so tests can observe deterministic LastRecv ordering without
// depending on wall-clock resolution.
var now = time.Now
