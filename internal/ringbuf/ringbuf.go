// Package ringbuf provides the chunked byte FIFO used for socket read and
// write buffering.
//
// Appending at the tail and consuming from the head are both O(1) amortized:
// data lives in a list of fixed-capacity chunks, the head chunk is consumed in
// place and released once empty. Released chunks are recycled through a
// sync.Pool shared by all buffers of the same chunk size.
package ringbuf

import (
	"bytes"
	"io"
	"sync"
)

// DefaultChunkSize is the chunk capacity used by New when size <= 0.
const DefaultChunkSize = 4096

var pools sync.Map // chunk size -> *sync.Pool

func poolFor(size int) *sync.Pool {
	if p, ok := pools.Load(size); ok {
		return p.(*sync.Pool)
	}
	p, _ := pools.LoadOrStore(size, &sync.Pool{
		New: func() any {
			b := make([]byte, 0, size)
			return &b
		},
	})
	return p.(*sync.Pool)
}

// Buffer is a byte FIFO. The zero value is not usable; call New.
// A Buffer is not safe for concurrent use.
type Buffer struct {
	chunks    [][]byte
	head      int // read offset into chunks[0]
	size      int
	chunkSize int
	pool      *sync.Pool
}

// New returns an empty buffer whose chunks hold chunkSize bytes.
func New(chunkSize int) *Buffer {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Buffer{
		chunkSize: chunkSize,
		pool:      poolFor(chunkSize),
	}
}

// Len returns the number of unread bytes.
func (b *Buffer) Len() int {
	return b.size
}

func (b *Buffer) getChunk() []byte {
	p := b.pool.Get().(*[]byte)
	return (*p)[:0]
}

func (b *Buffer) putChunk(c []byte) {
	if cap(c) != b.chunkSize {
		return
	}
	c = c[:0]
	b.pool.Put(&c)
}

// Write appends p at the tail. It never fails.
func (b *Buffer) Write(p []byte) (int, error) {
	n := len(p)
	for len(p) > 0 {
		dst := b.Reserve(len(p))
		c := copy(dst, p)
		p = p[c:]
	}
	return n, nil
}

// WriteString appends s at the tail.
func (b *Buffer) WriteString(s string) (int, error) {
	return b.Write([]byte(s))
}

// Reserve extends the tail by up to n bytes and returns the writable region.
// The region may be shorter than n when the tail chunk fills up; callers loop.
// Bytes that end up unused must be given back with Chop.
func (b *Buffer) Reserve(n int) []byte {
	if n <= 0 {
		return nil
	}
	last := len(b.chunks) - 1
	if last < 0 || len(b.chunks[last]) == cap(b.chunks[last]) {
		b.chunks = append(b.chunks, b.getChunk())
		last++
	}
	c := b.chunks[last]
	room := cap(c) - len(c)
	if n > room {
		n = room
	}
	start := len(c)
	b.chunks[last] = c[:start+n]
	b.size += n
	return b.chunks[last][start : start+n]
}

// Chop removes n bytes from the tail.
func (b *Buffer) Chop(n int) {
	if n >= b.size {
		b.Reset()
		return
	}
	b.size -= n
	for n > 0 {
		last := len(b.chunks) - 1
		c := b.chunks[last]
		avail := len(c)
		if last == 0 {
			avail -= b.head
		}
		if n < avail {
			b.chunks[last] = c[:len(c)-n]
			return
		}
		n -= avail
		b.chunks = b.chunks[:last]
		b.putChunk(c)
	}
}

// Peek returns the contiguous readable block at the head without consuming it.
// It returns nil when the buffer is empty.
func (b *Buffer) Peek() []byte {
	if b.size == 0 {
		return nil
	}
	return b.chunks[0][b.head:]
}

// Discard consumes n bytes from the head.
func (b *Buffer) Discard(n int) {
	if n >= b.size {
		b.Reset()
		return
	}
	b.size -= n
	for n > 0 {
		avail := len(b.chunks[0]) - b.head
		if n < avail {
			b.head += n
			return
		}
		n -= avail
		b.putChunk(b.chunks[0])
		b.chunks[0] = nil
		b.chunks = b.chunks[1:]
		b.head = 0
	}
}

// Read consumes up to len(p) bytes from the head. It returns io.EOF when the
// buffer is empty and p is not.
func (b *Buffer) Read(p []byte) (int, error) {
	if b.size == 0 {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	n := 0
	for n < len(p) && b.size > 0 {
		c := copy(p[n:], b.Peek())
		b.Discard(c)
		n += c
	}
	return n, nil
}

// IndexByte returns the offset of the first c from the head, or -1.
func (b *Buffer) IndexByte(c byte) int {
	off := 0
	for i, chunk := range b.chunks {
		if i == 0 {
			chunk = chunk[b.head:]
		}
		if j := bytes.IndexByte(chunk, c); j >= 0 {
			return off + j
		}
		off += len(chunk)
	}
	return -1
}

// CanReadLine reports whether a complete '\n'-terminated line is buffered.
func (b *Buffer) CanReadLine() bool {
	return b.IndexByte('\n') >= 0
}

// ReadLine consumes one line including its '\n' terminator. It returns false
// when no complete line is buffered.
func (b *Buffer) ReadLine() ([]byte, bool) {
	i := b.IndexByte('\n')
	if i < 0 {
		return nil, false
	}
	line := make([]byte, i+1)
	_, _ = b.Read(line)
	return line, true
}

// Bytes returns a copy of all unread bytes without consuming them.
func (b *Buffer) Bytes() []byte {
	out := make([]byte, 0, b.size)
	for i, chunk := range b.chunks {
		if i == 0 {
			chunk = chunk[b.head:]
		}
		out = append(out, chunk...)
	}
	return out
}

// Reset empties the buffer and releases its chunks.
func (b *Buffer) Reset() {
	for i, c := range b.chunks {
		b.putChunk(c)
		b.chunks[i] = nil
	}
	b.chunks = b.chunks[:0]
	b.head = 0
	b.size = 0
}
