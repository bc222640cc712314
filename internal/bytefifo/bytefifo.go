// Package bytefifo provides a fixed-capacity byte queue with a
// blocking reader, connecting the frame-read completion path to a
// consumer that may sleep until data arrives.
package bytefifo

import (
	"io"
	"sync"
)

// FIFO is a single-producer single-consumer byte ring. Write never
// blocks; a full ring drops the excess. Read blocks until data is
// available or the ring is closed.
type FIFO struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	r, w   int
	n      int
	closed bool
}

func New(capacity int) *FIFO {
	f := &FIFO{buf: make([]byte, capacity)}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// Write appends p to the ring, waking any blocked reader. It returns
// the number of bytes stored, which is less than len(p) when the ring
// fills up.
func (f *FIFO) Write(p []byte) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0
	}
	stored := 0
	for _, b := range p {
		if f.n == len(f.buf) {
			break
		}
		f.buf[f.w] = b
		f.w = (f.w + 1) % len(f.buf)
		f.n++
		stored++
	}
	if stored > 0 {
		f.cond.Broadcast()
	}
	return stored
}

// Read copies up to len(p) buffered bytes into p, blocking while the
// ring is empty. After Close it drains remaining data and then
// returns io.EOF.
func (f *FIFO) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for f.n == 0 {
		if f.closed {
			return 0, io.EOF
		}
		f.cond.Wait()
	}
	n := 0
	for n < len(p) && f.n > 0 {
		p[n] = f.buf[f.r]
		f.r = (f.r + 1) % len(f.buf)
		f.n--
		n++
	}
	return n, nil
}

// Len returns the number of buffered bytes.
func (f *FIFO) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.n
}

// Close wakes blocked readers; subsequent writes are discarded.
func (f *FIFO) Close() {
	f.mu.Lock()
	f.closed = true
	f.cond.Broadcast()
	f.mu.Unlock()
}
