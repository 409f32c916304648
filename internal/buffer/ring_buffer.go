// Package buffer provides a bounded buffer of recent terminal output.
package buffer

import (
	"sync"
)

// RingBuffer is a thread-safe circular buffer that keeps the most recent
// bytes written to it up to a fixed capacity. Older bytes are overwritten.
//
// Sessions use it to keep a tail of their output for listings.
type RingBuffer struct {
	mu    sync.RWMutex
	data  []byte
	start int // index of the oldest byte
	size  int // number of valid bytes
	total int64
}

// NewRingBuffer creates a new RingBuffer with the specified capacity.
// The capacity must be greater than 0; if not, it defaults to 1.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &RingBuffer{data: make([]byte, capacity)}
}

// Write appends p, discarding the oldest bytes when full. It never fails.
func (rb *RingBuffer) Write(p []byte) (n int, err error) {
	if len(p) == 0 {
		return 0, nil
	}

	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.total += int64(len(p))
	capacity := len(rb.data)

	if len(p) >= capacity {
		copy(rb.data, p[len(p)-capacity:])
		rb.start = 0
		rb.size = capacity
		return len(p), nil
	}

	end := (rb.start + rb.size) % capacity
	written := copy(rb.data[end:], p)
	copy(rb.data, p[written:])

	rb.size += len(p)
	if rb.size > capacity {
		rb.start = (rb.start + rb.size - capacity) % capacity
		rb.size = capacity
	}

	return len(p), nil
}

// ReadAll returns a copy of the buffered bytes, oldest first.
func (rb *RingBuffer) ReadAll() []byte {
	return rb.Tail(-1)
}

// Tail returns a copy of the newest n bytes. A negative n returns everything.
func (rb *RingBuffer) Tail(n int) []byte {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if rb.size == 0 || n == 0 {
		return nil
	}
	if n < 0 || n > rb.size {
		n = rb.size
	}

	capacity := len(rb.data)
	from := (rb.start + rb.size - n) % capacity
	out := make([]byte, n)
	copied := copy(out, rb.data[from:min(from+n, capacity)])
	copy(out[copied:], rb.data)
	return out
}

// Len returns the current number of bytes in the buffer.
func (rb *RingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.size
}

// Cap returns the capacity of the buffer.
func (rb *RingBuffer) Cap() int {
	return len(rb.data)
}

// Total returns how many bytes were ever written, including overwritten ones.
func (rb *RingBuffer) Total() int64 {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.total
}
