package logging

import (
	"os"
	"sync"
)

// RingBuffer keeps the most recent log output in a fixed amount of memory.
// It implements io.Writer; once full, the oldest bytes make room for new
// ones. The logs overlay and SIGUSR1 crash dumps read it back.
type RingBuffer struct {
	mu  sync.Mutex
	buf []byte
	// head indexes the oldest retained byte; n is how many bytes are held.
	head, n int
}

// NewRingBuffer creates a ring buffer holding up to size bytes.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 4 * 1024 * 1024
	}
	return &RingBuffer{buf: make([]byte, size)}
}

// Write implements io.Writer. It never fails and never blocks on a reader;
// a write larger than the whole buffer keeps only its tail.
func (rb *RingBuffer) Write(p []byte) (int, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	written := len(p)
	capacity := len(rb.buf)

	if written >= capacity {
		copy(rb.buf, p[written-capacity:])
		rb.head, rb.n = 0, capacity
		return written, nil
	}

	tail := (rb.head + rb.n) % capacity
	first := copy(rb.buf[tail:], p)
	copy(rb.buf, p[first:])

	rb.n += written
	if rb.n > capacity {
		rb.head = (rb.head + rb.n - capacity) % capacity
		rb.n = capacity
	}
	return written, nil
}

// Bytes returns the retained bytes in write order.
func (rb *RingBuffer) Bytes() []byte {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	out := make([]byte, rb.n)
	end := rb.head + rb.n
	if end <= len(rb.buf) {
		copy(out, rb.buf[rb.head:end])
	} else {
		first := copy(out, rb.buf[rb.head:])
		copy(out[first:], rb.buf[:end-len(rb.buf)])
	}
	return out
}

// DumpToFile writes the retained bytes to path.
func (rb *RingBuffer) DumpToFile(path string) error {
	return os.WriteFile(path, rb.Bytes(), 0o644)
}
