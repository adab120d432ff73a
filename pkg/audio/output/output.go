// ABOUTME: PCM channel interface and the bounded DMA queue behind concrete channels
// ABOUTME: A Channel models an I2S-style TX peripheral with timed writes
package output

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrInvalidState is returned when a channel is used in the wrong state,
	// e.g. enabling an enabled channel or writing to a disabled one.
	ErrInvalidState = errors.New("output: invalid channel state")

	// ErrTimeout is returned when a write could not be fully queued in time.
	ErrTimeout = errors.New("output: write timeout")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("output: channel closed")
)

// Channel is a stereo 16-bit PCM transmit channel.
type Channel interface {
	// Enable starts the clock. Enabling an enabled channel returns ErrInvalidState.
	Enable() error

	// Disable stops the clock and drops queued data. Disabling a disabled
	// channel returns ErrInvalidState.
	Disable() error

	// Reconfigure changes the sample rate. The channel must be disabled.
	Reconfigure(sampleRate int) error

	// Write queues little-endian interleaved PCM, waiting at most timeout for
	// space. It returns the number of bytes accepted.
	Write(p []byte, timeout time.Duration) (int, error)

	// Close releases the channel.
	Close() error
}

// dmaQueue is the bounded byte FIFO between a writer and a pulling device.
type dmaQueue struct {
	mu      sync.Mutex
	buf     []byte
	head    int
	count   int
	enabled bool
	closed  bool
	space   chan struct{}
}

func newDMAQueue(capacity int) *dmaQueue {
	return &dmaQueue{
		buf:   make([]byte, capacity),
		space: make(chan struct{}, 1),
	}
}

func (q *dmaQueue) enable() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	if q.enabled {
		return ErrInvalidState
	}
	q.enabled = true
	return nil
}

func (q *dmaQueue) disable() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	if !q.enabled {
		return ErrInvalidState
	}
	q.enabled = false
	q.head = 0
	q.count = 0
	q.signal()
	return nil
}

func (q *dmaQueue) isEnabled() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.enabled
}

func (q *dmaQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.enabled = false
	q.signal()
	q.mu.Unlock()
}

// push copies p into the queue, blocking up to timeout for space.
func (q *dmaQueue) push(p []byte, timeout time.Duration) (int, error) {
	var timer *time.Timer
	written := 0

	for written < len(p) {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return written, ErrClosed
		}
		if !q.enabled {
			q.mu.Unlock()
			return written, ErrInvalidState
		}
		written += q.copyIn(p[written:])
		q.mu.Unlock()

		if written == len(p) {
			break
		}

		if timer == nil {
			timer = time.NewTimer(timeout)
			defer timer.Stop()
		}
		select {
		case <-q.space:
		case <-timer.C:
			return written, ErrTimeout
		}
	}
	return written, nil
}

// copyIn must be called with mu held.
func (q *dmaQueue) copyIn(p []byte) int {
	capacity := len(q.buf)
	n := 0
	for n < len(p) && q.count < capacity {
		tail := (q.head + q.count) % capacity
		run := capacity - tail
		if free := capacity - q.count; run > free {
			run = free
		}
		if rem := len(p) - n; run > rem {
			run = rem
		}
		copy(q.buf[tail:tail+run], p[n:n+run])
		q.count += run
		n += run
	}
	return n
}

// pull fills dst with queued bytes and zero-fills any underrun. It returns
// the number of real bytes delivered.
func (q *dmaQueue) pull(dst []byte) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	capacity := len(q.buf)
	n := 0
	for n < len(dst) && q.count > 0 {
		run := capacity - q.head
		if run > q.count {
			run = q.count
		}
		if rem := len(dst) - n; run > rem {
			run = rem
		}
		copy(dst[n:n+run], q.buf[q.head:q.head+run])
		q.head = (q.head + run) % capacity
		q.count -= run
		n += run
	}
	clear(dst[n:])
	if n > 0 {
		q.signal()
	}
	return n
}

func (q *dmaQueue) buffered() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

func (q *dmaQueue) signal() {
	select {
	case q.space <- struct{}{}:
	default:
	}
}

// dmaBytes sizes a queue to hold the given duration at sampleRate.
func dmaBytes(sampleRate int, d time.Duration) int {
	frames := int(int64(sampleRate) * int64(d) / int64(time.Second))
	if frames < 256 {
		frames = 256
	}
	return frames * 4
}
