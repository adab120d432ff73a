// ABOUTME: Jitter buffer between the Bluetooth data callback and the sink consumer
// ABOUTME: Byte ring with prefetch/processing/dropping flow control and a generation guard
package ring

import (
	"errors"
	"sync"
)

const (
	// MinCapacity is the smallest buffer tier.
	MinCapacity = 24 * 1024

	// MaxCapacity is the largest buffer tier.
	MaxCapacity = 64 * 1024

	// ChunkBytes is one consumer read: 240 stereo frames x 6.
	ChunkBytes = 240 * 6

	prefetchStartBytes = 40 * 1024
	resumeWaterLevel   = 24 * 1024
	prefetchPackets    = 12
)

// Tiers are tried largest first.
var Tiers = []int{64 * 1024, 48 * 1024, 32 * 1024, 24 * 1024}

// ErrNoMemory is returned when no tier fits in the available memory.
var ErrNoMemory = errors.New("ring: not enough memory for any buffer tier")

// Mode is the flow-control state.
type Mode int

const (
	// ModePrefetching buffers without playing until the prefetch threshold.
	ModePrefetching Mode = iota
	// ModeProcessing plays while buffering.
	ModeProcessing
	// ModeDropping plays without buffering until the level falls to resume.
	ModeDropping
)

func (m Mode) String() string {
	switch m {
	case ModePrefetching:
		return "prefetching"
	case ModeProcessing:
		return "processing"
	case ModeDropping:
		return "dropping"
	default:
		return "unknown"
	}
}

// Chunk is a copy of buffered bytes plus the generation it was read under.
type Chunk struct {
	Data       []byte
	Generation uint64
}

// Stats is a point-in-time view of the buffer.
type Stats struct {
	Capacity      int
	Count         int
	Mode          Mode
	Generation    uint64
	Errors        uint64
	Resets        uint64
	Muted         bool
	PrefetchBytes int
	ResumeBytes   int
	PacketTarget  int
}

// Buffer is the jitter buffer. All state is guarded by one mutex that is
// never held across a sink write.
type Buffer struct {
	mu sync.Mutex

	storage []byte
	head    int
	tail    int
	count   int
	mode    Mode
	packets int
	gen     uint64
	muted   bool

	prefetchBytes int
	resumeBytes   int
	packetTarget  int

	errors uint64
	resets uint64

	wake chan struct{}
}

// SelectTier returns the largest tier not exceeding limit, or 0.
func SelectTier(limit int) int {
	for _, size := range Tiers {
		if size <= limit {
			return size
		}
	}
	return 0
}

// Reserve allocates a buffer of the largest tier that fits both the request
// (raised to MinCapacity) and the available memory.
func Reserve(requested, available int) (*Buffer, error) {
	if requested < MinCapacity {
		requested = MinCapacity
	}
	if available < MinCapacity {
		return nil, ErrNoMemory
	}
	limit := requested
	if available < limit {
		limit = available
	}
	size := SelectTier(limit)
	if size == 0 {
		return nil, ErrNoMemory
	}
	return New(size), nil
}

// New creates a buffer of exactly capacity bytes in Prefetching mode.
func New(capacity int) *Buffer {
	b := &Buffer{
		storage: make([]byte, capacity),
		mode:    ModePrefetching,
		muted:   true,
		wake:    make(chan struct{}, 1),
	}
	b.prefetchBytes, b.resumeBytes, b.packetTarget = thresholds(capacity)
	return b
}

func thresholds(capacity int) (prefetch, resume, packets int) {
	prefetch = prefetchStartBytes
	if prefetch > capacity*3/4 {
		prefetch = capacity * 3 / 4
	}
	if prefetch < ChunkBytes*4 {
		prefetch = ChunkBytes * 4
	}

	resume = resumeWaterLevel
	if resume > capacity/2 {
		resume = capacity / 2
	}
	if resume < ChunkBytes {
		resume = ChunkBytes
	}
	if resume >= prefetch {
		resume = prefetch / 2
		if resume < ChunkBytes {
			resume = ChunkBytes
		}
	}

	packets = prefetchPackets
	switch {
	case capacity < 24*1024:
		packets = 4
	case capacity < 32*1024:
		packets = 6
	case capacity < 48*1024:
		packets = 8
	}
	return prefetch, resume, packets
}

// Capacity returns the buffer size in bytes.
func (b *Buffer) Capacity() int {
	return len(b.storage)
}

// Wake is signalled once per Prefetching to Processing transition.
func (b *Buffer) Wake() <-chan struct{} {
	return b.wake
}

// Signal gives the wake semaphore without a mode change. Repeated signals
// collapse into one.
func (b *Buffer) Signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// Write appends p and returns the number of bytes kept. It never blocks
// beyond the buffer mutex. Overflow and Dropping-mode exceedance reset the
// buffer and return 0.
func (b *Buffer) Write(p []byte) int {
	if len(p) == 0 {
		return 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	capacity := len(b.storage)

	if b.mode == ModeDropping {
		if b.count <= b.resumeBytes {
			b.mode = ModeProcessing
			b.muted = false
		} else {
			b.errors++
			b.resetLocked()
			return 0
		}
	}

	free := capacity - b.count
	if free == 0 {
		b.errors++
		b.resetLocked()
		return 0
	}

	n := len(p)
	if n > free {
		n = free
	}
	first := capacity - b.head
	if first > n {
		first = n
	}
	copy(b.storage[b.head:b.head+first], p[:first])
	copy(b.storage, p[first:n])
	b.head = (b.head + n) % capacity
	b.count += n

	if n < len(p) {
		// saturated with input still pending; no transition survives the reset
		b.errors++
		b.resetLocked()
		return 0
	}

	if b.mode == ModePrefetching {
		b.packets++
		if b.count >= b.prefetchBytes || b.packets >= b.packetTarget {
			b.mode = ModeProcessing
			b.packets = 0
			b.muted = false
			b.Signal()
		}
	}

	if b.count == capacity {
		b.mode = ModeDropping
	}
	return n
}

// ReadChunk copies up to ChunkBytes (bounded by len(dst)) into dst. It
// reports false while prefetching or on underrun; an underrun reverts the
// buffer to Prefetching, mutes it and counts an error.
func (b *Buffer) ReadChunk(dst []byte) (Chunk, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.mode == ModePrefetching {
		return Chunk{Generation: b.gen}, false
	}
	if b.count == 0 {
		b.mode = ModePrefetching
		b.packets = 0
		b.errors++
		b.muted = true
		return Chunk{Generation: b.gen}, false
	}

	n := b.count
	if n > ChunkBytes {
		n = ChunkBytes
	}
	if n > len(dst) {
		n = len(dst)
	}

	capacity := len(b.storage)
	first := capacity - b.tail
	if first > n {
		first = n
	}
	copy(dst[:first], b.storage[b.tail:b.tail+first])
	copy(dst[first:n], b.storage[:n-first])

	return Chunk{Data: dst[:n], Generation: b.gen}, true
}

// Commit releases n bytes of c after they were written to the sink. A chunk
// read before a reset is ignored.
func (b *Buffer) Commit(c Chunk, n int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c.Generation != b.gen {
		return false
	}
	if n > len(c.Data) {
		n = len(c.Data)
	}
	if n > b.count {
		n = b.count
	}
	if n <= 0 {
		return false
	}

	b.tail = (b.tail + n) % len(b.storage)
	b.count -= n

	if b.mode == ModeDropping && b.count <= b.resumeBytes {
		b.mode = ModeProcessing
		b.muted = false
	}
	return true
}

// Reset empties the buffer, returns it to Prefetching and bumps the generation.
func (b *Buffer) Reset() {
	b.mu.Lock()
	b.resetLocked()
	b.mu.Unlock()
}

func (b *Buffer) resetLocked() {
	b.head = 0
	b.tail = 0
	b.count = 0
	b.packets = 0
	b.mode = ModePrefetching
	b.gen++
	b.muted = true
	b.resets++
}

// SetMuted overrides the mute flag, e.g. after a sink write failure.
func (b *Buffer) SetMuted(muted bool) {
	b.mu.Lock()
	b.muted = muted
	b.mu.Unlock()
}

// Muted reports whether the consumer should output zeros.
func (b *Buffer) Muted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.muted
}

// RecordError counts a fault detected outside the buffer, e.g. a sink failure.
func (b *Buffer) RecordError() {
	b.mu.Lock()
	b.errors++
	b.mu.Unlock()
}

// Stats returns a snapshot of the buffer state.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Capacity:      len(b.storage),
		Count:         b.count,
		Mode:          b.mode,
		Generation:    b.gen,
		Errors:        b.errors,
		Resets:        b.resets,
		Muted:         b.muted,
		PrefetchBytes: b.prefetchBytes,
		ResumeBytes:   b.resumeBytes,
		PacketTarget:  b.packetTarget,
	}
}
