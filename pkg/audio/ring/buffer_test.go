// ABOUTME: Tests for the jitter buffer
// ABOUTME: Covers tier selection, thresholds, flow-control transitions and the generation guard
package ring

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wakeCount(b *Buffer) int {
	n := 0
	for {
		select {
		case <-b.Wake():
			n++
		default:
			return n
		}
	}
}

func TestReserveTiers(t *testing.T) {
	tests := []struct {
		name      string
		requested int
		available int
		expected  int
		err       error
	}{
		{"full size", 64 * 1024, 1 << 20, 64 * 1024, nil},
		{"memory limited", 64 * 1024, 50 * 1024, 48 * 1024, nil},
		{"request limited", 40 * 1024, 1 << 20, 32 * 1024, nil},
		{"request raised to minimum", 1024, 1 << 20, 24 * 1024, nil},
		{"exactly minimum", 64 * 1024, 24 * 1024, 24 * 1024, nil},
		{"no memory", 64 * 1024, 24*1024 - 1, 0, ErrNoMemory},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Reserve(tt.requested, tt.available)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				assert.Nil(t, b)
				return
			}
			require.NoError(t, err)
			if b.Capacity() != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, b.Capacity())
			}
		})
	}
}

func TestThresholds(t *testing.T) {
	tests := []struct {
		capacity int
		prefetch int
		resume   int
		packets  int
	}{
		{64 * 1024, 40 * 1024, 24 * 1024, 12},
		{48 * 1024, 36 * 1024, 24 * 1024, 12},
		{32 * 1024, 24 * 1024, 16 * 1024, 8},
		{24 * 1024, 18 * 1024, 12 * 1024, 6},
		{16 * 1024, 12 * 1024, 8 * 1024, 4},
		{4 * 1024, ChunkBytes * 4, 2 * 1024, 4},
	}

	for _, tt := range tests {
		s := New(tt.capacity).Stats()
		assert.Equal(t, tt.prefetch, s.PrefetchBytes, "prefetch for %d", tt.capacity)
		assert.Equal(t, tt.resume, s.ResumeBytes, "resume for %d", tt.capacity)
		assert.Equal(t, tt.packets, s.PacketTarget, "packets for %d", tt.capacity)
		assert.Less(t, s.ResumeBytes, s.PrefetchBytes)
	}
}

func TestOverflowByOneResetsOnce(t *testing.T) {
	b := New(MinCapacity)
	n := b.Write(make([]byte, MinCapacity+1))

	s := b.Stats()
	assert.Equal(t, 0, n)
	assert.Equal(t, uint64(1), s.Resets)
	assert.Equal(t, 0, s.Count)
	assert.Equal(t, ModePrefetching, s.Mode)
	assert.Equal(t, uint64(1), s.Errors)
	assert.Equal(t, 0, wakeCount(b), "reset must not leave a wake for a discarded transition")
}

func TestTruncatedWriteAfterPartialFillDoesNotWake(t *testing.T) {
	b := New(MinCapacity)
	require.Equal(t, ChunkBytes, b.Write(make([]byte, ChunkBytes)))
	require.Equal(t, ModePrefetching, b.Stats().Mode)

	n := b.Write(make([]byte, MinCapacity))
	s := b.Stats()
	assert.Equal(t, 0, n)
	assert.Equal(t, ModePrefetching, s.Mode)
	assert.Equal(t, 0, s.Count)
	assert.Equal(t, 0, wakeCount(b))
}

func TestWriteUpToCapacityNeverResets(t *testing.T) {
	for _, size := range []int{1, ChunkBytes, MinCapacity - 1, MinCapacity} {
		b := New(MinCapacity)
		n := b.Write(make([]byte, size))
		s := b.Stats()
		assert.Equal(t, size, n)
		assert.Equal(t, uint64(0), s.Resets, "size %d", size)
		assert.Equal(t, size, s.Count)
	}
}

func TestExactFillEntersDropping(t *testing.T) {
	b := New(MinCapacity)
	require.Equal(t, MinCapacity, b.Write(make([]byte, MinCapacity)))
	assert.Equal(t, ModeDropping, b.Stats().Mode)

	// still above resume: the next write is refused with a reset
	assert.Equal(t, 0, b.Write([]byte{1}))
	s := b.Stats()
	assert.Equal(t, ModePrefetching, s.Mode)
	assert.Equal(t, uint64(1), s.Resets)
}

func TestDroppingResumesAfterDrain(t *testing.T) {
	b := New(MinCapacity)
	require.Equal(t, MinCapacity, b.Write(make([]byte, MinCapacity)))
	resume := b.Stats().ResumeBytes

	dst := make([]byte, ChunkBytes)
	for b.Stats().Count > resume {
		c, ok := b.ReadChunk(dst)
		require.True(t, ok)
		require.True(t, b.Commit(c, len(c.Data)))
	}

	s := b.Stats()
	assert.Equal(t, ModeProcessing, s.Mode)
	assert.False(t, s.Muted)
	assert.Equal(t, 100, b.Write(make([]byte, 100)))
}

func TestPrefetchTransitionFiresOnce(t *testing.T) {
	for _, calls := range []int{1, 2, 5, 10} {
		b := New(MaxCapacity)
		prefetch := b.Stats().PrefetchBytes
		require.LessOrEqual(t, calls, b.Stats().PacketTarget)

		per := prefetch / calls
		written := 0
		transitions := 0
		for i := 0; i < calls; i++ {
			size := per
			if i == calls-1 {
				size = prefetch - written
			}
			before := b.Stats().Mode
			require.Equal(t, size, b.Write(make([]byte, size)))
			written += size
			if before == ModePrefetching && b.Stats().Mode == ModeProcessing {
				transitions++
			}
		}

		assert.Equal(t, 1, transitions, "calls=%d", calls)
		assert.Equal(t, ModeProcessing, b.Stats().Mode)
		assert.Equal(t, 1, wakeCount(b), "calls=%d", calls)
	}
}

func TestPacketTargetScenario(t *testing.T) {
	b, err := Reserve(64*1024, 1<<20)
	require.NoError(t, err)

	packet := make([]byte, 3400)
	for i := 1; i <= 11; i++ {
		require.Equal(t, len(packet), b.Write(packet))
		require.Equal(t, ModePrefetching, b.Stats().Mode, "after packet %d", i)
	}
	assert.Equal(t, 0, wakeCount(b))

	require.Equal(t, len(packet), b.Write(packet))
	assert.Equal(t, ModeProcessing, b.Stats().Mode)
	assert.Equal(t, 1, wakeCount(b))
}

func TestReadChunkPrefetching(t *testing.T) {
	b := New(MinCapacity)
	b.Write(make([]byte, 100))
	_, ok := b.ReadChunk(make([]byte, ChunkBytes))
	assert.False(t, ok)
	assert.Equal(t, uint64(0), b.Stats().Errors)
}

func TestUnderrunRevertsToPrefetching(t *testing.T) {
	b := New(MinCapacity)
	prefetch := b.Stats().PrefetchBytes
	require.Equal(t, prefetch, b.Write(make([]byte, prefetch)))

	dst := make([]byte, ChunkBytes)
	for {
		c, ok := b.ReadChunk(dst)
		if !ok {
			break
		}
		b.Commit(c, len(c.Data))
	}

	s := b.Stats()
	assert.Equal(t, ModePrefetching, s.Mode)
	assert.True(t, s.Muted)
	assert.Equal(t, uint64(1), s.Errors)
	assert.Equal(t, uint64(0), s.Resets)
}

func TestReadChunkWrapsAround(t *testing.T) {
	b := New(MinCapacity)
	filler := make([]byte, MinCapacity-500)
	require.Equal(t, len(filler), b.Write(filler))

	dst := make([]byte, ChunkBytes)
	for b.Stats().Count > 0 {
		c, ok := b.ReadChunk(dst)
		require.True(t, ok)
		b.Commit(c, len(c.Data))
	}

	payload := bytes.Repeat([]byte{1, 2, 3, 4, 5}, 200)
	require.Equal(t, len(payload), b.Write(payload))
	require.Equal(t, ModeProcessing, b.Stats().Mode)

	c, ok := b.ReadChunk(dst)
	require.True(t, ok)
	assert.Equal(t, payload, c.Data)
}

func TestCommitStaleGenerationIgnored(t *testing.T) {
	b := New(MinCapacity)
	prefetch := b.Stats().PrefetchBytes
	b.Write(make([]byte, prefetch))

	c, ok := b.ReadChunk(make([]byte, ChunkBytes))
	require.True(t, ok)

	b.Reset()
	b.Write(make([]byte, 1000))
	assert.False(t, b.Commit(c, len(c.Data)))
	assert.Equal(t, 1000, b.Stats().Count)
}

func TestResetBumpsGenerationAndMutes(t *testing.T) {
	b := New(MinCapacity)
	b.Write(make([]byte, b.Stats().PrefetchBytes))
	require.False(t, b.Stats().Muted)

	gen := b.Stats().Generation
	b.Reset()
	s := b.Stats()
	assert.Equal(t, gen+1, s.Generation)
	assert.True(t, s.Muted)
	assert.Equal(t, 0, s.Count)
	assert.Equal(t, ModePrefetching, s.Mode)
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "prefetching", ModePrefetching.String())
	assert.Equal(t, "processing", ModeProcessing.String())
	assert.Equal(t, "dropping", ModeDropping.String())
}
