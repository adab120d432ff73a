// ABOUTME: Bluetooth session: jitter buffer lifecycle and the consumer goroutine
// ABOUTME: Drains the ring into the sink with silence on underrun and reset on write failure
package engine

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Resonate-Protocol/clockradio-go/pkg/audio"
	"github.com/Resonate-Protocol/clockradio-go/pkg/audio/ring"
)

const (
	// WriteTimeout bounds each consumer write to the sink.
	WriteTimeout = 50 * time.Millisecond

	// StopPollInterval and StopPollAttempts bound StopBluetooth's wait.
	StopPollInterval = 10 * time.Millisecond
	StopPollAttempts = 50

	// StopSilence is written after the consumer stops.
	StopSilence = 50 * time.Millisecond

	ownerBackoff   = 10 * time.Millisecond
	ownerPoll      = 20 * time.Millisecond
	underrunPause  = 2 * time.Millisecond
	failureBackoff = 10 * time.Millisecond
)

// ErrOwnerBusy is returned when Bluetooth cannot take the sink.
var ErrOwnerBusy = errors.New("engine: sink owned by another producer")

// ShutdownResult reports how StopBluetooth ended.
type ShutdownResult int

const (
	// ShutdownIdle means no consumer was running.
	ShutdownIdle ShutdownResult = iota
	// ShutdownStopped means the consumer exited.
	ShutdownStopped
	// ShutdownTimedOut means the consumer did not exit in time and was left running.
	ShutdownTimedOut
)

func (r ShutdownResult) String() string {
	switch r {
	case ShutdownIdle:
		return "idle"
	case ShutdownStopped:
		return "stopped"
	case ShutdownTimedOut:
		return "timed-out"
	default:
		return "unknown"
	}
}

// ConsumerStats counts consumer activity across sessions.
type ConsumerStats struct {
	Chunks        uint64
	Bytes         uint64
	Silence       uint64
	WriteFailures uint64
	StaleCommits  uint64
}

type bluetooth struct {
	mu      sync.Mutex
	running atomic.Bool
	stop    atomic.Bool
	kick    chan struct{}
	done    chan struct{}
	session atomic.Pointer[string]

	chunks        atomic.Uint64
	bytes         atomic.Uint64
	silence       atomic.Uint64
	writeFailures atomic.Uint64
	staleCommits  atomic.Uint64
}

func (b *bluetooth) init() {
	b.kick = make(chan struct{}, 1)
}

func (b *bluetooth) wake() {
	select {
	case b.kick <- struct{}{}:
	default:
	}
}

func (b *bluetooth) sessionID() string {
	if p := b.session.Load(); p != nil {
		return *p
	}
	return ""
}

func (b *bluetooth) stats() ConsumerStats {
	return ConsumerStats{
		Chunks:        b.chunks.Load(),
		Bytes:         b.bytes.Load(),
		Silence:       b.silence.Load(),
		WriteFailures: b.writeFailures.Load(),
		StaleCommits:  b.staleCommits.Load(),
	}
}

// ReserveRing allocates the jitter buffer if it does not exist yet. The
// size is raised to the minimum tier and capped by the available memory.
func (e *Engine) ReserveRing(size int) error {
	if e.ring.Load() != nil {
		return nil
	}
	r, err := ring.Reserve(size, e.cfg.AvailableMemory)
	if err != nil {
		e.logger.Warn().
			Int("requested", size).
			Int("available", e.cfg.AvailableMemory).
			Msg("ring reserve failed")
		return fmt.Errorf("reserve ring: %w", err)
	}
	if !e.ring.CompareAndSwap(nil, r) {
		return nil
	}
	e.logger.Info().Int("capacity", r.Capacity()).Msg("ring reserved")
	e.bt.wake()
	return nil
}

// ReleaseRing frees the jitter buffer. A running consumer sees an empty ring
// and outputs silence until a new one is reserved.
func (e *Engine) ReleaseRing() {
	if r := e.ring.Swap(nil); r != nil {
		r.Reset()
		e.logger.Info().Msg("ring released")
	}
}

// ResetRing empties the jitter buffer and returns it to prefetching.
func (e *Engine) ResetRing() {
	if r := e.ring.Load(); r != nil {
		r.Reset()
	}
}

// Ring returns the current jitter buffer, or nil.
func (e *Engine) Ring() *ring.Buffer {
	return e.ring.Load()
}

// RingWrite pushes Bluetooth PCM into the jitter buffer and returns the
// bytes kept. It starts the consumer first if it is not running.
func (e *Engine) RingWrite(p []byte) int {
	if len(p) == 0 {
		return 0
	}
	if !e.BluetoothRunning() {
		e.ResetRing()
		if err := e.StartBluetooth(); err != nil {
			e.logger.Debug().Err(err).Msg("bluetooth start from data path failed")
		}
	}
	r := e.ring.Load()
	if r == nil {
		return 0
	}
	return r.Write(p)
}

// ConfigureCodec applies the stream sample rate to the sink and the analyzer.
func (e *Engine) ConfigureCodec(sampleRate int) error {
	if err := e.sink.SetSampleRate(sampleRate); err != nil {
		return fmt.Errorf("configure codec: %w", err)
	}
	e.spectrum.SetSampleRate(sampleRate)
	e.logger.Info().Int("rate", sampleRate).Msg("codec configured")
	return nil
}

// BluetoothRunning reports whether the consumer goroutine is alive.
func (e *Engine) BluetoothRunning() bool {
	return e.bt.running.Load()
}

// StartBluetooth takes the sink for Bluetooth without preempting, makes
// sure a ring exists and starts the consumer.
func (e *Engine) StartBluetooth() error {
	e.bt.mu.Lock()
	defer e.bt.mu.Unlock()

	if !e.owner.Acquire(audio.OwnerBluetooth, false) {
		e.logger.Warn().Stringer("owner", e.owner.Get()).Msg("bluetooth start skipped, sink busy")
		return ErrOwnerBusy
	}
	e.spectrum.Reset()
	e.bt.stop.Store(false)

	if err := e.ReserveRing(e.cfg.RingBytes); err != nil {
		e.owner.Release(audio.OwnerBluetooth)
		return err
	}
	if err := e.sink.Reset(); err != nil {
		e.logger.Warn().Err(err).Msg("sink reset failed")
	}
	e.ResetRing()

	if !e.bt.running.Load() {
		id := uuid.NewString()
		e.bt.session.Store(&id)
		e.bt.done = make(chan struct{})
		e.bt.running.Store(true)

		logger := e.logger.With().Str("session", id).Logger()
		go e.consume(logger, e.bt.done)
		logger.Info().Msg("bluetooth consumer started")
	}

	e.bt.wake()
	return nil
}

// StopBluetooth asks the consumer to exit and waits a bounded time for it.
// A consumer that does not exit is left running and reported as timed out.
func (e *Engine) StopBluetooth() ShutdownResult {
	e.bt.mu.Lock()
	defer e.bt.mu.Unlock()

	e.spectrum.Reset()

	result := ShutdownIdle
	if e.bt.running.Load() {
		e.bt.stop.Store(true)
		e.bt.wake()

		result = ShutdownStopped
		if !waitDone(e.bt.done, StopPollAttempts, StopPollInterval) {
			result = ShutdownTimedOut
			e.logger.Warn().Str("session", e.bt.sessionID()).Msg("bluetooth consumer stop timed out, leaving it running")
		}
	}

	e.sink.WriteSilence(StopSilence)
	e.owner.Release(audio.OwnerBluetooth)
	e.logger.Info().Stringer("result", result).Msg("bluetooth stopped")
	return result
}

// waitDone polls done up to attempts times.
func waitDone(done <-chan struct{}, attempts int, interval time.Duration) bool {
	for i := 0; i < attempts; i++ {
		select {
		case <-done:
			return true
		case <-time.After(interval):
		}
	}
	return false
}

func (e *Engine) consume(logger zerolog.Logger, done chan struct{}) {
	defer func() {
		e.bt.stop.Store(false)
		e.bt.running.Store(false)
		close(done)
		logger.Info().Msg("bluetooth consumer exited")
	}()

	buf := make([]byte, ring.ChunkBytes)
	silence := make([]byte, ring.ChunkBytes)
	samples := make([]int16, ring.ChunkBytes/audio.BytesPerSample)

	for {
		if e.bt.stop.Load() {
			return
		}

		var ringWake <-chan struct{}
		if r := e.ring.Load(); r != nil {
			ringWake = r.Wake()
		}
		// a preempting producer never kicks us on release, so poll for the sink
		select {
		case <-e.bt.kick:
		case <-ringWake:
		case <-time.After(ownerPoll):
		}

		if e.bt.stop.Load() {
			return
		}
		if !e.claimSink() {
			time.Sleep(ownerBackoff)
			continue
		}
		e.drain(logger, buf, silence, samples)
	}
}

// claimSink reports whether Bluetooth holds the sink, taking it back without
// preempting when it is free.
func (e *Engine) claimSink() bool {
	switch e.owner.Get() {
	case audio.OwnerBluetooth:
		return true
	case audio.OwnerNone:
		return e.owner.Acquire(audio.OwnerBluetooth, false)
	default:
		return false
	}
}

// drain moves chunks from the ring to the sink until stopped or a write fails.
func (e *Engine) drain(logger zerolog.Logger, buf, silence []byte, samples []int16) {
	for !e.bt.stop.Load() {
		if !e.claimSink() {
			time.Sleep(ownerBackoff)
			continue
		}

		r := e.ring.Load()
		var (
			chunk ring.Chunk
			ok    bool
		)
		if r != nil {
			chunk, ok = r.ReadChunk(buf)
		}
		if !ok {
			e.bt.silence.Add(1)
			e.sink.Write(silence, WriteTimeout)
			time.Sleep(underrunPause)
			continue
		}

		data := chunk.Data
		if r.Muted() {
			clear(data)
		} else if e.spectrum.Enabled() {
			n := audio.BytesToInt16(samples, data)
			e.spectrum.Feed(samples[:n], audio.Channels)
		}
		audio.ApplyVolume(data, e.Volume())

		n, err := e.sink.Write(data, WriteTimeout)
		if err != nil || n == 0 {
			e.bt.writeFailures.Add(1)
			e.writeFailures.Add(1)
			r.RecordError()
			if rerr := e.sink.Reset(); rerr != nil {
				logger.Warn().Err(rerr).Msg("sink reset failed")
			}
			r.Reset()
			logger.Error().Err(err).Int("written", n).Msg("i2s write failed")
			time.Sleep(failureBackoff)
			return
		}

		if !r.Commit(chunk, n) {
			e.bt.staleCommits.Add(1)
			continue
		}
		e.bt.chunks.Add(1)
		e.bt.bytes.Add(uint64(n))
	}
}
