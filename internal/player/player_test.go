// ABOUTME: Tests for the folder player task
// ABOUTME: Drives the player against a recording engine with WAV fixtures
package player

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Resonate-Protocol/clockradio-go/pkg/audio"
	"github.com/Resonate-Protocol/clockradio-go/pkg/audio/owner"
)

// fakeEngine records sink writes and arbitrates with a real Arbiter.
type fakeEngine struct {
	arb *owner.Arbiter

	mu      sync.Mutex
	data    []byte
	rates   []int
	silence time.Duration
	resets  int

	writeDelay time.Duration
	attempts   atomic.Int32
	toneStops  atomic.Int32
	alarmTones atomic.Int32
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{arb: owner.NewArbiter(zerolog.Nop())}
}

func (f *fakeEngine) OwnerAcquire(o audio.Owner, force bool) bool {
	f.attempts.Add(1)
	return f.arb.Acquire(o, force)
}

func (f *fakeEngine) OwnerRelease(o audio.Owner) { f.arb.Release(o) }
func (f *fakeEngine) OwnerGet() audio.Owner      { return f.arb.Get() }

func (f *fakeEngine) I2SSetSampleRate(hz int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rates = append(f.rates, hz)
	return nil
}

func (f *fakeEngine) I2SWrite(p []byte, timeout time.Duration) (int, error) {
	if f.writeDelay > 0 {
		time.Sleep(f.writeDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data = append(f.data, p...)
	return len(p), nil
}

func (f *fakeEngine) I2SWriteSilence(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.silence += d
}

func (f *fakeEngine) I2SReset() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	return nil
}

func (f *fakeEngine) ToneStop() { f.toneStops.Add(1) }

func (f *fakeEngine) PlayAlarmTone(volume uint8) bool {
	if !f.arb.Acquire(audio.OwnerAlarm, true) {
		return false
	}
	f.alarmTones.Add(1)
	return true
}

func (f *fakeEngine) bytes() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.data...)
}

func (f *fakeEngine) written() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.data)
}

func (f *fakeEngine) sampleRates() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.rates...)
}

func writeWAV(t *testing.T, dir, name string, rate, channels, frames int, value int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)

	data := make([]int, frames*channels)
	for i := range data {
		data[i] = value
	}
	enc := wav.NewEncoder(f, rate, 16, channels, 1)
	require.NoError(t, enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())
	return path
}

func startPlayer(t *testing.T, cfg Config, eng *fakeEngine) *Player {
	t.Helper()
	p := New(cfg, eng, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return p
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "playing", StatePlaying.String())
	assert.Equal(t, "paused", StatePaused.String())
}

func TestPlayerPlaysFolder(t *testing.T) {
	dir := t.TempDir()
	writeWAV(t, dir, "a.wav", 8000, 1, 1000, 100)
	writeWAV(t, dir, "b.wav", 16000, 2, 500, 100)

	eng := newFakeEngine()
	eng.writeDelay = time.Millisecond
	p := startPlayer(t, Config{Folder: dir}, eng)

	p.Play()
	require.Eventually(t, func() bool {
		return p.TracksPlayed() >= 2
	}, 3*time.Second, 5*time.Millisecond)

	rates := eng.sampleRates()
	assert.Contains(t, rates, 8000)
	assert.Contains(t, rates, 16000)

	// a.wav upmixes to 1000 stereo frames, b.wav carries 500
	assert.GreaterOrEqual(t, eng.written(), 1500*audio.BytesPerFrame)

	p.Stop()
	require.Eventually(t, func() bool {
		return p.State() == StateStopped && eng.OwnerGet() == audio.OwnerNone
	}, 2*time.Second, 5*time.Millisecond)
	assert.Positive(t, eng.toneStops.Load())
}

func TestPlayerRefusesBusySink(t *testing.T) {
	dir := t.TempDir()
	path := writeWAV(t, dir, "a.wav", 8000, 1, 1000, 100)

	eng := newFakeEngine()
	require.True(t, eng.arb.Acquire(audio.OwnerBluetooth, false))
	p := startPlayer(t, Config{}, eng)

	p.PlayFile(path)
	require.Eventually(t, func() bool {
		return eng.attempts.Load() > 0 && p.State() == StateStopped
	}, 2*time.Second, 5*time.Millisecond)

	assert.Zero(t, eng.written())
	assert.Equal(t, audio.OwnerBluetooth, eng.OwnerGet())
}

func TestPlayerPreemptedByAlarm(t *testing.T) {
	dir := t.TempDir()
	path := writeWAV(t, dir, "long.wav", 8000, 1, 20000, 100)

	eng := newFakeEngine()
	eng.writeDelay = 5 * time.Millisecond
	p := startPlayer(t, Config{}, eng)

	p.PlayFile(path)
	require.Eventually(t, func() bool {
		return eng.written() > 0
	}, 2*time.Second, 5*time.Millisecond)

	require.True(t, eng.arb.Acquire(audio.OwnerAlarm, true))
	require.Eventually(t, func() bool {
		return p.State() == StateStopped
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, audio.OwnerAlarm, eng.OwnerGet())
}

func TestPlayerPauseResume(t *testing.T) {
	dir := t.TempDir()
	path := writeWAV(t, dir, "long.wav", 8000, 1, 20000, 100)

	eng := newFakeEngine()
	eng.writeDelay = 5 * time.Millisecond
	p := startPlayer(t, Config{}, eng)

	p.PlayFile(path)
	require.Eventually(t, func() bool {
		return eng.written() > 0
	}, 2*time.Second, 5*time.Millisecond)

	p.Pause()
	require.Eventually(t, func() bool {
		return p.State() == StatePaused
	}, 2*time.Second, 5*time.Millisecond)
	paused := eng.written()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, paused, eng.written(), "no writes while paused")
	assert.Equal(t, audio.OwnerPlayer, eng.OwnerGet(), "pause keeps the sink")

	p.Play()
	require.Eventually(t, func() bool {
		return eng.written() > paused
	}, 2*time.Second, 5*time.Millisecond)
	assert.Positive(t, p.Elapsed())
}

func TestPlayerSkipsUndecodableTracks(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.wav"), []byte("not a wav file"), 0o644))
	writeWAV(t, dir, "b.wav", 8000, 2, 400, 100)

	eng := newFakeEngine()
	p := startPlayer(t, Config{Folder: dir, Repeat: RepeatAll}, eng)

	p.Play()
	require.Eventually(t, func() bool {
		return p.TracksPlayed() >= 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Positive(t, eng.written())
}

func TestPlayerStopsWhenNothingPlays(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.wav"), []byte("not a wav file"), 0o644))

	eng := newFakeEngine()
	p := startPlayer(t, Config{Folder: dir}, eng)

	p.Play()
	require.Eventually(t, func() bool {
		return eng.attempts.Load() > 0 && p.State() == StateStopped
	}, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, p.TracksPlayed())
	assert.Equal(t, audio.OwnerNone, eng.OwnerGet())
}

func TestPlayerSetRepeat(t *testing.T) {
	eng := newFakeEngine()
	p := startPlayer(t, Config{}, eng)

	p.SetRepeat(RepeatShuffle)
	require.Eventually(t, func() bool {
		return p.Repeat() == RepeatShuffle
	}, time.Second, 5*time.Millisecond)

	p.SetVolume(10)
	assert.Equal(t, uint8(10), p.Volume())
}
