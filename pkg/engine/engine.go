// ABOUTME: Audio engine owning the arbiter, sink, jitter buffer, tone synth and spectrum
// ABOUTME: Single instance shared by every producer; exposes the boundary API
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Resonate-Protocol/clockradio-go/pkg/audio"
	"github.com/Resonate-Protocol/clockradio-go/pkg/audio/eq"
	"github.com/Resonate-Protocol/clockradio-go/pkg/audio/output"
	"github.com/Resonate-Protocol/clockradio-go/pkg/audio/owner"
	"github.com/Resonate-Protocol/clockradio-go/pkg/audio/ring"
	"github.com/Resonate-Protocol/clockradio-go/pkg/audio/spectrum"
	"github.com/Resonate-Protocol/clockradio-go/pkg/audio/tone"
)

// ErrNoChannel is returned by New without an output channel.
var ErrNoChannel = errors.New("engine: no output channel")

// Config holds the engine settings.
type Config struct {
	SampleRate int

	// RingBytes is the requested jitter buffer size; AvailableMemory caps
	// which tier can actually be reserved.
	RingBytes       int
	AvailableMemory int

	ToneQueueDepth int
	ToneSeed       uint64

	Volume   uint8
	Bass     uint8
	Treble   uint8
	Spectrum bool
}

// DefaultConfig returns the power-on settings.
func DefaultConfig() Config {
	return Config{
		SampleRate:      audio.DefaultSampleRate,
		RingBytes:       ring.MaxCapacity,
		AvailableMemory: ring.MaxCapacity,
		ToneQueueDepth:  tone.DefaultQueueDepth,
		Volume:          200,
		Bass:            eq.CenterStep,
		Treble:          eq.CenterStep,
	}
}

// Engine is the audio subsystem. Create one per process.
type Engine struct {
	cfg    Config
	logger zerolog.Logger

	owner    *owner.Arbiter
	eq       *eq.Filter
	sink     *output.Sink
	tones    *tone.Synth
	spectrum *spectrum.Analyzer
	volume   atomic.Uint32

	ring atomic.Pointer[ring.Buffer]
	bt   bluetooth

	writeFailures atomic.Uint64
	ownerChanges  atomic.Uint64

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New builds an engine writing to ch. Call Start before submitting tones.
func New(cfg Config, ch output.Channel, logger zerolog.Logger) (*Engine, error) {
	if ch == nil {
		return nil, ErrNoChannel
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.DefaultSampleRate
	}
	if cfg.RingBytes <= 0 {
		cfg.RingBytes = ring.MaxCapacity
	}
	if cfg.AvailableMemory <= 0 {
		cfg.AvailableMemory = ring.MaxCapacity
	}

	e := &Engine{
		cfg:    cfg,
		logger: logger.With().Str("component", "engine").Logger(),
	}

	e.owner = owner.NewArbiter(logger)
	e.owner.OnChange(func(prev, next audio.Owner) {
		e.ownerChanges.Add(1)
		e.logger.Debug().Stringer("from", prev).Stringer("to", next).Msg("owner changed")
	})

	e.eq = eq.NewFilter(cfg.SampleRate)
	e.eq.SetSteps(cfg.Bass, cfg.Treble)
	e.sink = output.NewSink(ch, e.eq, cfg.SampleRate, logger)
	e.tones = tone.New(tone.Config{QueueDepth: cfg.ToneQueueDepth, Seed: cfg.ToneSeed}, e.sink, e.owner, logger)
	e.spectrum = spectrum.New(spectrum.Config{SampleRate: cfg.SampleRate}, logger)
	e.volume.Store(uint32(cfg.Volume))
	e.bt.init()

	return e, nil
}

// Start launches the tone task and, if configured, the spectrum analyzer.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return
	}
	e.started = true

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.tones.Run(runCtx)
	}()

	if e.cfg.Spectrum {
		e.spectrum.Enable(true)
	}
	e.logger.Info().
		Int("rate", e.cfg.SampleRate).
		Uint8("volume", e.Volume()).
		Msg("audio engine started")
}

// Close stops every task and releases the channel.
func (e *Engine) Close() error {
	if e.BluetoothRunning() {
		if res := e.StopBluetooth(); res == ShutdownTimedOut {
			e.logger.Warn().Msg("bluetooth consumer still running at close")
		}
	}
	e.tones.Flush()

	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
	}
	e.mu.Unlock()
	e.wg.Wait()
	e.spectrum.Enable(false)

	if err := e.sink.Close(); err != nil {
		return fmt.Errorf("close sink: %w", err)
	}
	return nil
}

// OwnerAcquire tries to take the sink for o.
func (e *Engine) OwnerAcquire(o audio.Owner, force bool) bool {
	return e.owner.Acquire(o, force)
}

// OwnerRelease drops ownership if o holds the sink.
func (e *Engine) OwnerRelease(o audio.Owner) {
	e.owner.Release(o)
}

// OwnerGet returns the current sink owner.
func (e *Engine) OwnerGet() audio.Owner {
	return e.owner.Get()
}

// I2SWrite writes PCM through the EQ to the channel.
func (e *Engine) I2SWrite(p []byte, timeout time.Duration) (int, error) {
	n, err := e.sink.Write(p, timeout)
	if err != nil {
		e.writeFailures.Add(1)
	}
	return n, err
}

// I2SReset cycles the channel.
func (e *Engine) I2SReset() error {
	return e.sink.Reset()
}

// I2SSetSampleRate reclocks the channel and the EQ.
func (e *Engine) I2SSetSampleRate(hz int) error {
	return e.sink.SetSampleRate(hz)
}

// I2SWriteSilence writes d of zeros regardless of any pending tone stop.
func (e *Engine) I2SWriteSilence(d time.Duration) {
	e.sink.WriteSilence(d)
}

// SampleRate returns the channel rate.
func (e *Engine) SampleRate() int {
	return e.sink.SampleRate()
}

// EqSetSteps sets bass and treble steps (0..30, 15 is flat).
func (e *Engine) EqSetSteps(bass, treble uint8) {
	e.eq.SetSteps(bass, treble)
}

// EqSteps returns the current bass and treble steps.
func (e *Engine) EqSteps() (bass, treble uint8) {
	return e.eq.Steps()
}

// EqIsFlat reports whether the EQ is bypassed.
func (e *Engine) EqIsFlat() bool {
	return e.eq.IsFlat()
}

// TonePlay takes the sink for Tone without preempting and queues cmd.
func (e *Engine) TonePlay(cmd tone.Command) bool {
	if !e.owner.Acquire(audio.OwnerTone, false) {
		return false
	}
	return e.tones.Play(cmd)
}

// ToneSequence queues cmds as one submission under the Tone owner.
func (e *Engine) ToneSequence(cmds []tone.Command) bool {
	if !e.owner.Acquire(audio.OwnerTone, false) {
		return false
	}
	return e.tones.PlaySequence(cmds...)
}

// ToneStop cancels tone playback and releases the Tone owner.
func (e *Engine) ToneStop() {
	e.tones.Stop()
}

// PlaySystemTone plays a notification, preempting a Bluetooth stream.
func (e *Engine) PlaySystemTone(t tone.SystemTone) bool {
	if !e.owner.Acquire(audio.OwnerTone, true) {
		return false
	}
	return e.tones.PlaySequence(tone.SystemSequence(t, e.Volume())...)
}

// PlayAlarmTone takes the sink for Alarm, discards queued tones and renders
// one alarm beep on the calling goroutine.
func (e *Engine) PlayAlarmTone(volume uint8) bool {
	if !e.owner.Acquire(audio.OwnerAlarm, true) {
		return false
	}
	e.tones.Flush()
	e.tones.RenderBlocking(tone.AlarmBeep(volume))
	return true
}

// SpectrumEnable starts or stops the analyzer.
func (e *Engine) SpectrumEnable(on bool) {
	e.spectrum.Enable(on)
}

// SpectrumEnabled reports whether the analyzer runs.
func (e *Engine) SpectrumEnabled() bool {
	return e.spectrum.Enabled()
}

// SpectrumLevels returns the four 0..3 band levels.
func (e *Engine) SpectrumLevels() [spectrum.Bands]uint8 {
	return e.spectrum.Levels()
}

// SetVolume sets the Bluetooth stream volume (0..255).
func (e *Engine) SetVolume(v uint8) {
	e.volume.Store(uint32(v))
}

// Volume returns the stream volume.
func (e *Engine) Volume() uint8 {
	return uint8(e.volume.Load())
}

// Snapshot is a point-in-time view for status displays and metrics.
type Snapshot struct {
	Owner         audio.Owner
	OwnerFailures uint64
	OwnerChanges  uint64

	RingReserved bool
	Ring         ring.Stats

	Bluetooth bool
	Session   string
	Consumer  ConsumerStats

	SampleRate    int
	Volume        uint8
	Bass          uint8
	Treble        uint8
	EQFlat        bool
	WriteFailures uint64

	TonePending  int
	TonesPlayed  uint64
	TonesDropped uint64

	Spectrum        bool
	Levels          [spectrum.Bands]uint8
	SpectrumUpdates uint64
	SpectrumDropped uint64
}

// Snapshot collects the current engine state.
func (e *Engine) Snapshot() Snapshot {
	bass, treble := e.eq.Steps()
	s := Snapshot{
		Owner:           e.owner.Get(),
		OwnerFailures:   e.owner.Failures(),
		OwnerChanges:    e.ownerChanges.Load(),
		Bluetooth:       e.BluetoothRunning(),
		Session:         e.bt.sessionID(),
		Consumer:        e.bt.stats(),
		SampleRate:      e.sink.SampleRate(),
		Volume:          e.Volume(),
		Bass:            bass,
		Treble:          treble,
		EQFlat:          e.eq.IsFlat(),
		WriteFailures:   e.writeFailures.Load(),
		TonePending:     e.tones.Pending(),
		TonesPlayed:     e.tones.Played(),
		TonesDropped:    e.tones.Dropped(),
		Spectrum:        e.spectrum.Enabled(),
		Levels:          e.spectrum.Levels(),
		SpectrumUpdates: e.spectrum.Updates(),
		SpectrumDropped: e.spectrum.Dropped(),
	}
	if r := e.ring.Load(); r != nil {
		s.RingReserved = true
		s.Ring = r.Stats()
	}
	return s
}
