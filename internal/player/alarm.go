// ABOUTME: Alarm playback: loops a file or the built-in beep as the Alarm owner
// ABOUTME: Runs repeat cycles and restores the sink when stopped
package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Resonate-Protocol/clockradio-go/pkg/audio"
	"github.com/Resonate-Protocol/clockradio-go/pkg/audio/decode"
	"github.com/Resonate-Protocol/clockradio-go/pkg/audio/tone"
)

const (
	DefaultAlarmPlayFor     = 2 * time.Minute
	DefaultAlarmRepeatEvery = 5 * time.Minute
	MaxAlarmRepeats         = 5
	AlarmStopSilence        = 50 * time.Millisecond

	alarmStopWait = time.Second
)

// ErrAlarmActive is returned by Start while an alarm is sounding.
var ErrAlarmActive = errors.New("alarm already active")

var (
	errEmptyFile = errors.New("alarm file produced no audio")
	errSinkLost  = errors.New("alarm lost the sink")
)

// AlarmConfig describes one alarm.
type AlarmConfig struct {
	// Path is the alarm file. Empty uses the built-in beep.
	Path   string
	Volume uint8

	// PlayFor bounds each cycle; Repeats cycles start RepeatEvery apart.
	PlayFor     time.Duration
	Repeats     int
	RepeatEvery time.Duration
}

func (c AlarmConfig) normalized() AlarmConfig {
	if c.PlayFor <= 0 {
		c.PlayFor = DefaultAlarmPlayFor
	}
	if c.RepeatEvery <= 0 {
		c.RepeatEvery = DefaultAlarmRepeatEvery
	}
	if c.Repeats < 1 {
		c.Repeats = 1
	}
	if c.Repeats > MaxAlarmRepeats {
		c.Repeats = MaxAlarmRepeats
	}
	return c
}

// Alarm sounds an alarm. It preempts every other producer.
type Alarm struct {
	eng    Engine
	logger zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	active  atomic.Bool
	cycles  atomic.Uint64
	beeps   atomic.Uint64
	samples []int16
}

// NewAlarm creates an idle alarm.
func NewAlarm(eng Engine, logger zerolog.Logger) *Alarm {
	return &Alarm{
		eng:     eng,
		logger:  logger.With().Str("component", "alarm").Logger(),
		samples: make([]int16, ReadBytes/audio.BytesPerSample),
	}
}

// Active reports whether an alarm is sounding or waiting for its next cycle.
func (a *Alarm) Active() bool { return a.active.Load() }

// Cycles counts alarm cycles started.
func (a *Alarm) Cycles() uint64 { return a.cycles.Load() }

// Beeps counts built-in beeps played.
func (a *Alarm) Beeps() uint64 { return a.beeps.Load() }

// Start begins sounding cfg on its own goroutine.
func (a *Alarm) Start(ctx context.Context, cfg AlarmConfig) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active.Load() {
		return ErrAlarmActive
	}
	cfg = cfg.normalized()
	if a.cancel != nil {
		a.cancel()
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})
	a.active.Store(true)

	a.logger.Info().
		Str("file", filepath.Base(cfg.Path)).
		Uint8("volume", cfg.Volume).
		Int("repeats", cfg.Repeats).
		Dur("play_for", cfg.PlayFor).
		Msg("alarm started")

	go a.run(runCtx, cfg, a.done)
	return nil
}

// Stop silences the alarm and releases the sink.
func (a *Alarm) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.eng.ToneStop()
	if a.done != nil {
		select {
		case <-a.done:
		case <-time.After(alarmStopWait):
			a.logger.Warn().Msg("alarm task did not exit in time")
		}
		a.done = nil
	}
	a.stopAudio()
	a.active.Store(false)
	a.logger.Info().Msg("alarm stopped")
}

func (a *Alarm) run(ctx context.Context, cfg AlarmConfig, done chan struct{}) {
	defer close(done)
	defer a.active.Store(false)

	for cycle := 0; cycle < cfg.Repeats; cycle++ {
		start := time.Now()
		a.cycles.Add(1)
		a.playCycle(ctx, cfg)
		a.stopAudio()

		if cycle == cfg.Repeats-1 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(cfg.RepeatEvery - time.Since(start)):
		}
	}
}

func (a *Alarm) playCycle(ctx context.Context, cfg AlarmConfig) {
	cycleCtx, cancel := context.WithTimeout(ctx, cfg.PlayFor)
	defer cancel()

	if !a.eng.OwnerAcquire(audio.OwnerAlarm, true) {
		a.logger.Warn().Stringer("owner", a.eng.OwnerGet()).Msg("alarm could not take the sink")
		return
	}
	a.eng.ToneStop()

	if cfg.Path != "" {
		err := a.loopFile(cycleCtx, cfg)
		if err == nil {
			return
		}
		if errors.Is(err, errSinkLost) {
			a.logger.Warn().Stringer("owner", a.eng.OwnerGet()).Msg("alarm preempted")
			return
		}
		a.logger.Warn().Err(err).Msg("alarm file failed, using built-in beep")
	}
	a.loopBeep(cycleCtx, cfg.Volume)
}

// loopFile repeats the file until ctx ends.
func (a *Alarm) loopFile(ctx context.Context, cfg AlarmConfig) error {
	out := newOutput(a.eng, cfg.Volume)
	for ctx.Err() == nil {
		frames, err := a.playOnce(ctx, out, cfg.Path)
		if err != nil {
			return err
		}
		if frames == 0 && ctx.Err() == nil {
			return errEmptyFile
		}
	}
	return nil
}

func (a *Alarm) playOnce(ctx context.Context, out *output, path string) (int, error) {
	s, err := decode.Open(path)
	if err != nil {
		return 0, err
	}
	defer s.Close()

	if err := a.eng.I2SSetSampleRate(s.SampleRate()); err != nil {
		return 0, fmt.Errorf("set sample rate %d: %w", s.SampleRate(), err)
	}

	frames := 0
	for ctx.Err() == nil {
		if a.eng.OwnerGet() != audio.OwnerAlarm {
			return frames, errSinkLost
		}
		n, rerr := s.Read(a.samples)
		if n > 0 {
			w, werr := out.write(a.samples[:n], s.Channels())
			if werr != nil {
				a.logger.Warn().Err(werr).Msg("alarm write failed")
			}
			frames += w
		}
		if errors.Is(rerr, io.EOF) {
			return frames, nil
		}
		if rerr != nil {
			return frames, fmt.Errorf("decode %s: %w", filepath.Base(path), rerr)
		}
	}
	return frames, nil
}

// loopBeep plays the built-in beep every step until ctx ends.
func (a *Alarm) loopBeep(ctx context.Context, volume uint8) {
	for ctx.Err() == nil {
		if !a.eng.PlayAlarmTone(volume) {
			a.logger.Warn().Msg("alarm beep refused")
			return
		}
		a.beeps.Add(1)
		select {
		case <-ctx.Done():
			return
		case <-time.After(tone.AlarmStepInterval):
		}
	}
}

func (a *Alarm) stopAudio() {
	a.eng.ToneStop()
	a.eng.I2SWriteSilence(AlarmStopSilence)
	if err := a.eng.I2SReset(); err != nil {
		a.logger.Warn().Err(err).Msg("sink reset failed")
	}
	a.eng.OwnerRelease(audio.OwnerAlarm)
}
