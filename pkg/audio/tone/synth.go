// ABOUTME: Tone synthesizer task draining a bounded command queue into the sink
// ABOUTME: Re-checks sink ownership per command and releases it once the queue drains
package tone

import (
	"context"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Resonate-Protocol/clockradio-go/pkg/audio"
)

const (
	// DefaultQueueDepth is the number of pending submissions.
	DefaultQueueDepth = 2

	// TailSilence is written after the last queued command and after sequences.
	TailSilence = 30 * time.Millisecond
)

// Sink is the part of the output sink the synthesizer writes through.
type Sink interface {
	Write(p []byte, timeout time.Duration) (int, error)
	Reset() error
	SampleRate() int
}

// Arbiter is the part of the ownership arbiter the synthesizer needs.
type Arbiter interface {
	Get() audio.Owner
	Release(o audio.Owner)
}

// Config for a Synth.
type Config struct {
	QueueDepth int
	Seed       uint64 // zero picks a random seed
}

// job is one submission: a single command or a whole sequence.
type job []Command

// Synth renders queued tone commands.
type Synth struct {
	sink    Sink
	owner   Arbiter
	queue   chan job
	stop    atomic.Bool
	rngMu   sync.Mutex
	rng     *rand.Rand
	task    *renderer
	dropped atomic.Uint64
	played  atomic.Uint64
	logger  zerolog.Logger
}

// New creates a synthesizer. Call Run to start consuming.
func New(cfg Config, sink Sink, owner Arbiter, logger zerolog.Logger) *Synth {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = DefaultQueueDepth
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	s := &Synth{
		sink:   sink,
		owner:  owner,
		queue:  make(chan job, cfg.QueueDepth),
		rng:    newRNG(seed),
		logger: logger.With().Str("component", "tone").Logger(),
	}
	s.task = newRenderer(s)
	return s
}

// Play enqueues one command without blocking. A full queue drops it.
func (s *Synth) Play(cmd Command) bool {
	if cmd == nil {
		return false
	}
	return s.submit(job{cmd})
}

// PlaySequence clears a pending stop and enqueues cmds followed by a short
// silence as a single submission.
func (s *Synth) PlaySequence(cmds ...Command) bool {
	if len(cmds) == 0 {
		return false
	}
	s.stop.Store(false)
	seq := make(job, 0, len(cmds)+1)
	seq = append(seq, cmds...)
	seq = append(seq, Silence{Duration: TailSilence})
	return s.submit(seq)
}

func (s *Synth) submit(j job) bool {
	select {
	case s.queue <- j:
		return true
	default:
		s.dropped.Add(1)
		s.logger.Warn().Int("commands", len(j)).Msg("tone queue full, dropping")
		return false
	}
}

// Flush requests the current render to stop and discards pending submissions.
func (s *Synth) Flush() {
	s.stop.Store(true)
	for {
		select {
		case <-s.queue:
		default:
			return
		}
	}
}

// Stop cancels playback, queues a short silence and releases the Tone owner.
func (s *Synth) Stop() {
	s.Flush()
	s.submit(job{Silence{Duration: TailSilence}})
	s.owner.Release(audio.OwnerTone)
}

// Dropped returns the number of submissions refused because the queue was full.
func (s *Synth) Dropped() uint64 {
	return s.dropped.Load()
}

// Played returns the number of commands rendered by the task.
func (s *Synth) Played() uint64 {
	return s.played.Load()
}

// Pending returns the number of queued submissions.
func (s *Synth) Pending() int {
	return len(s.queue)
}

// Run drains the queue until ctx is cancelled.
func (s *Synth) Run(ctx context.Context) {
	s.logger.Debug().Msg("tone task started")
	defer s.logger.Debug().Msg("tone task stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case j := <-s.queue:
			s.runJob(j)
		}
	}
}

func (s *Synth) runJob(j job) {
	s.stop.Store(false)

	for i, cmd := range j {
		if i > 0 && s.stop.Load() {
			return
		}

		owner := s.owner.Get()
		if owner != audio.OwnerTone && owner != audio.OwnerAlarm {
			s.logger.Debug().Stringer("owner", owner).Msg("sink not held, skipping tone")
			continue
		}

		s.task.render(cmd)
		s.played.Add(1)

		if i == len(j)-1 && len(s.queue) == 0 {
			s.finish(owner)
		}
	}
}

// finish writes the tail, resets the sink and hands ownership back.
func (s *Synth) finish(owner audio.Owner) {
	s.task.silence(TailSilence)
	if err := s.sink.Reset(); err != nil {
		s.logger.Warn().Err(err).Msg("sink reset failed")
	}
	if owner == audio.OwnerAlarm {
		s.owner.Release(audio.OwnerAlarm)
	} else {
		s.owner.Release(audio.OwnerTone)
	}
}

// RenderBlocking renders cmds on the calling goroutine, bypassing the queue.
// It returns early when Flush or Stop is called.
func (s *Synth) RenderBlocking(cmds []Command) {
	s.stop.Store(false)
	r := newRenderer(s)
	for _, cmd := range cmds {
		if s.stop.Load() {
			return
		}
		r.render(cmd)
	}
}
