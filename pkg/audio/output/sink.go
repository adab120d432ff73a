// ABOUTME: The shared PCM sink every producer writes through
// ABOUTME: Serializes channel access, lazily enables it and applies the EQ inline
package output

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Resonate-Protocol/clockradio-go/pkg/audio"
	"github.com/Resonate-Protocol/clockradio-go/pkg/audio/eq"
)

const (
	// EQChunkFrames is the block size the EQ processes per channel write.
	EQChunkFrames = 256

	silenceTimeout = 50 * time.Millisecond
)

var (
	ErrNotReady    = errors.New("output: sink not ready")
	ErrInvalidRate = errors.New("output: invalid sample rate")
)

// Sink owns the single output channel.
type Sink struct {
	mu      sync.Mutex
	ch      Channel
	enabled bool
	rate    int
	eq      *eq.Filter
	scratch []int16
	block   []byte
	logger  zerolog.Logger
}

// NewSink wraps ch. The channel is enabled on first write.
func NewSink(ch Channel, filter *eq.Filter, sampleRate int, logger zerolog.Logger) *Sink {
	if filter == nil {
		filter = eq.NewFilter(sampleRate)
	}
	if sampleRate <= 0 {
		sampleRate = audio.DefaultSampleRate
	}
	filter.SetSampleRate(sampleRate)
	return &Sink{
		ch:      ch,
		rate:    sampleRate,
		eq:      filter,
		scratch: make([]int16, EQChunkFrames*audio.Channels),
		block:   make([]byte, EQChunkFrames*audio.BytesPerFrame),
		logger:  logger.With().Str("component", "i2s").Logger(),
	}
}

// EQ returns the inline filter.
func (s *Sink) EQ() *eq.Filter {
	return s.eq
}

// SampleRate returns the current channel rate.
func (s *Sink) SampleRate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rate
}

// Write sends interleaved stereo PCM to the channel, filtering it through
// the EQ unless the EQ is flat. It stops at the first error, zero-length or
// short channel write and returns the bytes accepted so far.
func (s *Sink) Write(p []byte, timeout time.Duration) (int, error) {
	if s.ch == nil {
		return 0, ErrNotReady
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureEnabled(); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}

	if s.eq.IsFlat() {
		n, err := s.ch.Write(p, timeout)
		if err != nil {
			s.logger.Warn().Err(err).Int("written", n).Msg("i2s write failed")
			return n, fmt.Errorf("channel write: %w", err)
		}
		return n, nil
	}

	total := 0
	for len(p) > 0 {
		frames := len(p) / audio.BytesPerFrame
		if frames == 0 {
			// trailing partial frame goes out unfiltered
			n, err := s.ch.Write(p, timeout)
			total += n
			if err != nil {
				s.logger.Warn().Err(err).Msg("i2s write failed")
				return total, fmt.Errorf("channel write: %w", err)
			}
			break
		}
		if frames > EQChunkFrames {
			frames = EQChunkFrames
		}
		chunkBytes := frames * audio.BytesPerFrame
		samples := s.scratch[:frames*audio.Channels]
		audio.BytesToInt16(samples, p[:chunkBytes])
		s.eq.Process(samples, audio.Channels)
		audio.Int16ToBytes(s.block, samples)

		n, err := s.ch.Write(s.block[:chunkBytes], timeout)
		total += n
		if err != nil {
			s.logger.Warn().Err(err).Int("written", total).Msg("i2s write failed")
			return total, fmt.Errorf("channel write: %w", err)
		}
		if n < chunkBytes {
			break
		}
		p = p[chunkBytes:]
	}
	return total, nil
}

// Reset disables and re-enables the channel, dropping anything queued.
func (s *Sink) Reset() error {
	if s.ch == nil {
		return ErrNotReady
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := tolerate(s.ch.Disable()); err != nil {
		return fmt.Errorf("disable channel: %w", err)
	}
	s.enabled = false
	err := s.ch.Enable()
	if err := tolerate(err); err != nil {
		return fmt.Errorf("enable channel: %w", err)
	}
	s.enabled = err == nil
	return nil
}

// SetSampleRate reclocks the channel and redesigns the EQ for the new rate.
func (s *Sink) SetSampleRate(sampleRate int) error {
	if s.ch == nil {
		return ErrNotReady
	}
	if sampleRate <= 0 {
		return ErrInvalidRate
	}

	s.mu.Lock()
	if err := tolerate(s.ch.Disable()); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("disable channel: %w", err)
	}
	s.enabled = false
	if err := s.ch.Reconfigure(sampleRate); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("reconfigure channel to %d Hz: %w", sampleRate, err)
	}
	s.rate = sampleRate
	err := s.ch.Enable()
	if err := tolerate(err); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("enable channel: %w", err)
	}
	s.enabled = err == nil
	s.mu.Unlock()

	s.eq.SetSampleRate(sampleRate)
	s.logger.Debug().Int("rate", sampleRate).Msg("sample rate set")
	return nil
}

// WriteSilence writes d worth of zeros in EQ-sized chunks.
func (s *Sink) WriteSilence(d time.Duration) {
	if s.ch == nil || d <= 0 {
		return
	}
	zeros := make([]byte, EQChunkFrames*audio.BytesPerFrame)
	frames := int(int64(s.SampleRate()) * int64(d) / int64(time.Second))
	for frames > 0 {
		n := frames
		if n > EQChunkFrames {
			n = EQChunkFrames
		}
		if _, err := s.Write(zeros[:n*audio.BytesPerFrame], silenceTimeout); err != nil {
			return
		}
		frames -= n
	}
}

// Close releases the channel.
func (s *Sink) Close() error {
	if s.ch == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = false
	return s.ch.Close()
}

func (s *Sink) ensureEnabled() error {
	if s.enabled {
		return nil
	}
	if err := tolerate(s.ch.Enable()); err != nil {
		return fmt.Errorf("enable channel: %w", err)
	}
	s.enabled = true
	return nil
}

func tolerate(err error) error {
	if errors.Is(err, ErrInvalidState) {
		return nil
	}
	return err
}
