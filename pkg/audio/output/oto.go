// ABOUTME: Oto-backed PCM channel standing in for the I2S DAC
// ABOUTME: A persistent oto player pulls from the DMA queue; reclocking resamples
package output

import (
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/rs/zerolog"

	"github.com/Resonate-Protocol/clockradio-go/pkg/audio"
	"github.com/Resonate-Protocol/clockradio-go/pkg/audio/resample"
)

// 8 descriptors x 384 frames of I2S DMA.
const otoQueueDuration = 70 * time.Millisecond

// OtoChannel plays PCM through the host sound device.
type OtoChannel struct {
	mu         sync.Mutex
	otoCtx     *oto.Context
	player     *oto.Player
	queue      *dmaQueue
	deviceRate int
	rate       int
	resampler  *resample.Resampler
	in         []int16
	out        []int16
	outBytes   []byte
	logger     zerolog.Logger
}

// NewOtoChannel opens the sound device at sampleRate. The channel starts disabled.
func NewOtoChannel(sampleRate int, logger zerolog.Logger) (*OtoChannel, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}

	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: audio.Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   20 * time.Millisecond,
	}

	otoCtx, readyChan, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("failed to create oto context: %w", err)
	}
	<-readyChan

	c := &OtoChannel{
		otoCtx:     otoCtx,
		queue:      newDMAQueue(dmaBytes(sampleRate, otoQueueDuration)),
		deviceRate: sampleRate,
		rate:       sampleRate,
		logger:     logger.With().Str("component", "oto").Logger(),
	}

	// persistent player that pulls from the DMA queue
	c.player = otoCtx.NewPlayer(c)
	c.player.Play()

	c.logger.Info().Int("rate", sampleRate).Int("channels", audio.Channels).Msg("audio output initialized")
	return c, nil
}

// Read implements io.Reader for the oto player. Underruns are zero-filled.
func (c *OtoChannel) Read(p []byte) (int, error) {
	c.queue.pull(p)
	return len(p), nil
}

func (c *OtoChannel) Enable() error {
	return c.queue.enable()
}

func (c *OtoChannel) Disable() error {
	return c.queue.disable()
}

// Reconfigure changes the source rate. oto only allows one context per
// process, so a rate different from the device rate is resampled.
func (c *OtoChannel) Reconfigure(sampleRate int) error {
	if sampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	if c.queue.isEnabled() {
		return ErrInvalidState
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.rate = sampleRate
	if sampleRate == c.deviceRate {
		c.resampler = nil
		return nil
	}
	c.logger.Warn().Int("device_rate", c.deviceRate).Int("rate", sampleRate).Msg("oto cannot reclock, resampling")
	c.resampler = resample.New(sampleRate, c.deviceRate, audio.Channels)
	return nil
}

func (c *OtoChannel) Write(p []byte, timeout time.Duration) (int, error) {
	c.mu.Lock()
	r := c.resampler
	c.mu.Unlock()

	if r == nil {
		return c.queue.push(p, timeout)
	}

	frames := len(p) / audio.BytesPerFrame
	if frames == 0 {
		return 0, nil
	}
	samples := frames * audio.Channels
	c.in = grow(c.in, samples)
	audio.BytesToInt16(c.in, p[:frames*audio.BytesPerFrame])

	c.out = grow(c.out, r.OutputSamplesNeeded(samples))
	n := r.Resample(c.in[:samples], c.out)

	if need := n * audio.BytesPerSample; cap(c.outBytes) < need {
		c.outBytes = make([]byte, need)
	}
	c.outBytes = c.outBytes[:n*audio.BytesPerSample]
	audio.Int16ToBytes(c.outBytes, c.out[:n])

	written, err := c.queue.push(c.outBytes, timeout)
	if err != nil {
		// report consumed input in proportion to what was queued
		consumed := 0
		if len(c.outBytes) > 0 {
			consumed = frames * written / len(c.outBytes) * audio.BytesPerFrame
		}
		return consumed, err
	}
	return frames * audio.BytesPerFrame, nil
}

// Buffered returns the bytes queued but not yet pulled by the device.
func (c *OtoChannel) Buffered() int {
	return c.queue.buffered()
}

func (c *OtoChannel) Close() error {
	c.queue.close()
	if c.player != nil {
		c.player.Close()
		c.player = nil
	}
	if c.otoCtx != nil {
		if err := c.otoCtx.Suspend(); err != nil {
			return fmt.Errorf("failed to suspend oto context: %w", err)
		}
	}
	return nil
}

func grow(s []int16, n int) []int16 {
	if cap(s) < n {
		return make([]int16, n)
	}
	return s[:n]
}
