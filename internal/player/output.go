// ABOUTME: PCM output stage shared by the file player and the alarm
// ABOUTME: Upmixes decoded samples to stereo, applies volume and writes to the engine
package player

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/clockradio-go/pkg/audio"
)

// Engine is the part of the audio engine a file producer needs.
type Engine interface {
	OwnerAcquire(o audio.Owner, force bool) bool
	OwnerRelease(o audio.Owner)
	OwnerGet() audio.Owner
	I2SSetSampleRate(hz int) error
	I2SWrite(p []byte, timeout time.Duration) (int, error)
	I2SWriteSilence(d time.Duration)
	I2SReset() error
	ToneStop()
	PlayAlarmTone(volume uint8) bool
}

const (
	// ReadBytes is the size of one decoded read.
	ReadBytes = 1024

	// WriteTimeout bounds each write to the sink.
	WriteTimeout = 100 * time.Millisecond
)

// output turns decoded reads into sink writes.
type output struct {
	eng    Engine
	volume atomic.Uint32
	muted  atomic.Bool

	stereo []int16
	pcm    []byte
}

func newOutput(eng Engine, volume uint8) *output {
	o := &output{
		eng:    eng,
		stereo: make([]int16, ReadBytes),
		pcm:    make([]byte, ReadBytes*audio.BytesPerSample),
	}
	o.volume.Store(uint32(volume))
	return o
}

// SetVolume sets the volume (0-255)
func (o *output) SetVolume(volume uint8) {
	o.volume.Store(uint32(volume))
}

// SetMuted sets mute state
func (o *output) SetMuted(muted bool) {
	o.muted.Store(muted)
}

// Volume returns current volume
func (o *output) Volume() uint8 {
	return uint8(o.volume.Load())
}

// IsMuted returns mute state
func (o *output) IsMuted() bool {
	return o.muted.Load()
}

// write converts samples (interleaved with the given channel count) to stereo
// and writes them to the sink. It returns the frames written.
func (o *output) write(samples []int16, channels int) (int, error) {
	frames := audio.ToStereo(o.stereo, samples, channels)
	if frames == 0 {
		return 0, nil
	}
	n := audio.Int16ToBytes(o.pcm, o.stereo[:frames*audio.Channels])
	audio.ApplyVolume(o.pcm[:n], effectiveVolume(o.Volume(), o.IsMuted()))

	written, err := o.eng.I2SWrite(o.pcm[:n], WriteTimeout)
	if err != nil {
		return written / audio.BytesPerFrame, fmt.Errorf("sink write: %w", err)
	}
	return written / audio.BytesPerFrame, nil
}

// effectiveVolume folds mute into the volume
func effectiveVolume(volume uint8, muted bool) uint8 {
	if muted {
		return 0
	}
	return volume
}
