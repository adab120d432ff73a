// ABOUTME: Audio type definitions shared by every engine component
// ABOUTME: Defines the PCM format, the sink owner enum and sample helpers
package audio

import (
	"encoding/binary"
	"math"
)

const (
	// DefaultSampleRate is the rate the sink starts at before any codec config.
	DefaultSampleRate = 44100

	// Channels is the fixed interleaved channel count of the sink.
	Channels = 2

	// BytesPerSample for signed 16-bit little-endian PCM.
	BytesPerSample = 2

	// BytesPerFrame is one stereo frame.
	BytesPerFrame = Channels * BytesPerSample

	// MaxVolume is unity gain on the 0..255 volume scale.
	MaxVolume = 255
)

// Format describes a PCM stream
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// DefaultFormat is the sink's native format.
func DefaultFormat() Format {
	return Format{SampleRate: DefaultSampleRate, Channels: Channels, BitDepth: 16}
}

// BytesPerFrame returns the interleaved frame size of f.
func (f Format) BytesPerFrame() int {
	return f.Channels * f.BitDepth / 8
}

// Owner identifies which producer currently holds the sink.
type Owner int32

const (
	OwnerNone Owner = iota
	OwnerBluetooth
	OwnerPlayer
	OwnerAlarm
	OwnerTone
)

func (o Owner) String() string {
	switch o {
	case OwnerNone:
		return "none"
	case OwnerBluetooth:
		return "bt"
	case OwnerPlayer:
		return "player"
	case OwnerAlarm:
		return "alarm"
	case OwnerTone:
		return "tone"
	default:
		return "unknown"
	}
}

// SampleToInt16 narrows a sample of the given bit depth to 16 bits.
func SampleToInt16(sample int32, bitDepth int) int16 {
	switch {
	case bitDepth > 16:
		return int16(sample >> (bitDepth - 16))
	case bitDepth < 16:
		return int16(sample << (16 - bitDepth))
	default:
		return int16(sample)
	}
}

// BytesToInt16 decodes little-endian PCM into dst and returns the sample count.
func BytesToInt16(dst []int16, src []byte) int {
	n := len(src) / BytesPerSample
	if n > len(dst) {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		dst[i] = int16(binary.LittleEndian.Uint16(src[i*2:]))
	}
	return n
}

// Int16ToBytes encodes samples as little-endian PCM into dst and returns bytes written.
func Int16ToBytes(dst []byte, src []int16) int {
	n := len(src)
	if n*BytesPerSample > len(dst) {
		n = len(dst) / BytesPerSample
	}
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(src[i]))
	}
	return n * BytesPerSample
}

// ToStereo copies whole frames from src into dst as stereo. Mono is
// duplicated to both sides; extra channels beyond two are dropped.
func ToStereo(dst, src []int16, channels int) int {
	if channels <= 0 {
		return 0
	}
	frames := len(src) / channels
	if limit := len(dst) / Channels; frames > limit {
		frames = limit
	}
	for i := 0; i < frames; i++ {
		left := src[i*channels]
		right := left
		if channels > 1 {
			right = src[i*channels+1]
		}
		dst[i*2] = left
		dst[i*2+1] = right
	}
	return frames
}

// ApplyVolume scales little-endian PCM in place by volume/255.
// Volume 255 leaves the data untouched.
func ApplyVolume(pcm []byte, volume uint8) {
	if volume == MaxVolume {
		return
	}
	for i := 0; i+1 < len(pcm); i += 2 {
		s := int32(int16(binary.LittleEndian.Uint16(pcm[i:])))
		s = s * int32(volume) / MaxVolume
		binary.LittleEndian.PutUint16(pcm[i:], uint16(int16(s)))
	}
}

// ClampInt16 saturates a float sample to the int16 range using
// round-half-to-even.
func ClampInt16(v float64) int16 {
	r := math.RoundToEven(v)
	if r > math.MaxInt16 {
		return math.MaxInt16
	}
	if r < math.MinInt16 {
		return math.MinInt16
	}
	return int16(r)
}
