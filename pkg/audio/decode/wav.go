// ABOUTME: WAV file stream
// ABOUTME: Reads PCM blocks through go-audio/wav and narrows them to 16 bits
package decode

import (
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/Resonate-Protocol/clockradio-go/pkg/audio"
)

type wavStream struct {
	file     *os.File
	decoder  *wav.Decoder
	buf      *goaudio.IntBuffer
	rate     int
	channels int
	depth    int
}

func newWAV(f *os.File) (*wavStream, error) {
	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		return nil, fmt.Errorf("invalid WAV file: %w", ErrUnsupported)
	}
	if err := decoder.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("failed to seek to PCM data: %w", err)
	}

	depth := int(decoder.BitDepth)
	switch depth {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("%w: %d-bit WAV", ErrUnsupported, depth)
	}

	return &wavStream{
		file:     f,
		decoder:  decoder,
		buf:      &goaudio.IntBuffer{Format: decoder.Format(), SourceBitDepth: depth},
		rate:     int(decoder.SampleRate),
		channels: int(decoder.NumChans),
		depth:    depth,
	}, nil
}

func (s *wavStream) Read(samples []int16) (int, error) {
	want := len(samples) - len(samples)%s.channels
	if want == 0 {
		return 0, nil
	}
	if cap(s.buf.Data) < want {
		s.buf.Data = make([]int, want)
	}
	s.buf.Data = s.buf.Data[:want]

	n, err := s.decoder.PCMBuffer(s.buf)
	if err != nil && err != io.EOF {
		return 0, fmt.Errorf("wav decode error: %w", err)
	}
	if n == 0 {
		return 0, io.EOF
	}
	for i := 0; i < n; i++ {
		samples[i] = audio.SampleToInt16(int32(s.buf.Data[i]), s.depth)
	}
	return n, nil
}

func (s *wavStream) SampleRate() int { return s.rate }
func (s *wavStream) Channels() int   { return s.channels }
func (s *wavStream) Close() error    { return s.file.Close() }
