// ABOUTME: FLAC file stream
// ABOUTME: Walks mewkiz/flac frames and narrows samples to 16 bits
package decode

import (
	"fmt"
	"io"
	"os"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"

	"github.com/Resonate-Protocol/clockradio-go/pkg/audio"
)

type flacStream struct {
	file     *os.File
	stream   *flac.Stream
	rate     int
	channels int
	depth    int

	// partially consumed frame
	cur *frame.Frame
	pos int
}

func newFLAC(f *os.File) (*flacStream, error) {
	stream, err := flac.New(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode FLAC: %w", err)
	}
	info := stream.Info
	if info.NChannels == 0 || info.BitsPerSample == 0 {
		return nil, fmt.Errorf("%w: FLAC with %d channels, %d bits",
			ErrUnsupported, info.NChannels, info.BitsPerSample)
	}
	return &flacStream{
		file:     f,
		stream:   stream,
		rate:     int(info.SampleRate),
		channels: int(info.NChannels),
		depth:    int(info.BitsPerSample),
	}, nil
}

func (s *flacStream) Read(samples []int16) (int, error) {
	written := 0
	for written+s.channels <= len(samples) {
		if s.cur == nil || s.pos >= int(s.cur.BlockSize) {
			fr, err := s.stream.ParseNext()
			if err == io.EOF {
				if written == 0 {
					return 0, io.EOF
				}
				return written, nil
			}
			if err != nil {
				return written, fmt.Errorf("flac decode error: %w", err)
			}
			s.cur, s.pos = fr, 0
		}

		for ; s.pos < int(s.cur.BlockSize) && written+s.channels <= len(samples); s.pos++ {
			for ch := 0; ch < s.channels; ch++ {
				samples[written] = audio.SampleToInt16(s.cur.Subframes[ch].Samples[s.pos], s.depth)
				written++
			}
		}
	}
	return written, nil
}

func (s *flacStream) SampleRate() int { return s.rate }
func (s *flacStream) Channels() int   { return s.channels }
func (s *flacStream) Close() error    { return s.file.Close() }
