// ABOUTME: MP3 file stream
// ABOUTME: go-mp3 always yields 16-bit stereo
package decode

import (
	"fmt"
	"io"
	"os"

	"github.com/hajimehoshi/go-mp3"

	"github.com/Resonate-Protocol/clockradio-go/pkg/audio"
)

type mp3Stream struct {
	file    *os.File
	decoder *mp3.Decoder
	buf     []byte
}

func newMP3(f *os.File) (*mp3Stream, error) {
	decoder, err := mp3.NewDecoder(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode MP3: %w", err)
	}
	return &mp3Stream{file: f, decoder: decoder}, nil
}

func (s *mp3Stream) Read(samples []int16) (int, error) {
	need := len(samples) * audio.BytesPerSample
	if cap(s.buf) < need {
		s.buf = make([]byte, need)
	}
	buf := s.buf[:need]

	n, err := io.ReadFull(s.decoder, buf)
	got := audio.BytesToInt16(samples, buf[:n])
	switch {
	case err == io.ErrUnexpectedEOF:
		return got, nil
	case err == io.EOF:
		return 0, io.EOF
	case err != nil:
		return got, fmt.Errorf("mp3 decode error: %w", err)
	}
	return got, nil
}

func (s *mp3Stream) SampleRate() int { return s.decoder.SampleRate() }
func (s *mp3Stream) Channels() int   { return audio.Channels }
func (s *mp3Stream) Close() error    { return s.file.Close() }
