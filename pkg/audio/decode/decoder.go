// ABOUTME: Stream interface and file opener for the player decoders
// ABOUTME: Picks the decoder from the file extension
package decode

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnsupported is returned for file types or sample formats no decoder handles.
var ErrUnsupported = errors.New("unsupported audio format")

// Stream produces interleaved 16-bit PCM.
type Stream interface {
	// Read fills samples and returns the number written. It returns io.EOF
	// once the stream is exhausted.
	Read(samples []int16) (int, error)
	SampleRate() int
	Channels() int
	Close() error
}

// Open opens path with the decoder matching its extension.
func Open(path string) (Stream, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".mp3", ".wav", ".flac":
	default:
		return nil, fmt.Errorf("%w: %s (supported: .mp3, .wav, .flac)", ErrUnsupported, ext)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}

	var s Stream
	switch ext {
	case ".mp3":
		s, err = newMP3(f)
	case ".wav":
		s, err = newWAV(f)
	case ".flac":
		s, err = newFLAC(f)
	}
	if err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}
