// ABOUTME: Paced PCM streaming from a decoded file
// ABOUTME: Upmixes to stereo 16-bit and keeps the radio at most Lead ahead of real time
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Resonate-Protocol/clockradio-go/pkg/audio"
	"github.com/Resonate-Protocol/clockradio-go/pkg/audio/decode"
)

const (
	// DefaultLead keeps enough audio queued to cover the radio's prefetch.
	DefaultLead = 300 * time.Millisecond

	// PacketDuration is the audio carried by one binary frame.
	PacketDuration = 20 * time.Millisecond
)

// Result summarizes a finished stream.
type Result struct {
	Frames  int64
	Packets int64
}

// Duration returns the audio time sent at rate.
func (r Result) Duration(rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(r.Frames) * time.Second / time.Duration(rate)
}

// Stream sends s to the radio until EOF or ctx ends.
func (c *Client) Stream(ctx context.Context, s decode.Stream) (Result, error) {
	var res Result
	rate, channels := s.SampleRate(), s.Channels()
	if rate <= 0 || channels <= 0 {
		return res, fmt.Errorf("invalid stream format: %d Hz, %d channels", rate, channels)
	}

	frames := max(rate*int(PacketDuration/time.Millisecond)/1000, 1)
	in := make([]int16, frames*channels)
	stereo := make([]int16, frames*audio.Channels)
	pcm := make([]byte, len(stereo)*audio.BytesPerSample)

	start := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		n, err := s.Read(in)
		if got := audio.ToStereo(stereo, in[:n], channels); got > 0 {
			b := audio.Int16ToBytes(pcm, stereo[:got*audio.Channels])
			if werr := c.WriteAudio(pcm[:b]); werr != nil {
				return res, fmt.Errorf("write audio: %w", werr)
			}
			res.Frames += int64(got)
			res.Packets++

			ahead := res.Duration(rate) - time.Since(start) - c.config.Lead
			if ahead > 0 {
				select {
				case <-time.After(ahead):
				case <-ctx.Done():
					return res, ctx.Err()
				}
			}
		}

		if errors.Is(err, io.EOF) {
			c.logger.Info().Int64("frames", res.Frames).Int64("packets", res.Packets).Msg("stream finished")
			return res, nil
		}
		if err != nil {
			return res, fmt.Errorf("decode: %w", err)
		}
	}
}
