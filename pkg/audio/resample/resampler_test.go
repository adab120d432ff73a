// ABOUTME: Tests for the streaming resampler
// ABOUTME: Verifies output length ratios and continuity across chunks
package resample

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResampleIdentityRate(t *testing.T) {
	r := New(44100, 44100, 2)
	in := []int16{1, 2, 3, 4, 5, 6, 7, 8}
	out := make([]int16, r.OutputSamplesNeeded(len(in)))
	n := r.Resample(in, out)
	// the last frame is held back until the next call
	assert.Equal(t, []int16{1, 2, 3, 4, 5, 6}, out[:n])
}

func TestResampleUpsampleRatio(t *testing.T) {
	r := New(22050, 44100, 1)
	in := make([]int16, 1000)
	for i := range in {
		in[i] = int16(i * 10)
	}

	total := 0
	for chunk := 0; chunk < 10; chunk++ {
		out := make([]int16, r.OutputSamplesNeeded(len(in)))
		total += r.Resample(in, out)
	}
	assert.InDelta(t, 20000, total, 4)
}

func TestResampleContinuousAcrossChunks(t *testing.T) {
	r := New(32000, 48000, 1)
	ramp := make([]int16, 3200)
	for i := range ramp {
		ramp[i] = int16(i)
	}

	var all []int16
	for off := 0; off < len(ramp); off += 320 {
		out := make([]int16, r.OutputSamplesNeeded(320))
		n := r.Resample(ramp[off:off+320], out)
		all = append(all, out[:n]...)
	}

	for i := 1; i < len(all); i++ {
		step := int(all[i]) - int(all[i-1])
		if step < 0 || step > 1 {
			t.Fatalf("discontinuity at %d: %d -> %d", i, all[i-1], all[i])
		}
	}
}

func TestResampleEmptyInput(t *testing.T) {
	r := New(44100, 48000, 2)
	assert.Equal(t, 0, r.Resample(nil, make([]int16, 10)))
}

func TestReset(t *testing.T) {
	r := New(44100, 44100, 1)
	out := make([]int16, 8)
	r.Resample([]int16{5, 6}, out)
	r.Reset()
	n := r.Resample([]int16{1, 2}, out)
	assert.Equal(t, []int16{1}, out[:n])
}
