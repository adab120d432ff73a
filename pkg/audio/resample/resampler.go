// ABOUTME: Streaming linear resampler for 16-bit interleaved PCM
// ABOUTME: Carries the last frame across calls so chunk boundaries stay continuous
package resample

// Resampler performs linear interpolation to convert between sample rates
type Resampler struct {
	inputRate  int
	outputRate int
	channels   int
	ratio      float64
	position   float64 // relative to the first available frame
	prev       []int16 // last frame of the previous call
	primed     bool
}

// New creates a new resampler
func New(inputRate, outputRate, channels int) *Resampler {
	return &Resampler{
		inputRate:  inputRate,
		outputRate: outputRate,
		channels:   channels,
		ratio:      float64(inputRate) / float64(outputRate),
		prev:       make([]int16, channels),
	}
}

// Resample converts interleaved input at inputRate into output at
// outputRate and returns the number of output samples written.
func (r *Resampler) Resample(input []int16, output []int16) int {
	inputFrames := len(input) / r.channels
	if inputFrames == 0 {
		return 0
	}

	// frame 0 is the carried frame when primed
	total := inputFrames
	if r.primed {
		total++
	}
	frame := func(j, ch int) int16 {
		if r.primed {
			if j == 0 {
				return r.prev[ch]
			}
			j--
		}
		return input[j*r.channels+ch]
	}

	outputFrames := len(output) / r.channels
	outIdx := 0
	for outIdx < outputFrames {
		idx := int(r.position)
		if idx >= total-1 {
			break
		}
		frac := r.position - float64(idx)
		for ch := 0; ch < r.channels; ch++ {
			s1 := float64(frame(idx, ch))
			s2 := float64(frame(idx+1, ch))
			output[outIdx*r.channels+ch] = int16(s1*(1.0-frac) + s2*frac)
		}
		outIdx++
		r.position += r.ratio
	}

	r.position -= float64(total - 1)
	if r.position < 0 {
		r.position = 0
	}
	copy(r.prev, input[(inputFrames-1)*r.channels:inputFrames*r.channels])
	r.primed = true

	return outIdx * r.channels
}

// Reset resets the resampler state
func (r *Resampler) Reset() {
	r.position = 0
	r.primed = false
	clear(r.prev)
}

// OutputSamplesNeeded returns an output buffer size large enough for one
// Resample call with inputSamples of input.
func (r *Resampler) OutputSamplesNeeded(inputSamples int) int {
	inputFrames := inputSamples/r.channels + 1
	outputFrames := int(float64(inputFrames)/r.ratio) + 2
	return outputFrames * r.channels
}
