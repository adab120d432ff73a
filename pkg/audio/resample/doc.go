// ABOUTME: Audio resampling package using linear interpolation
// ABOUTME: Converts 16-bit PCM between sample rates across chunk boundaries
// Package resample provides audio sample rate conversion.
//
// Uses linear interpolation for converting between sample rates. The last
// input frame of each call is carried into the next one so a stream can be
// resampled chunk by chunk.
//
// Example:
//
//	r := resample.New(32000, 44100, 2)
//	out := make([]int16, r.OutputSamplesNeeded(len(in)))
//	n := r.Resample(in, out)
package resample
