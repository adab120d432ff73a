// ABOUTME: Audio fundamentals shared by the clock-radio engine
// ABOUTME: Defines Format, Owner and 16-bit PCM helpers
// Package audio provides the basic types used throughout the clock-radio engine.
//
// The sink is always interleaved stereo, signed 16-bit little-endian PCM.
// Producers exchange raw byte slices in that layout:
//   - Format: describes a PCM stream (sample rate, channels, bit depth)
//   - Owner: which producer currently holds the sink
//
// Example:
//
//	buf := make([]byte, len(samples)*audio.BytesPerSample)
//	audio.Int16ToBytes(buf, samples)
//	audio.ApplyVolume(buf, 200)
package audio
