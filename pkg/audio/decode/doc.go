// ABOUTME: Audio file decoders for the local player and alarm
// ABOUTME: Provides a Stream interface over MP3, WAV and FLAC files
// Package decode opens audio files as 16-bit interleaved PCM streams.
//
// Supports: MP3 (go-mp3), WAV (go-audio/wav), FLAC (mewkiz/flac)
//
// Example:
//
//	stream, err := decode.Open("alarm.mp3")
//	defer stream.Close()
//	n, err := stream.Read(samples)
package decode
