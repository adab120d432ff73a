// ABOUTME: Audio output package wrapping the PCM DAC channel
// ABOUTME: Provides the Channel interface, the EQ-aware Sink and oto/null channels
// Package output provides the single PCM sink every producer writes through.
//
// A Channel is the hardware abstraction (enable, disable, reclock, timed write).
// Sink serializes access to one Channel and runs the shelving EQ inline.
//
// Example:
//
//	ch, err := output.NewOtoChannel(44100, logger)
//	sink := output.NewSink(ch, eq.NewFilter(44100), 44100, logger)
//	n, err := sink.Write(pcm, 50*time.Millisecond)
package output
