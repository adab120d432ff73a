// ABOUTME: Package documentation for the audio engine
// ABOUTME: Describes how producers share the sink through the engine
// Package engine wires the shared audio sink and its producers together.
//
// One Engine owns the ownership arbiter, the EQ'd sink, the Bluetooth jitter
// buffer and its consumer goroutine, the tone synthesizer and the spectrum
// analyzer. Producers acquire ownership before writing:
//
//	e, _ := engine.New(engine.DefaultConfig(), output.NewNullChannel(44100), logger)
//	e.Start(ctx)
//	defer e.Close()
//
//	e.RingWrite(pcm)                           // Bluetooth data path
//	e.PlaySystemTone(tone.SystemToneBTConnect) // preempts Bluetooth
package engine
