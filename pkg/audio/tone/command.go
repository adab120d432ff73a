// ABOUTME: Tone command variants consumed by the synthesizer task
// ABOUTME: A sealed set of immutable values: silence, square, pluck and chord
package tone

import "time"

// Command is one synthesis request. The set of implementations is closed.
type Command interface {
	Length() time.Duration
	command()
}

// Silence writes zeros for Duration.
type Silence struct {
	Duration time.Duration
}

// Square is a plain square wave.
type Square struct {
	Freq     uint16
	Duration time.Duration
	Volume   uint8
}

// Pluck is a Karplus-Strong plucked string. Damping is Q15.
type Pluck struct {
	Freq     uint16
	Duration time.Duration
	Volume   uint8
	Damping  uint16
}

// Partial is one chord voice. A zero Freq is inactive.
type Partial struct {
	Freq        uint16
	DetuneCents int8
}

// Chord mixes up to three sine partials under an ADSR envelope.
// Sustain is Q15 (32767 = full scale).
type Chord struct {
	Partials [3]Partial
	Attack   time.Duration
	Decay    time.Duration
	Sustain  uint16
	Release  time.Duration
	Duration time.Duration
	Volume   uint8
}

func (c Silence) Length() time.Duration { return c.Duration }
func (c Square) Length() time.Duration  { return c.Duration }
func (c Pluck) Length() time.Duration   { return c.Duration }
func (c Chord) Length() time.Duration   { return c.Duration }

func (Silence) command() {}
func (Square) command()  {}
func (Pluck) command()   {}
func (Chord) command()   {}

// volume of a command, 0 for silence
func volumeOf(cmd Command) uint8 {
	switch c := cmd.(type) {
	case Square:
		return c.Volume
	case Pluck:
		return c.Volume
	case Chord:
		return c.Volume
	default:
		return 0
	}
}
