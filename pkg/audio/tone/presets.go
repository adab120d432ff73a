// ABOUTME: Built-in tone sequences for the alarm beep and system notifications
// ABOUTME: Also converts user volume into the softer system-tone volume
package tone

import "time"

// Step is a square-wave sequence entry. Freq 0 is a rest.
type Step struct {
	Freq     uint16
	Duration time.Duration
}

// PluckStep is a pluck sequence entry. Freq 0 is a rest.
type PluckStep struct {
	Freq     uint16
	Duration time.Duration
	Damping  uint16
}

// SystemTone identifies a notification sound.
type SystemTone int

const (
	SystemToneNone SystemTone = iota
	SystemToneBTConnect
	SystemToneBTDisconnect
)

func (t SystemTone) String() string {
	switch t {
	case SystemToneBTConnect:
		return "bt-connect"
	case SystemToneBTDisconnect:
		return "bt-disconnect"
	default:
		return "none"
	}
}

var alarmBeep = []Step{
	{2040, 70 * time.Millisecond}, {0, 60 * time.Millisecond},
	{2040, 70 * time.Millisecond}, {0, 60 * time.Millisecond},
	{2040, 70 * time.Millisecond}, {0, 60 * time.Millisecond},
	{2040, 70 * time.Millisecond}, {0, 300 * time.Millisecond},
}

var btConnect = []PluckStep{
	{440, 85 * time.Millisecond, 32580},
	{0, 20 * time.Millisecond, 32580},
	{660, 120 * time.Millisecond, 32560},
}

var btDisconnect = []PluckStep{
	{660, 90 * time.Millisecond, 32540},
	{0, 20 * time.Millisecond, 32540},
	{392, 130 * time.Millisecond, 32520},
}

// AlarmStepInterval is how often an alarm without a sound file repeats the beep.
const AlarmStepInterval = 950 * time.Millisecond

// SequenceTones converts square steps into commands at volume.
func SequenceTones(steps []Step, volume uint8) []Command {
	cmds := make([]Command, 0, len(steps))
	for _, st := range steps {
		if st.Freq == 0 {
			cmds = append(cmds, Silence{Duration: st.Duration})
			continue
		}
		cmds = append(cmds, Square{Freq: st.Freq, Duration: st.Duration, Volume: volume})
	}
	return cmds
}

// SequencePlucks converts pluck steps into commands at volume.
func SequencePlucks(steps []PluckStep, volume uint8) []Command {
	cmds := make([]Command, 0, len(steps))
	for _, st := range steps {
		cmds = append(cmds, Pluck{Freq: st.Freq, Duration: st.Duration, Volume: volume, Damping: st.Damping})
	}
	return cmds
}

// SequenceChords stamps volume onto each chord.
func SequenceChords(chords []Chord, volume uint8) []Command {
	cmds := make([]Command, 0, len(chords))
	for _, c := range chords {
		c.Volume = volume
		cmds = append(cmds, c)
	}
	return cmds
}

// AlarmBeep is four short 2040 Hz beeps.
func AlarmBeep(volume uint8) []Command {
	return SequenceTones(alarmBeep, volume)
}

// SystemSequence returns the pluck sequence for t at the given user volume.
func SystemSequence(t SystemTone, volume uint8) []Command {
	v := SystemVolume(volume)
	switch t {
	case SystemToneBTConnect:
		return SequencePlucks(btConnect, v)
	case SystemToneBTDisconnect:
		return SequencePlucks(btDisconnect, v)
	default:
		return SequenceTones([]Step{{0, 20 * time.Millisecond}}, v)
	}
}

// SystemVolume keeps notifications softer than music: 35% of volume,
// clamped to 28..96.
func SystemVolume(volume uint8) uint8 {
	scaled := (int(volume)*35 + 50) / 100
	return uint8(min(max(scaled, 28), 96))
}
