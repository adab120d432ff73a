// ABOUTME: Tests for alarm playback
// ABOUTME: Covers the built-in beep fallback, file looping, repeat cycles and stop
package player

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Resonate-Protocol/clockradio-go/pkg/audio"
)

func TestAlarmConfigNormalized(t *testing.T) {
	tests := []struct {
		name string
		in   AlarmConfig
		want AlarmConfig
	}{
		{
			"defaults",
			AlarmConfig{},
			AlarmConfig{PlayFor: DefaultAlarmPlayFor, Repeats: 1, RepeatEvery: DefaultAlarmRepeatEvery},
		},
		{
			"repeats capped",
			AlarmConfig{PlayFor: time.Second, Repeats: 9, RepeatEvery: time.Minute},
			AlarmConfig{PlayFor: time.Second, Repeats: MaxAlarmRepeats, RepeatEvery: time.Minute},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.normalized())
		})
	}
}

func TestAlarmBuiltInBeep(t *testing.T) {
	eng := newFakeEngine()
	a := NewAlarm(eng, zerolog.Nop())

	require.NoError(t, a.Start(context.Background(), AlarmConfig{Volume: 180, PlayFor: 5 * time.Second}))
	require.Eventually(t, func() bool {
		return a.Beeps() >= 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.True(t, a.Active())
	assert.Equal(t, audio.OwnerAlarm, eng.OwnerGet())

	err := a.Start(context.Background(), AlarmConfig{})
	assert.True(t, errors.Is(err, ErrAlarmActive))

	a.Stop()
	assert.False(t, a.Active())
	assert.Equal(t, audio.OwnerNone, eng.OwnerGet())
	assert.Positive(t, eng.toneStops.Load())

	eng.mu.Lock()
	defer eng.mu.Unlock()
	assert.GreaterOrEqual(t, eng.silence, AlarmStopSilence)
	assert.Positive(t, eng.resets)
}

func TestAlarmPreemptsBluetooth(t *testing.T) {
	eng := newFakeEngine()
	require.True(t, eng.arb.Acquire(audio.OwnerBluetooth, false))
	a := NewAlarm(eng, zerolog.Nop())

	require.NoError(t, a.Start(context.Background(), AlarmConfig{PlayFor: 5 * time.Second}))
	require.Eventually(t, func() bool {
		return eng.OwnerGet() == audio.OwnerAlarm
	}, 2*time.Second, 5*time.Millisecond)
	a.Stop()
}

func TestAlarmLoopsFile(t *testing.T) {
	dir := t.TempDir()
	path := writeWAV(t, dir, "alarm.wav", 8000, 2, 200, 1000)

	eng := newFakeEngine()
	eng.writeDelay = time.Millisecond
	a := NewAlarm(eng, zerolog.Nop())

	require.NoError(t, a.Start(context.Background(), AlarmConfig{Path: path, Volume: 255, PlayFor: 150 * time.Millisecond}))
	require.Eventually(t, func() bool {
		return !a.Active()
	}, 3*time.Second, 5*time.Millisecond)

	assert.GreaterOrEqual(t, eng.written(), 2*200*audio.BytesPerFrame, "file looped at least twice")
	assert.Zero(t, a.Beeps())
	assert.Equal(t, audio.OwnerNone, eng.OwnerGet())
	assert.Contains(t, eng.sampleRates(), 8000)
}

func TestAlarmFallsBackToBeep(t *testing.T) {
	eng := newFakeEngine()
	a := NewAlarm(eng, zerolog.Nop())

	cfg := AlarmConfig{Path: filepath.Join(t.TempDir(), "missing.mp3"), PlayFor: 5 * time.Second}
	require.NoError(t, a.Start(context.Background(), cfg))
	require.Eventually(t, func() bool {
		return eng.alarmTones.Load() >= 1
	}, 2*time.Second, 5*time.Millisecond)
	a.Stop()
	assert.Zero(t, eng.written())
}

func TestAlarmRepeatCycles(t *testing.T) {
	eng := newFakeEngine()
	a := NewAlarm(eng, zerolog.Nop())

	cfg := AlarmConfig{PlayFor: 30 * time.Millisecond, Repeats: 3, RepeatEvery: 60 * time.Millisecond}
	require.NoError(t, a.Start(context.Background(), cfg))
	require.Eventually(t, func() bool {
		return !a.Active()
	}, 3*time.Second, 5*time.Millisecond)

	assert.Equal(t, uint64(3), a.Cycles())
	assert.Equal(t, uint64(3), a.Beeps())
	assert.Equal(t, audio.OwnerNone, eng.OwnerGet())
}

func TestAlarmStopWhenIdle(t *testing.T) {
	eng := newFakeEngine()
	a := NewAlarm(eng, zerolog.Nop())
	a.Stop()
	assert.False(t, a.Active())
	assert.Equal(t, audio.OwnerNone, eng.OwnerGet())
}
